package workflow

import (
	"context"
	"fmt"
	"sort"
)

// GuardFunc decides whether a transition may be taken
type GuardFunc func(ctx context.Context) bool

// StateMachineBuilder collects transitions and produces machines
type StateMachineBuilder interface {
	Configure(state State) StateConfiguration
	Build(initialState State) StateMachine
}

// StateConfiguration declares the outgoing edges of one state
type StateConfiguration interface {
	Permit(trigger Trigger, toState State) StateConfiguration
	PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration
}

type edge struct {
	to    State
	guard GuardFunc
}

// graph maps state -> trigger -> candidate edges, tried in declaration order
type graph map[State]map[Trigger][]edge

func (g graph) clone() graph {
	out := make(graph, len(g))
	for s, byTrigger := range g {
		m := make(map[Trigger][]edge, len(byTrigger))
		for tr, edges := range byTrigger {
			m[tr] = append([]edge(nil), edges...)
		}
		out[s] = m
	}
	return out
}

type builder struct {
	edges graph
}

type stateConfig struct {
	from  State
	edges graph
}

type machine struct {
	current State
	edges   graph
}

// NewBuilder returns an empty builder
func NewBuilder() StateMachineBuilder {
	return &builder{edges: make(graph)}
}

func (b *builder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if _, ok := b.edges[state]; !ok {
		b.edges[state] = make(map[Trigger][]edge)
	}
	return &stateConfig{from: state, edges: b.edges}
}

// Build snapshots the configured graph; later Configure calls do not affect
// machines already built.
func (b *builder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	return &machine{current: initialState, edges: b.edges.clone()}
}

func (c *stateConfig) Permit(trigger Trigger, toState State) StateConfiguration {
	return c.PermitIf(trigger, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	c.edges[c.from][trigger] = append(c.edges[c.from][trigger], edge{to: toState, guard: guard})
	return c
}

func (m *machine) State() State {
	return m.current
}

func (m *machine) CanFire(trigger Trigger) bool {
	return len(m.edges[m.current][trigger]) > 0
}

func (m *machine) Fire(ctx context.Context, trigger Trigger) error {
	edges := m.edges[m.current][trigger]
	if len(edges) == 0 {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trigger, m.current)
	}
	for _, e := range edges {
		if e.guard == nil || e.guard(ctx) {
			m.current = e.to
			return nil
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrGuardFailed, trigger, m.current)
}

func (m *machine) PermittedTriggers() []Trigger {
	triggers := make([]Trigger, 0, len(m.edges[m.current]))
	for tr, edges := range m.edges[m.current] {
		if len(edges) > 0 {
			triggers = append(triggers, tr)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}
