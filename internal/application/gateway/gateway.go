// Package gateway serializes approver decisions per claim before they reach
// the workflow engine.
package gateway

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Decider applies one decision inside its own transaction
type Decider interface {
	Decide(ctx context.Context, req workflow.DecisionRequest) (*workflow.DecisionResult, error)
}

// Metrics receives gateway observations
type Metrics interface {
	DecisionObserved(decision, outcome string, elapsed time.Duration)
	InflightAdd(delta float64)
	LocksHeld(n int)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Gateway is the entry point for decisions
type Gateway struct {
	engine      Decider
	locks       *KeyedMutex
	metrics     Metrics
	tracer      trace.Tracer
	logger      Logger
	lockTimeout time.Duration
}

// Option configures a Gateway
type Option func(*Gateway)

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracer sets the tracer used for submission spans
func WithTracer(t trace.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithLockTimeout bounds how long a submission waits for another decision
// on the same claim. Zero waits as long as the caller's context allows.
func WithLockTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.lockTimeout = d }
}

// New creates a Gateway in front of engine
func New(engine Decider, opts ...Option) *Gateway {
	g := &Gateway{
		engine: engine,
		locks:  NewKeyedMutex(),
		tracer: otel.Tracer("github.com/garyjia/expense-approval/gateway"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit applies one decision with at most one decision per claim in flight.
// Waiting for the claim can be cut short by ctx; once the claim lock is held
// the decision runs to completion regardless of ctx cancellation.
func (g *Gateway) Submit(ctx context.Context, claimID, approverID int64, decision entity.Decision, comments string) (res *workflow.DecisionResult, err error) {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "gateway.Submit", trace.WithAttributes(
		attribute.Int64("claim.id", claimID),
		attribute.Int64("approver.id", approverID),
		attribute.String("decision", string(decision)),
	))
	g.inflight(1)
	defer func() {
		g.inflight(-1)
		g.observe(decision, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, domainwf.KindOf(err))
		} else {
			span.SetAttributes(attribute.String("claim.status", string(res.Status)))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	waitCtx := ctx
	if g.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.lockTimeout)
		defer cancel()
	}

	unlock, err := g.locks.Lock(waitCtx, claimID)
	if err != nil {
		return nil, domainwf.Storage("wait for claim "+strconv.FormatInt(claimID, 10), err)
	}
	g.locksHeld()
	defer func() {
		unlock()
		g.locksHeld()
	}()

	res, err = g.engine.Decide(context.WithoutCancel(ctx), workflow.DecisionRequest{
		ClaimID:    claimID,
		ApproverID: approverID,
		Decision:   decision,
		Comments:   comments,
	})
	if err != nil && domainwf.KindOf(err) == "unknown" && g.logger != nil {
		g.logger.Error("Unclassified decision error", "claim_id", claimID, "approver_id", approverID, "error", err)
	}
	return res, err
}

func (g *Gateway) inflight(delta float64) {
	if g.metrics != nil {
		g.metrics.InflightAdd(delta)
	}
}

func (g *Gateway) locksHeld() {
	if g.metrics != nil {
		g.metrics.LocksHeld(g.locks.Len())
	}
}

func (g *Gateway) observe(decision entity.Decision, err error, elapsed time.Duration) {
	if g.metrics != nil {
		g.metrics.DecisionObserved(string(decision), domainwf.KindOf(err), elapsed)
	}
}
