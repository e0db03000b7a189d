// Package memory is a process-local store implementing every persistence
// port. Transactions run one at a time against a private copy of the data
// that replaces the committed copy only when the transaction succeeds.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

type txKey struct{}

type txn struct {
	owner *Store
	data  *state
}

type state struct {
	companies map[int64]*entity.Company
	users     map[int64]*entity.User
	rules     map[int64]*entity.ApprovalRule
	sequences map[int64][]*entity.ApprovalSequenceEntry
	claims    map[int64]*entity.ExpenseClaim
	steps     map[int64]*entity.ApprovalStep
	audit     []*entity.AuditEntry
	lastID    int64
}

func newState() *state {
	return &state{
		companies: make(map[int64]*entity.Company),
		users:     make(map[int64]*entity.User),
		rules:     make(map[int64]*entity.ApprovalRule),
		sequences: make(map[int64][]*entity.ApprovalSequenceEntry),
		claims:    make(map[int64]*entity.ExpenseClaim),
		steps:     make(map[int64]*entity.ApprovalStep),
	}
}

// clone copies maps and slices. Entities are copied by value on the way in
// and out of the store, so pointer sharing between copies is safe.
func (s *state) clone() *state {
	c := &state{
		companies: make(map[int64]*entity.Company, len(s.companies)),
		users:     make(map[int64]*entity.User, len(s.users)),
		rules:     make(map[int64]*entity.ApprovalRule, len(s.rules)),
		sequences: make(map[int64][]*entity.ApprovalSequenceEntry, len(s.sequences)),
		claims:    make(map[int64]*entity.ExpenseClaim, len(s.claims)),
		steps:     make(map[int64]*entity.ApprovalStep, len(s.steps)),
		audit:     append([]*entity.AuditEntry(nil), s.audit...),
		lastID:    s.lastID,
	}
	for k, v := range s.companies {
		c.companies[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k, v := range s.steps {
		c.steps[k] = v
	}
	return c
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Store is the in-memory adapter
type Store struct {
	txMu      sync.Mutex
	mu        sync.RWMutex
	committed *state
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{committed: newState()}
}

// WithTransaction implements port.TransactionManager
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.current(ctx) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return workflow.Storage("begin transaction", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, &txn{owner: s, data: work})); err != nil {
		return err
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

func (s *Store) current(ctx context.Context) *state {
	if t, ok := ctx.Value(txKey{}).(*txn); ok && t.owner == s {
		return t.data
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func(*state) error) error {
	if st := s.current(ctx); st != nil {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.committed)
}

func (s *Store) write(ctx context.Context, fn func(*state) error) error {
	if st := s.current(ctx); st != nil {
		return fn(st)
	}
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		return fn(s.current(ctx))
	})
}

// Close is a no-op kept for symmetry with the SQL adapters
func (s *Store) Close() error {
	return nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", workflow.ErrNotFound, what, id)
}

var _ port.TransactionManager = (*Store)(nil)
