package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/expense-approval/internal/application/audit"
	"github.com/garyjia/expense-approval/internal/application/policy"
	"github.com/garyjia/expense-approval/internal/application/resolver"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/memory"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type fakeMetrics struct {
	mu       sync.Mutex
	outcomes []string
	inflight float64
	maxLocks int
}

func (m *fakeMetrics) DecisionObserved(decision, outcome string, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) InflightAdd(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight += delta
}

func (m *fakeMetrics) LocksHeld(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.maxLocks {
		m.maxLocks = n
	}
}

// overlapDecider fails the test if two decisions for one claim overlap
type overlapDecider struct {
	mu       sync.Mutex
	active   map[int64]int
	overlaps atomic.Int32
	hold     time.Duration
	sawCtx   atomic.Value
}

func (d *overlapDecider) Decide(ctx context.Context, req workflow.DecisionRequest) (*workflow.DecisionResult, error) {
	d.mu.Lock()
	d.active[req.ClaimID]++
	if d.active[req.ClaimID] > 1 {
		d.overlaps.Add(1)
	}
	d.mu.Unlock()

	time.Sleep(d.hold)
	d.sawCtx.Store(ctx.Err() == nil)

	d.mu.Lock()
	d.active[req.ClaimID]--
	d.mu.Unlock()
	return &workflow.DecisionResult{Status: entity.ClaimPending}, nil
}

func TestGateway_SerializesPerClaim(t *testing.T) {
	d := &overlapDecider{active: make(map[int64]int), hold: 2 * time.Millisecond}
	g := New(d)

	var eg errgroup.Group
	for i := 0; i < 16; i++ {
		claim := int64(i%2 + 1)
		approver := int64(i + 10)
		eg.Go(func() error {
			_, err := g.Submit(context.Background(), claim, approver, entity.DecisionApprove, "")
			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.Zero(t, d.overlaps.Load())
	assert.Zero(t, g.locks.Len())
}

// barrierDecider only returns once two different claims are inside Decide
type barrierDecider struct {
	arrived chan int64
	release chan struct{}
}

func (d *barrierDecider) Decide(ctx context.Context, req workflow.DecisionRequest) (*workflow.DecisionResult, error) {
	d.arrived <- req.ClaimID
	<-d.release
	return &workflow.DecisionResult{Status: entity.ClaimPending}, nil
}

func TestGateway_DistinctClaimsRunInParallel(t *testing.T) {
	d := &barrierDecider{arrived: make(chan int64, 2), release: make(chan struct{})}
	g := New(d)

	var eg errgroup.Group
	for _, claim := range []int64{1, 2} {
		claim := claim
		eg.Go(func() error {
			_, err := g.Submit(context.Background(), claim, 10, entity.DecisionApprove, "")
			return err
		})
	}

	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case c := <-d.arrived:
			seen[c] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second claim did not enter while the first was held")
		}
	}
	close(d.release)
	require.NoError(t, eg.Wait())
	assert.Len(t, seen, 2)
}

func TestGateway_AcceptedDecisionIgnoresCancellation(t *testing.T) {
	d := &overlapDecider{active: make(map[int64]int)}
	g := New(d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Submit(ctx, 1, 10, entity.DecisionApprove, "")

	require.NoError(t, err)
	assert.Equal(t, true, d.sawCtx.Load())
}

func TestGateway_LockWaitTimeout(t *testing.T) {
	d := &barrierDecider{arrived: make(chan int64, 2), release: make(chan struct{})}
	metrics := &fakeMetrics{}
	g := New(d, WithLockTimeout(20*time.Millisecond), WithMetrics(metrics))

	done := make(chan error, 1)
	go func() {
		_, err := g.Submit(context.Background(), 1, 10, entity.DecisionApprove, "")
		done <- err
	}()
	<-d.arrived

	_, err := g.Submit(context.Background(), 1, 11, entity.DecisionApprove, "")
	assert.ErrorIs(t, err, domainwf.ErrStorage)
	assert.True(t, domainwf.IsRetryable(err))

	close(d.release)
	require.NoError(t, <-done)

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.ElementsMatch(t, []string{"storage", "ok"}, metrics.outcomes)
	assert.Zero(t, metrics.inflight)
	assert.Equal(t, 1, metrics.maxLocks)
}

type errDecider struct{ err error }

func (d errDecider) Decide(context.Context, workflow.DecisionRequest) (*workflow.DecisionResult, error) {
	return nil, d.err
}

func TestGateway_SpanRecordsOutcome(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	g := New(errDecider{err: domainwf.ErrOutOfOrder}, WithTracer(tp.Tracer("test")), WithLogger(nopLogger{}))

	_, err := g.Submit(context.Background(), 5, 10, entity.DecisionReject, "no")
	require.ErrorIs(t, err, domainwf.ErrOutOfOrder)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "gateway.Submit", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "out_of_order", spans[0].Status().Description)
}

func newEngine(t *testing.T, mode entity.RuleMode, threshold int64, approvers ...int64) (workflow.Engine, int64) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	require.NoError(t, store.CreateRule(ctx, &entity.ApprovalRule{
		CompanyID: 1, Mode: mode, ApprovalLevels: len(approvers),
		PercentageThreshold: decimal.NewFromInt(threshold), IsActive: true,
	}))
	entries := make([]*entity.ApprovalSequenceEntry, len(approvers))
	for i, a := range approvers {
		id := a
		entries[i] = &entity.ApprovalSequenceEntry{UserID: &id, SequenceOrder: i + 1, IsRequired: true}
	}
	require.NoError(t, store.ReplaceSequence(ctx, 1, entries))

	engine := workflow.NewEngine(store, policy.NewRepository(store, nopLogger{}), resolver.New(store), audit.NewRecorder(store), store)
	res, err := engine.Submit(ctx, workflow.SubmitRequest{
		CompanyID: 1, SubmitterID: 100, Category: "travel", Currency: "USD",
		Amount: decimal.NewFromInt(80), ConvertedAmount: decimal.NewFromInt(80),
	})
	require.NoError(t, err)
	return engine, res.ClaimID
}

func countActions(t *testing.T, engine workflow.Engine, claimID int64) map[entity.AuditAction]int {
	t.Helper()
	entries, err := engine.AuditTrail(context.Background(), claimID)
	require.NoError(t, err)
	out := make(map[entity.AuditAction]int)
	for _, e := range entries {
		out[e.Action]++
	}
	return out
}

func TestGateway_ConcurrentApproversOnOneClaim(t *testing.T) {
	engine, claim := newEngine(t, entity.ModePercentage, 100, 11, 12)
	g := New(engine)

	var eg errgroup.Group
	for _, approver := range []int64{11, 12} {
		approver := approver
		eg.Go(func() error {
			_, err := g.Submit(context.Background(), claim, approver, entity.DecisionApprove, "")
			return err
		})
	}
	require.NoError(t, eg.Wait())

	view, err := engine.GetClaim(context.Background(), claim)
	require.NoError(t, err)
	assert.Equal(t, entity.ClaimApproved, view.Claim.Status)
	for _, s := range view.Steps {
		assert.Equal(t, entity.StepApproved, s.Status)
	}
	assert.Equal(t, map[entity.AuditAction]int{
		entity.ActionSubmitted:     1,
		entity.ActionApproved:      2,
		entity.ActionClaimApproved: 1,
	}, countActions(t, engine, claim))
}

func TestGateway_DoubleSubmitAppliesOnce(t *testing.T) {
	engine, claim := newEngine(t, entity.ModePercentage, 100, 11, 12)
	g := New(engine)

	var (
		eg       errgroup.Group
		ok       atomic.Int32
		refused  atomic.Int32
		attempts = 10
	)
	for i := 0; i < attempts; i++ {
		eg.Go(func() error {
			_, err := g.Submit(context.Background(), claim, 11, entity.DecisionApprove, "")
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domainwf.ErrInvalidState):
				refused.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(attempts-1), refused.Load())
	assert.Equal(t, 1, countActions(t, engine, claim)[entity.ActionApproved])
}
