package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/gateway"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

var (
	_ workflow.Metrics = (*Collector)(nil)
	_ gateway.Metrics  = (*Collector)(nil)
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.ClaimSubmitted("pending")
	c.ClaimSubmitted("pending")
	c.ClaimSubmitted("approved")
	c.DecisionObserved("APPROVE", "ok", 20*time.Millisecond)
	c.DecisionObserved("APPROVE", "out_of_order", time.Millisecond)
	c.InflightAdd(1)
	c.InflightAdd(1)
	c.InflightAdd(-1)
	c.LocksHeld(3)
	require.NoError(t, c.HandleEvent(context.Background(), &event.Event{Type: event.TypeClaimSubmitted}))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.claimsSubmitted.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.claimsSubmitted.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.decisions.WithLabelValues("APPROVE", "out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.inflight))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.locksHeld))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues(string(event.TypeClaimSubmitted))))
	assert.Equal(t, 1, testutil.CollectAndCount(c.decisionDuration))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ClaimSubmitted("approved")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `expense_approval_claims_submitted_total{outcome="approved"} 1`))
	assert.Contains(t, body, "go_goroutines")
}
