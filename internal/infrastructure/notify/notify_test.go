package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestNATSNotifier_Subject(t *testing.T) {
	n := NewNATSNotifier(&fakePublisher{}, "", zap.NewNop())
	at := time.Now()
	approver := int64(11)

	claimEvt := event.NewClaimEvent(5, entity.ClaimPending, entity.ClaimApproved, &approver, at)
	assert.Equal(t, "expense.claim.approved", n.Subject(claimEvt))

	step := &entity.ApprovalStep{ID: 9, ClaimID: 5, Status: entity.StepSkipped}
	stepEvt := event.NewStepEvent(step, entity.StepPending, nil, at)
	assert.Equal(t, "expense.step.skipped", n.Subject(stepEvt))

	custom := NewNATSNotifier(&fakePublisher{}, "acme.finance", zap.NewNop())
	assert.Equal(t, "acme.finance.claim.approved", custom.Subject(claimEvt))
}

func TestNATSNotifier_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "expense", zap.NewNop())
	evt := event.NewClaimEvent(5, "", entity.ClaimPending, nil, time.Now())

	require.NoError(t, n.Handle(context.Background(), evt))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "expense.claim.pending", pub.subjects[0])
	var decoded event.Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, event.TypeClaimSubmitted, decoded.Type)
	assert.Equal(t, int64(5), decoded.ClaimID)
}

func TestNATSNotifier_PublishErrorIsReturned(t *testing.T) {
	pub := &fakePublisher{err: errors.New("no responders")}
	n := NewNATSNotifier(pub, "", zap.NewNop())

	err := n.Handle(context.Background(), event.NewClaimEvent(1, "", entity.ClaimPending, nil, time.Now()))
	assert.ErrorContains(t, err, "expense.claim.pending")
}

func TestNotifiers_ViaDispatcher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	pub := &fakePublisher{}

	d := dispatcher.NewDispatcher()
	d.SubscribeNamed(dispatcher.AllEvents, "log", NewLogNotifier(zap.New(core)).Handle)
	d.SubscribeNamed(dispatcher.AllEvents, "nats", NewNATSNotifier(pub, "", zap.NewNop()).Handle)

	approver := int64(3)
	evt := event.NewClaimEvent(2, entity.ClaimPending, entity.ClaimRejected, &approver, time.Now())
	require.NoError(t, d.Dispatch(context.Background(), evt))

	entries := logs.FilterMessage("Workflow transition").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "claim.rejected", fields["type"])
	assert.Equal(t, int64(3), fields["actor_id"])
	assert.Equal(t, []string{"expense.claim.rejected"}, pub.subjects)
}
