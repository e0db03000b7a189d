package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Event is emitted for every claim-level or step-level transition.
// ClaimID is set for both kinds so subscribers can group by claim.
type Event struct {
	ID            string             `json:"id"`
	Type          Type               `json:"type"`
	Entity        entity.AuditEntity `json:"entity"`
	EntityID      int64              `json:"entity_id"`
	ClaimID       int64              `json:"claim_id"`
	FromStatus    string             `json:"from_status"`
	ToStatus      string             `json:"to_status"`
	ActorID       *int64             `json:"actor_id,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	CorrelationID string             `json:"correlation_id"`
}

// NewClaimEvent describes a claim moving from -> to. An empty from marks creation.
func NewClaimEvent(claimID int64, from, to entity.ClaimStatus, actorID *int64, at time.Time) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          ForClaim(from == "", to),
		Entity:        entity.EntityExpenseClaim,
		EntityID:      claimID,
		ClaimID:       claimID,
		FromStatus:    string(from),
		ToStatus:      string(to),
		ActorID:       actorID,
		Timestamp:     at,
		CorrelationID: uuid.NewString(),
	}
}

// NewStepEvent describes an approval step moving from -> to
func NewStepEvent(step *entity.ApprovalStep, from entity.StepStatus, actorID *int64, at time.Time) *Event {
	return &Event{
		ID:            uuid.NewString(),
		Type:          ForStep(step.Status),
		Entity:        entity.EntityApprovalStep,
		EntityID:      step.ID,
		ClaimID:       step.ClaimID,
		FromStatus:    string(from),
		ToStatus:      string(step.Status),
		ActorID:       actorID,
		Timestamp:     at,
		CorrelationID: uuid.NewString(),
	}
}

// WithCorrelation returns a copy sharing correlationID, used to tie together
// the events produced by one engine call.
func (e *Event) WithCorrelation(correlationID string) *Event {
	cp := *e
	cp.CorrelationID = correlationID
	return &cp
}

// Correlate stamps every event with one fresh correlation id
func Correlate(events []*Event) []*Event {
	if len(events) == 0 {
		return events
	}
	id := uuid.NewString()
	out := make([]*Event, len(events))
	for i, e := range events {
		out[i] = e.WithCorrelation(id)
	}
	return out
}
