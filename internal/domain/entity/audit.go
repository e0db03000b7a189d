package entity

import "time"

// AuditEntry is an immutable record of one state transition or decision.
// ActorID is nil for entries the system writes on its own behalf.
type AuditEntry struct {
	ID        int64       `json:"id"`
	ActorID   *int64      `json:"actor_id,omitempty"`
	Action    AuditAction `json:"action"`
	Entity    AuditEntity `json:"entity"`
	EntityID  int64       `json:"entity_id"`
	Details   string      `json:"details"`
	Timestamp time.Time   `json:"timestamp"`
}
