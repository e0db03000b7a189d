package port

import "context"

// ManagerDirectory answers manager lookups against the company directory.
// A nil result means the user has no active manager.
type ManagerDirectory interface {
	GetManager(ctx context.Context, userID int64) (*int64, error)
}
