package scheduler

import "context"

// Sweeper defines the batch operations the worker drives on a schedule.
// The gift card service satisfies this interface.
type Sweeper interface {
	// ExpireOldCards transitions every card past its validity window to
	// expired and returns the number of cards affected.
	ExpireOldCards(ctx context.Context) (int64, error)
}
