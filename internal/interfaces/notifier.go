package interfaces

import "context"

// Notifier is a fire-and-forget sink for alerts. Send never blocks the
// round; delivery failures are logged by the implementation and dropped.
type Notifier interface {
	Send(ctx context.Context, message, severity string)
}
