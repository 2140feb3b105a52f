package listener

import "context"

// Listener serves the API on one address until its context ends.
type Listener interface {
	Addr() string
	Start(ctx context.Context) error
	Stop() error
	Type() string
}
