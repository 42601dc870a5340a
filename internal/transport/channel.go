package transport

import "context"

// Channel is one established bidirectional connection. Done is closed
// when the underlying connection dies; after that Send fails and the
// owner decides whether to redial.
type Channel interface {
	Send(ctx context.Context, env Envelope) error
	Receive() <-chan Envelope
	Done() <-chan struct{}
	Close() error
}

// Dialer establishes a single connection attempt. Retry policy lives
// with the caller (the broadcast client), not here, so fakes stay
// trivial in tests.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}
