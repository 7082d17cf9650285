package connection

import (
	"context"
	"time"
)

// Session connects and runs until the connection ends. It calls established
// once the connection is up, which resets the backoff.
type Session func(ctx context.Context, established func()) error

// RetryFunc is told about every scheduled reconnect.
type RetryFunc func(attempt int, delay time.Duration, err error)

// Loop reruns a session until its context ends.
type Loop struct {
	backoff *Backoff
	onRetry RetryFunc
}

// NewLoop creates a reconnect loop. b may be nil for the default backoff.
func NewLoop(b *Backoff, onRetry RetryFunc) *Loop {
	if b == nil {
		b = NewBackoff()
	}
	return &Loop{backoff: b, onRetry: onRetry}
}

// Run calls session repeatedly, waiting with backoff between attempts. It
// returns ctx.Err() once ctx ends.
func (l *Loop) Run(ctx context.Context, session Session) error {
	for {
		err := session(ctx, l.backoff.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := l.backoff.Next()
		if l.onRetry != nil {
			l.onRetry(l.backoff.Attempts(), delay, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
