package session

import (
	"context"
	"sync"
)

// Pending is one piece of work waiting for a session to resolve. It is
// resolved exactly once, on the ready path or the failed path.
type Pending struct {
	onReady  func(*Session)
	onFailed func(error)

	once sync.Once
	done chan struct{}
	err  error
}

func newPending(onReady func(*Session), onFailed func(error)) *Pending {
	return &Pending{onReady: onReady, onFailed: onFailed, done: make(chan struct{})}
}

func (p *Pending) resolve(s *Session, reason Reason) {
	p.once.Do(func() {
		defer close(p.done)
		if reason == "" {
			if p.onReady != nil {
				p.onReady(s)
			}
			return
		}
		p.err = &InvalidatedError{Reason: reason}
		if p.onFailed != nil {
			p.onFailed(p.err)
		}
	})
}

// Done is closed after the continuation has run.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err is nil when the work ran on the ready path. It is only meaningful
// after Done is closed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the work is resolved or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
