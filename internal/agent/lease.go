package agent

import "context"

// lease admits one cycle at a time. It is a channel-based mutex so a waiting
// caller can give up when its context ends.
type lease struct {
	ch chan struct{}
}

func newLease() *lease {
	l := &lease{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{} // Start free.
	return l
}

// acquire blocks until the lease is free or ctx is done. The returned
// release func must be called exactly once.
func (l *lease) acquire(ctx context.Context) (func(), error) {
	select {
	case <-l.ch:
		return func() { l.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
