package clientdb

import "context"

// writeLock is the single-writer mutual exclusion section guarding every
// mutation sequence against the two tiers. It is a capacity-1 channel
// semaphore; the runtime wakes blocked senders in FIFO order, which gives
// the required first-come-first-served admission.
//
// Plain reads never acquire it.
type writeLock struct {
	ch chan struct{}
}

func newWriteLock() *writeLock {
	return &writeLock{ch: make(chan struct{}, 1)}
}

func (l *writeLock) acquire(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees the section. Releasing while not held is a lock-discipline
// violation and panics.
func (l *writeLock) release() {
	select {
	case <-l.ch:
	default:
		panic("clientdb: write lock released while not held")
	}
}

// withWriter runs fn inside the write section.
func (c *cache) withWriter(ctx context.Context, fn func() error) error {
	if err := c.writer.acquire(ctx); err != nil {
		return err
	}
	defer c.writer.release()
	return fn()
}
