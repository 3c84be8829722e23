package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"fastsetupd/internal/ferrors"
)

// Correlator implements the request/reply pattern of spec.md §9's design
// note: "replaced by correlating outgoing request -> incoming response
// through a per-request one-shot channel held in a small in-flight map
// keyed by request id." A component publishes a ReqPayload carrying the
// id from NewRequest, then calls Wait to block (with a deadline) until a
// matching RespPayload is handed to Resolve by the component's own bus
// worker loop.
type result struct {
	body any
	err  error
}

type Correlator struct {
	nextID  atomic.Uint64
	mu      sync.Mutex
	waiters map[uint64]chan result
}

// NewCorrelator creates an empty in-flight request table.
func NewCorrelator() *Correlator {
	return &Correlator{waiters: make(map[uint64]chan result)}
}

// NewRequest allocates a fresh request id and registers a one-shot
// channel for its reply.
func (c *Correlator) NewRequest() uint64 {
	id := c.nextID.Add(1)
	c.mu.Lock()
	c.waiters[id] = make(chan result, 1)
	c.mu.Unlock()
	return id
}

// Resolve delivers body to the waiter registered for id, if any. It
// returns false if no request with that id is outstanding (already
// resolved, timed out, or never registered). Safe to call from a
// subscriber's own dispatch loop.
func (c *Correlator) Resolve(id uint64, body any) bool {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result{body: body}
	return true
}

// Wait blocks until id's reply arrives, ctx is done, or shutdown is
// signaled via Cancel. Must be called from a goroutine other than the
// one draining the bus subscriber that will call Resolve (spec.md §5:
// "these sync waits must not be entered from within the same worker's
// own dispatch for an event they themselves await").
func (c *Correlator) Wait(ctx context.Context, id uint64) (any, error) {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return nil, ferrors.Shutdown
	}

	select {
	case r := <-ch:
		return r.body, r.err
	case <-ctx.Done():
		c.abandon(id)
		return nil, ctx.Err()
	}
}

// Cancel resolves every outstanding waiter with ferrors.Shutdown,
// unblocking any in-progress Wait calls during Stop() (spec.md §5:
// "sync waits in the orchestrator cancel with ERROR_SHUTDOWN when
// Stop() is in progress").
func (c *Correlator) Cancel() {
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[uint64]chan result)
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{err: ferrors.Shutdown}
	}
}

func (c *Correlator) abandon(id uint64) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}
