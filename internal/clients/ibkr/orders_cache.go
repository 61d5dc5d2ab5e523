package ibkr

import (
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
)

// flightCall is one in-progress open-orders refresh shared by every caller
// that arrived while it was running. Fields are written once before done is
// closed and read only after.
type flightCall struct {
	done   chan struct{}
	orders []domain.OpenOrder
	err    error
}

// wait blocks for the flight result up to timeout. A timed-out waiter
// abandons only its wait; the flight itself completes normally.
func (f *flightCall) wait(timeout time.Duration) ([]domain.OpenOrder, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return append([]domain.OpenOrder(nil), f.orders...), nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// openOrdersCache is the bridge-owned read-through cache for working orders.
// The bridge is its sole writer.
type openOrdersCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	orders    []domain.OpenOrder
	fetchedAt time.Time
	inflight  *flightCall
}

// acquire resolves one read attempt. Exactly one of three outcomes:
//   - TTL hit: returns (copy, true, nil, false)
//   - join in-flight refresh: returns (nil, false, flight, false)
//   - start a new refresh: returns (nil, false, flight, true) and the caller
//     becomes the leader responsible for running the fetch
func (c *openOrdersCache) acquire(now time.Time) ([]domain.OpenOrder, bool, *flightCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && now.Sub(c.fetchedAt) < c.ttl {
		return append([]domain.OpenOrder(nil), c.orders...), true, nil, false
	}

	if c.inflight != nil {
		return nil, false, c.inflight, false
	}

	c.inflight = &flightCall{done: make(chan struct{})}
	return nil, false, c.inflight, true
}

// store records a successful fetch. Called from the bridge worker so results
// land in the cache even when every waiter has timed out.
func (c *openOrdersCache) store(orders []domain.OpenOrder, now time.Time) {
	c.mu.Lock()
	c.orders = append([]domain.OpenOrder(nil), orders...)
	c.fetchedAt = now
	c.mu.Unlock()
}

// complete finishes a flight: clears the in-flight handle (success or
// failure) and releases every waiter
func (c *openOrdersCache) complete(flight *flightCall, orders []domain.OpenOrder, err error) {
	c.mu.Lock()
	if c.inflight == flight {
		c.inflight = nil
	}
	c.mu.Unlock()

	flight.orders = orders
	flight.err = err
	close(flight.done)
}

// invalidate drops the cached result so the next read triggers a refresh
func (c *openOrdersCache) invalidate() {
	c.mu.Lock()
	c.orders = nil
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
