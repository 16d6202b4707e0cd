package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/clock"
)

// DefaultClaimLease bounds how long a claim blocks other clicks when its
// holder never releases it.
const DefaultClaimLease = 2 * time.Minute

// ClaimStore grants one-time permission to act on an interactive control.
type ClaimStore interface {
	// TryClaim returns true when no live claim exists for handle and takes one
	// that expires after lease. A claim whose lease ran out is taken over.
	TryClaim(ctx context.Context, handle string, lease time.Duration) (bool, error)
	// Release drops a claim so the control can be acted upon again.
	Release(ctx context.Context, handle string) error
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardClock sets the time source used for lease expiry.
func WithGuardClock(c clock.Clock) GuardOption {
	return func(g *Guard) { g.clock = c }
}

// Guard is the process-local ClaimStore.
type Guard struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	clock   clock.Clock
}

var (
	_ ClaimStore = (*Guard)(nil)
	_ Sweeper    = (*Guard)(nil)
)

// NewGuard creates an empty Guard.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{claimed: make(map[string]time.Time), clock: clock.NewSystem()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryClaim implements ClaimStore. It never returns an error.
func (g *Guard) TryClaim(_ context.Context, handle string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.claimed[handle]; ok && now.Before(exp) {
		return false, nil
	}
	g.claimed[handle] = now.Add(lease)
	return true, nil
}

// Release implements ClaimStore. Releasing an unclaimed handle is a no-op.
func (g *Guard) Release(_ context.Context, handle string) error {
	g.mu.Lock()
	delete(g.claimed, handle)
	g.mu.Unlock()
	return nil
}

// Sweep drops expired claims.
func (g *Guard) Sweep(_ context.Context) (int, error) {
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for handle, exp := range g.claimed {
		if !now.Before(exp) {
			delete(g.claimed, handle)
			removed++
		}
	}
	return removed, nil
}
