package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/clock"
)

// DefaultTTL matches the longest redelivery window of the upstream webhook sender.
const DefaultTTL = 15 * time.Minute

// WindowStore is an atomic admit-once set with expiry.
type WindowStore interface {
	// Admit returns true the first time key is presented while no live record
	// exists, recording it until now+ttl. It returns false for duplicates.
	Admit(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget removes key so the next Admit for it succeeds.
	Forget(ctx context.Context, key string) error
}

// Sweeper is implemented by stores that can purge expired records.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// WindowOption configures a Window.
type WindowOption func(*Window)

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) WindowOption {
	return func(w *Window) { w.clock = c }
}

// Window is the process-local WindowStore. Lookups re-check expiry, so the
// background sweep only reclaims memory and never decides admission.
type Window struct {
	mu      sync.Mutex
	expires map[string]time.Time
	clock   clock.Clock
}

// Compile-time checks.
var (
	_ WindowStore = (*Window)(nil)
	_ Sweeper     = (*Window)(nil)
)

// NewWindow creates an empty in-memory window.
func NewWindow(opts ...WindowOption) *Window {
	w := &Window{
		expires: make(map[string]time.Time),
		clock:   clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Admit implements WindowStore. It never returns an error.
func (w *Window) Admit(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	if exp, ok := w.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	w.expires[key] = now.Add(ttl)
	return true, nil
}

// Forget implements WindowStore.
func (w *Window) Forget(_ context.Context, key string) error {
	w.mu.Lock()
	delete(w.expires, key)
	w.mu.Unlock()
	return nil
}

// Sweep removes expired records and returns how many were dropped.
func (w *Window) Sweep(_ context.Context) (int, error) {
	now := w.clock.Now()

	w.mu.Lock()
	defer w.mu.Unlock()
	removed := 0
	for key, exp := range w.expires {
		if !now.Before(exp) {
			delete(w.expires, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of records currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.expires)
}

// SweepInterval returns the sweep period for ttl: a third of it, never above ttl.
func SweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	return interval
}

// RunSweeper purges expired records from s every interval until ctx is done.
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration) {
	if interval <= 0 {
		interval = SweepInterval(DefaultTTL)
	}
	slog.Debug("dedup.RunSweeper: starting", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("dedup.RunSweeper: stopping")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Error("dedup.RunSweeper: sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("dedup.RunSweeper: purged expired records", "count", n)
			}
		}
	}
}
