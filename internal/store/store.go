// Package store provides storage backends for BookingRelay.
//
// The in-memory backend is the default and is only correct for a single
// process. SQLite and PostgreSQL backends persist the dedup window, control
// claims, notification records, poll cursors and the notification outbox so a
// restart (or, with PostgreSQL, several instances) keeps admit-once semantics.
package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/clock"
	"github.com/BTreeMap/BookingRelay/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN   string
	Clock clock.Clock
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithClock sets the time source used for window expiry.
func WithClock(c clock.Clock) Option {
	return func(o *Opts) { o.Clock = c }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and key/value DSNs and
// "sqlite3" for anything else (a file path).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// NotificationRepo persists the notification sent for each booking.
type NotificationRepo interface {
	// SaveNotification inserts or replaces the record for rec.Handle.
	SaveNotification(ctx context.Context, rec models.NotificationRecord) error
	// GetNotification returns nil, nil when no record exists for h.
	GetNotification(ctx context.Context, h models.Handle) (*models.NotificationRecord, error)
	// ResolveNotification moves the record for h to RESOLVED(outcome).
	ResolveNotification(ctx context.Context, h models.Handle, outcome models.Outcome) error
}

// CursorRepo remembers named positions, such as the last polled creation time.
type CursorRepo interface {
	GetCursor(ctx context.Context, name string) (time.Time, bool, error)
	SetCursor(ctx context.Context, name string, t time.Time) error
}

// InMemoryStore is the default process-local NotificationRepo and CursorRepo.
type InMemoryStore struct {
	mu            sync.Mutex
	notifications map[models.Handle]models.NotificationRecord
	cursors       map[string]time.Time
}

var (
	_ NotificationRepo = (*InMemoryStore)(nil)
	_ CursorRepo       = (*InMemoryStore)(nil)
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		notifications: make(map[models.Handle]models.NotificationRecord),
		cursors:       make(map[string]time.Time),
	}
}

func (s *InMemoryStore) SaveNotification(_ context.Context, rec models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.notifications[rec.Handle] = rec
	return nil
}

func (s *InMemoryStore) GetNotification(_ context.Context, h models.Handle) (*models.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.notifications[h]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) ResolveNotification(_ context.Context, h models.Handle, outcome models.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.notifications[h]
	if !ok {
		rec = models.NotificationRecord{Handle: h, CreatedAt: time.Now().UTC()}
	}
	rec.State = models.ControlsResolved
	rec.Outcome = outcome
	rec.UpdatedAt = time.Now().UTC()
	s.notifications[h] = rec
	return nil
}

func (s *InMemoryStore) GetCursor(_ context.Context, name string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.cursors[name]
	return t, ok, nil
}

func (s *InMemoryStore) SetCursor(_ context.Context, name string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = t
	return nil
}
