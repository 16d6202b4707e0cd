package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/BTreeMap/BookingRelay/internal/clock"
	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists relay state in PostgreSQL and may be shared by
// several relay instances.
type PostgresStore struct {
	db    *sql.DB
	clock clock.Clock
}

// Compile-time checks.
var (
	_ dedup.WindowStore = (*PostgresStore)(nil)
	_ dedup.Sweeper     = (*PostgresStore)(nil)
	_ dedup.ClaimStore  = (*PostgresStore)(nil)
	_ NotificationRepo  = (*PostgresStore)(nil)
	_ CursorRepo        = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, clock: cfg.Clock}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Admit implements dedup.WindowStore with a single upsert that only
// overwrites an expired row.
func (s *PostgresStore) Admit(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_window (key, expires_at) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE dedup_window.expires_at <= $3`,
		key, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("dedup admit failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// Forget implements dedup.WindowStore.
func (s *PostgresStore) Forget(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_window WHERE key = $1`, key); err != nil {
		return fmt.Errorf("dedup forget failed: %w", err)
	}
	return nil
}

// Sweep implements dedup.Sweeper. Expired claim leases go with expired keys.
func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_window WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("dedup sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM control_leases WHERE expires_at <= $1`, now); err != nil {
		return int(n), fmt.Errorf("claim sweep failed: %w", err)
	}
	return int(n), nil
}

// TryClaim implements dedup.ClaimStore. Like Admit, the upsert only takes
// over a lease that has already expired.
func (s *PostgresStore) TryClaim(ctx context.Context, handle string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		lease = dedup.DefaultClaimLease
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO control_leases (handle, expires_at) VALUES ($1, $2)
		 ON CONFLICT (handle) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE control_leases.expires_at <= $3`,
		handle, now.Add(lease).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("claim failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected check failed: %w", err)
	}
	return n > 0, nil
}

// Release implements dedup.ClaimStore.
func (s *PostgresStore) Release(ctx context.Context, handle string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM control_leases WHERE handle = $1`, handle); err != nil {
		return fmt.Errorf("release claim failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveNotification(ctx context.Context, rec models.NotificationRecord) error {
	now := s.clock.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (handle, chat_id, message_id, record_id, dedup_key, state, outcome, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (handle) DO UPDATE SET record_id = EXCLUDED.record_id, dedup_key = EXCLUDED.dedup_key,
		   state = EXCLUDED.state, outcome = EXCLUDED.outcome, updated_at = EXCLUDED.updated_at`,
		rec.Handle.String(), rec.Handle.ChatID, rec.Handle.MessageID, rec.RecordID, nilIfEmpty(rec.DedupKey),
		string(rec.State), nilIfEmpty(string(rec.Outcome)), rec.CreatedAt.UTC(), now,
	)
	if err != nil {
		slog.Error("PostgresStore.SaveNotification failed", "handle", rec.Handle.String(), "error", err)
		return fmt.Errorf("save notification failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, h models.Handle) (*models.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, record_id, dedup_key, state, outcome, created_at, updated_at
		 FROM notifications WHERE handle = $1`, h.String())
	rec, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification failed: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ResolveNotification(ctx context.Context, h models.Handle, outcome models.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET state = $1, outcome = $2, updated_at = $3 WHERE handle = $4`,
		string(models.ControlsResolved), string(outcome), s.clock.Now().UTC(), h.String(),
	)
	if err != nil {
		return fmt.Errorf("resolve notification failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT position FROM cursors WHERE name = $1`, name).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get cursor failed: %w", err)
	}
	return t, true, nil
}

func (s *PostgresStore) SetCursor(ctx context.Context, name string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (name, position) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET position = EXCLUDED.position`,
		name, t.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set cursor failed: %w", err)
	}
	return nil
}
