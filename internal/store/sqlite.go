package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/BTreeMap/BookingRelay/internal/clock"
	"github.com/BTreeMap/BookingRelay/internal/dedup"
	"github.com/BTreeMap/BookingRelay/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists relay state in a single SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// Compile-time checks.
var (
	_ dedup.WindowStore = (*SQLiteStore)(nil)
	_ dedup.Sweeper     = (*SQLiteStore)(nil)
	_ dedup.ClaimStore  = (*SQLiteStore)(nil)
	_ NotificationRepo  = (*SQLiteStore)(nil)
	_ CursorRepo        = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time; admit and claim rely on single-statement atomicity.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, clock: cfg.Clock}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Admit implements dedup.WindowStore with a single upsert that only
// overwrites an expired row.
func (s *SQLiteStore) Admit(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = dedup.DefaultTTL
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_window (key, expires_at) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE dedup_window.expires_at <= ?`,
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
func (s *SQLiteStore) Forget(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dedup_window WHERE key = ?`, key); err != nil {
		return fmt.Errorf("dedup forget failed: %w", err)
	}
	return nil
}

// Sweep implements dedup.Sweeper. Expired claim leases go with expired keys.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM dedup_window WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("dedup sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM control_leases WHERE expires_at <= ?`, now); err != nil {
		return int(n), fmt.Errorf("claim sweep failed: %w", err)
	}
	return int(n), nil
}

// TryClaim implements dedup.ClaimStore. Like Admit, the upsert only takes
// over a lease that has already expired.
func (s *SQLiteStore) TryClaim(ctx context.Context, handle string, lease time.Duration) (bool, error) {
	if lease <= 0 {
		lease = dedup.DefaultClaimLease
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO control_leases (handle, expires_at) VALUES (?, ?)
		 ON CONFLICT(handle) DO UPDATE SET expires_at = excluded.expires_at
		 WHERE control_leases.expires_at <= ?`,
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
func (s *SQLiteStore) Release(ctx context.Context, handle string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM control_leases WHERE handle = ?`, handle); err != nil {
		return fmt.Errorf("release claim failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveNotification(ctx context.Context, rec models.NotificationRecord) error {
	now := s.clock.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (handle, chat_id, message_id, record_id, dedup_key, state, outcome, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(handle) DO UPDATE SET record_id = excluded.record_id, dedup_key = excluded.dedup_key,
		   state = excluded.state, outcome = excluded.outcome, updated_at = excluded.updated_at`,
		rec.Handle.String(), rec.Handle.ChatID, rec.Handle.MessageID, rec.RecordID, nilIfEmpty(rec.DedupKey),
		string(rec.State), nilIfEmpty(string(rec.Outcome)), rec.CreatedAt.UTC(), now,
	)
	if err != nil {
		slog.Error("SQLiteStore.SaveNotification failed", "handle", rec.Handle.String(), "error", err)
		return fmt.Errorf("save notification failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNotification(ctx context.Context, h models.Handle) (*models.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, record_id, dedup_key, state, outcome, created_at, updated_at
		 FROM notifications WHERE handle = ?`, h.String())
	rec, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification failed: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ResolveNotification(ctx context.Context, h models.Handle, outcome models.Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET state = ?, outcome = ?, updated_at = ? WHERE handle = ?`,
		string(models.ControlsResolved), string(outcome), s.clock.Now().UTC(), h.String(),
	)
	if err != nil {
		return fmt.Errorf("resolve notification failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCursor(ctx context.Context, name string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT position FROM cursors WHERE name = ?`, name).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get cursor failed: %w", err)
	}
	return t, true, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, name string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursors (name, position) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET position = excluded.position`,
		name, t.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set cursor failed: %w", err)
	}
	return nil
}
