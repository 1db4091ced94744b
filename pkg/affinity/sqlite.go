package affinity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/grahak-ai/grahak/internal/observability"
	"github.com/grahak-ai/grahak/pkg/provider"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// SQLiteStore persists provider locks in sqlite. All races resolve through
// atomic SQL, never through in-process locks.
type SQLiteStore struct {
	db       *sql.DB
	registry *provider.Registry
	ttl      time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// Config holds lock store configuration
type Config struct {
	DBPath   string
	Registry *provider.Registry
	TTL      time.Duration
	Logger   zerolog.Logger

	// Now overrides the clock; used to test expiry.
	Now func() time.Time
}

// NewSQLiteStore opens (or creates) the lock database
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("lock TTL must be positive")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS provider_locks (
			thread_id   TEXT PRIMARY KEY,
			provider    TEXT NOT NULL,
			assigned_at INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_provider_locks_expires
			ON provider_locks(expires_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SQLiteStore{
		db:       db,
		registry: cfg.Registry,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      now,
	}, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Resolve returns the live lock for threadID, or assigns one. Expiry is
// checked passively on every read, so correctness never depends on the
// background sweeper.
func (s *SQLiteStore) Resolve(ctx context.Context, threadID, tier string, requested provider.ID) (provider.ID, error) {
	now := s.now()

	locked, live, err := s.read(ctx, threadID, now)
	if err != nil {
		return "", err
	}
	if live {
		return locked, nil
	}

	// Dead or missing lock; clear the stale row so the insert below can win.
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_locks WHERE thread_id = ? AND expires_at <= ?`,
		threadID, now.UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	desired := s.registry.DefaultFor(tier)
	reason := "tier_default"
	if requested != "" && s.registry.Has(requested) {
		desired = requested
		reason = "requested"
	}

	// Two first messages racing both insert; exactly one row lands and both
	// callers adopt whatever the re-read returns.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_locks (thread_id, provider, assigned_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id) DO NOTHING`,
		threadID, string(desired), now.UnixMilli(), now.Add(s.ttl).UnixMilli(),
	); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	winner, live, err := s.read(ctx, threadID, now)
	if err != nil {
		return "", err
	}
	if !live {
		return "", fmt.Errorf("%w: lock vanished after insert", ErrUnavailable)
	}

	observability.RecordLockAssignment(string(winner), reason)
	s.logger.Debug().
		Str("thread_id", threadID).
		Str("provider", string(winner)).
		Str("reason", reason).
		Msg("Provider lock assigned")

	return winner, nil
}

// Peek reads the current live lock without assigning one
func (s *SQLiteStore) Peek(ctx context.Context, threadID string) (provider.ID, bool, error) {
	return s.read(ctx, threadID, s.now())
}

// Release drops the lock for threadID
func (s *SQLiteStore) Release(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_locks WHERE thread_id = ?`, threadID,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SweepExpired deletes every expired lock row and returns the count removed
func (s *SQLiteStore) SweepExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_locks WHERE expires_at <= ?`, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	removed, _ := result.RowsAffected()
	return removed, nil
}

func (s *SQLiteStore) read(ctx context.Context, threadID string, now time.Time) (provider.ID, bool, error) {
	var (
		locked    string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, expires_at FROM provider_locks WHERE thread_id = ?`,
		threadID,
	).Scan(&locked, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if expiresAt <= now.UnixMilli() {
		return "", false, nil
	}
	return provider.ID(locked), true, nil
}
