// Package sqlite provides a SQLite-backed user store and event journal.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xtrntr/escrow/internal/db"
	"github.com/xtrntr/escrow/internal/db/sqlite/migrations"
	"github.com/xtrntr/escrow/internal/models"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists users and events in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ db.Store = (*Store)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	if path == MemoryPath {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == MemoryPath {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s, err := New(ctx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open handle and applies the embedded migrations.
func New(ctx context.Context, sqlDB *sql.DB) (*Store, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close(context.Context) error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateUser inserts a new user bound to an account address.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, address models.Address) (*models.User, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("address is required")
	}

	createdAt := time.Now().UTC()
	res, err := s.sqlDB.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, address, created_at) VALUES (?, ?, ?, ?)",
		username, passwordHash, string(address), toMillis(createdAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, db.ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &models.User{
		ID:           int(id),
		Username:     username,
		PasswordHash: passwordHash,
		Address:      address,
		CreatedAt:    fromMillis(toMillis(createdAt)),
	}, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var (
		user      models.User
		addr      string
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		"SELECT id, username, password_hash, address, created_at FROM users WHERE username = ?",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.Address = models.Address(addr)
	user.CreatedAt = fromMillis(createdAt)
	return &user, nil
}

// RecordEvent appends an event to the journal. Recording the same event id
// twice is a no-op.
func (s *Store) RecordEvent(ctx context.Context, ev models.Event) error {
	var auctionID *int64
	if ev.AuctionID != nil {
		id := int64(*ev.AuctionID)
		auctionID = &id
	}

	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT OR IGNORE INTO escrow_events (id, kind, actor, auction_id, asset_id, counterparty, amount, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), string(ev.Actor), auctionID, ev.AssetID, string(ev.Counterparty), ev.Amount.String(), toMillis(ev.At))
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListAccountEvents returns the newest events the account took part in,
// oldest first.
func (s *Store) ListAccountEvents(ctx context.Context, account models.Address, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, kind, actor, auction_id, asset_id, counterparty, amount, at
		FROM (
			SELECT * FROM escrow_events
			WHERE actor = ? OR counterparty = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC`,
		string(account), string(account), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			ev                        models.Event
			kind, actor, counterparty string
			amount                    string
			auctionID                 sql.NullInt64
			at                        int64
		)
		if err := rows.Scan(&ev.ID, &kind, &actor, &auctionID, &ev.AssetID, &counterparty, &amount, &at); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var idPtr *int64
		if auctionID.Valid {
			idPtr = &auctionID.Int64
		}
		if err := db.FillEvent(&ev, kind, actor, counterparty, amount, idPtr); err != nil {
			return nil, err
		}
		ev.At = fromMillis(at)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
