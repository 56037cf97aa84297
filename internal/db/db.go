package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/models"
)

// ErrUserExists is returned when the username or address is already registered
var ErrUserExists = errors.New("user already exists")

// ErrUserNotFound is returned when no user matches the lookup
var ErrUserNotFound = errors.New("user not found")

// UserStore persists registered users
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, address models.Address) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// EventStore persists the engine's event journal
type EventStore interface {
	RecordEvent(ctx context.Context, ev models.Event) error
	ListAccountEvents(ctx context.Context, account models.Address, limit int) ([]models.Event, error)
}

// Store is the full persistence surface used by the server
type Store interface {
	UserStore
	EventStore
	Close(ctx context.Context) error
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

var _ Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user bound to an account address
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, address models.Address) (*models.User, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("address is required")
	}

	user := &models.User{}
	var addr string
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, address) VALUES ($1, $2, $3) RETURNING id, username, password_hash, address, created_at",
		username, passwordHash, string(address)).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Address = models.Address(addr)
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var addr string
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, address, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Address = models.Address(addr)
	return user, nil
}

// RecordEvent appends an event to the journal. Recording the same event id
// twice is a no-op.
func (db *DB) RecordEvent(ctx context.Context, ev models.Event) error {
	var auctionID *int64
	if ev.AuctionID != nil {
		id := int64(*ev.AuctionID)
		auctionID = &id
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO escrow_events (id, kind, actor, auction_id, asset_id, counterparty, amount, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, string(ev.Kind), string(ev.Actor), auctionID, ev.AssetID, string(ev.Counterparty), ev.Amount.String(), ev.At)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListAccountEvents returns the newest events the account took part in,
// oldest first
func (db *DB) ListAccountEvents(ctx context.Context, account models.Address, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, kind, actor, auction_id, asset_id, counterparty, amount::text, at
		FROM (
			SELECT * FROM escrow_events
			WHERE actor = $1 OR counterparty = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC
	`, string(account), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			ev                        models.Event
			kind, actor, counterparty string
			amount                    string
			auctionID                 *int64
		)
		if err := rows.Scan(&ev.ID, &kind, &actor, &auctionID, &ev.AssetID, &counterparty, &amount, &ev.At); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := FillEvent(&ev, kind, actor, counterparty, amount, auctionID); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// FillEvent copies raw journal columns into ev. The SQL backends share it.
func FillEvent(ev *models.Event, kind, actor, counterparty, amount string, auctionID *int64) error {
	ev.Kind = models.EventKind(kind)
	ev.Actor = models.Address(actor)
	ev.Counterparty = models.Address(counterparty)
	if auctionID != nil {
		id := uint64(*auctionID)
		ev.AuctionID = &id
	}
	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("failed to parse event amount: %w", err)
	}
	ev.Amount = amt
	return nil
}
