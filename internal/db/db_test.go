package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/escrow/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	dsn := os.Getenv("ESCROW_TEST_DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "ESCROW_TEST_DATABASE_URL not set; skipping postgres tests")
		os.Exit(m.Run())
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Apply migration if not already applied
	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
		os.Exit(1)
	}
	_, err = pool.Exec(context.Background(), string(migration))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	testDB = &DB{Pool: pool}
	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("ESCROW_TEST_DATABASE_URL not set")
	}
	_, err := testDB.Pool.Exec(context.Background(), "TRUNCATE TABLE users, escrow_events RESTART IDENTITY")
	require.NoError(t, err)
}

func TestDB_CreateUser(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		username    string
		address     models.Address
		expectErr   error
		expectError bool
	}{
		{name: "Success", username: "alice", address: "0xalice"},
		{name: "DuplicateUsername", username: "alice", address: "0xother", expectErr: ErrUserExists},
		{name: "DuplicateAddress", username: "carol", address: "0xalice", expectErr: ErrUserExists},
		{name: "MissingAddress", username: "bob", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := testDB.CreateUser(ctx, tt.username, "hash", tt.address)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, user.Address)

			got, err := testDB.GetUserByUsername(ctx, tt.username)
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
		})
	}

	_, err := testDB.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDB_CreateUser_Concurrent(t *testing.T) {
	requireDB(t)

	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := testDB.CreateUser(context.Background(), fmt.Sprintf("user%d", i), "hash", "0xshared")
			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "an address binds to exactly one user")
}

func TestDB_Events(t *testing.T) {
	requireDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id := uint64(7)

	events := []models.Event{
		{ID: "7f1c1b8e-8d53-4d0b-9c86-0f5a3c1f0a01", Kind: models.EventAuctionBid, Actor: "0xbob", AuctionID: &id, Amount: decimal.RequireFromString("1000000000000000001"), At: at},
		{ID: "7f1c1b8e-8d53-4d0b-9c86-0f5a3c1f0a02", Kind: models.EventAuctionEnded, Actor: "0xalice", AuctionID: &id, Counterparty: "0xbob", At: at.Add(time.Second)},
		{ID: "7f1c1b8e-8d53-4d0b-9c86-0f5a3c1f0a03", Kind: models.EventFundsWithdrawn, Actor: "0xcarol", Amount: decimal.NewFromInt(3), At: at.Add(2 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, testDB.RecordEvent(ctx, ev))
	}
	require.NoError(t, testDB.RecordEvent(ctx, events[0]))

	got, err := testDB.ListAccountEvents(ctx, "0xbob", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events[0].ID, got[0].ID)
	assert.True(t, events[0].Amount.Equal(got[0].Amount))
	require.NotNil(t, got[0].AuctionID)
	assert.Equal(t, id, *got[0].AuctionID)
	assert.Equal(t, models.EventAuctionEnded, got[1].Kind)

	got, err = testDB.ListAccountEvents(ctx, "0xcarol", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].AuctionID)
}

type failingEvents struct{}

func (failingEvents) RecordEvent(context.Context, models.Event) error {
	return fmt.Errorf("failed to record event: connection refused")
}

func (failingEvents) ListAccountEvents(context.Context, models.Address, int) ([]models.Event, error) {
	return nil, nil
}

func TestJournal_LogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	j := NewJournal(failingEvents{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Record(ctx, models.Event{ID: "e1", Kind: models.EventFundsWithdrawn})

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "e1", hook.LastEntry().Data["event_id"])
}

func TestFillEvent(t *testing.T) {
	tests := []struct {
		name        string
		amount      string
		auctionID   *int64
		expectError bool
	}{
		{name: "WithAuction", amount: "42", auctionID: new(int64)},
		{name: "WithoutAuction", amount: "0"},
		{name: "BadAmount", amount: "4x2", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev models.Event
			err := FillEvent(&ev, "auction_bid", "0xbob", "", tt.amount, tt.auctionID)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.EventAuctionBid, ev.Kind)
			assert.Equal(t, tt.auctionID != nil, ev.AuctionID != nil)
			assert.Equal(t, tt.amount, ev.Amount.String())
		})
	}
}
