package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/escrow/internal/db"
	"github.com/xtrntr/escrow/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStore_CreateUser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	tests := []struct {
		name        string
		username    string
		address     models.Address
		expectErr   error
		expectError bool
	}{
		{name: "Success", username: "alice", address: "0xalice"},
		{name: "DuplicateUsername", username: "alice", address: "0xother", expectErr: db.ErrUserExists},
		{name: "DuplicateAddress", username: "alice2", address: "0xalice", expectErr: db.ErrUserExists},
		{name: "MissingAddress", username: "bob", address: "", expectError: true},
		{name: "SecondUser", username: "bob", address: "0xbob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := s.CreateUser(ctx, tt.username, "hash", tt.address)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotZero(t, user.ID)
			assert.Equal(t, tt.address, user.Address)

			got, err := s.GetUserByUsername(ctx, tt.username)
			require.NoError(t, err)
			assert.Equal(t, user.ID, got.ID)
			assert.Equal(t, "hash", got.PasswordHash)
			assert.Equal(t, tt.address, got.Address)
			assert.True(t, user.CreatedAt.Equal(got.CreatedAt))
		})
	}

	_, err := s.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, db.ErrUserNotFound)
}

func TestStore_Events(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id0, id1 := uint64(0), uint64(1)

	events := []models.Event{
		{ID: "e1", Kind: models.EventAuctionCreated, Actor: "0xalice", AuctionID: &id0, AssetID: "1", Amount: decimal.New(1, 18), At: at},
		{ID: "e2", Kind: models.EventAuctionBid, Actor: "0xbob", AuctionID: &id0, Amount: decimal.RequireFromString("1000000000000000001"), At: at.Add(time.Second)},
		{ID: "e3", Kind: models.EventAuctionEnded, Actor: "0xalice", AuctionID: &id0, AssetID: "1", Counterparty: "0xbob", At: at.Add(2 * time.Second)},
		{ID: "e4", Kind: models.EventAuctionCreated, Actor: "0xcarol", AuctionID: &id1, AssetID: "2", Amount: decimal.NewFromInt(5), At: at.Add(3 * time.Second)},
		{ID: "e5", Kind: models.EventFundsWithdrawn, Actor: "0xalice", Amount: decimal.RequireFromString("1000000000000000001"), At: at.Add(4 * time.Second)},
	}
	for _, ev := range events {
		require.NoError(t, s.RecordEvent(ctx, ev))
	}
	// replays are ignored
	require.NoError(t, s.RecordEvent(ctx, events[0]))

	tests := []struct {
		name      string
		account   models.Address
		limit     int
		expectIDs []string
	}{
		{name: "ActorAndCounterparty", account: "0xbob", expectIDs: []string{"e2", "e3"}},
		{name: "Owner", account: "0xalice", expectIDs: []string{"e1", "e3", "e5"}},
		{name: "LimitKeepsNewest", account: "0xalice", limit: 2, expectIDs: []string{"e3", "e5"}},
		{name: "Unknown", account: "0xnobody", expectIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListAccountEvents(ctx, tt.account, tt.limit)
			require.NoError(t, err)
			var ids []string
			for _, ev := range got {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.expectIDs, ids)
		})
	}

	got, err := s.ListAccountEvents(ctx, "0xbob", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, decimal.RequireFromString("1000000000000000001").Equal(got[0].Amount))
	require.NotNil(t, got[0].AuctionID)
	assert.Equal(t, uint64(0), *got[0].AuctionID)
	assert.Equal(t, models.Address("0xbob"), got[1].Counterparty)
	assert.True(t, at.Add(2*time.Second).Equal(got[1].At))

	withdrawn, err := s.ListAccountEvents(ctx, "0xalice", 1)
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Nil(t, withdrawn[0].AuctionID)
}

func TestOpen_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "escrow.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "alice", "hash", "0xalice")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	// migrations are not re-applied and data survives
	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close(ctx)
	user, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.Address("0xalice"), user.Address)

	_, err = Open(ctx, "  ")
	assert.Error(t, err)
}

func expectMigrated(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM schema_migrations").
		WithArgs("001_init.sql").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
}

func TestNew_MigrationFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnError(errors.New("disk full"))

	_, err = New(context.Background(), sqlDB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure migration table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNew_MigrationRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1 FROM schema_migrations").WithArgs("001_init.sql").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	_, err = New(context.Background(), sqlDB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exec migration 001_init.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FailurePaths(t *testing.T) {
	ctx := context.Background()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	expectMigrated(mock)
	s, err := New(ctx, sqlDB)
	require.NoError(t, err)

	mock.ExpectExec("INSERT OR IGNORE INTO escrow_events").WillReturnError(errors.New("disk I/O error"))
	err = s.RecordEvent(ctx, models.Event{ID: "e1", Kind: models.EventFundsWithdrawn, Actor: "0xalice"})
	assert.ErrorContains(t, err, "record event")

	mock.ExpectQuery("SELECT id, username").WithArgs("alice").WillReturnError(errors.New("connection reset"))
	_, err = s.GetUserByUsername(ctx, "alice")
	assert.ErrorContains(t, err, "get user")
	assert.NotErrorIs(t, err, db.ErrUserNotFound)

	mock.ExpectQuery("SELECT id, kind").WillReturnRows(
		sqlmock.NewRows([]string{"id", "kind", "actor", "auction_id", "asset_id", "counterparty", "amount", "at"}).
			AddRow("e1", "funds_withdrawn", "0xalice", nil, "", "", "not-a-number", int64(0)),
	)
	_, err = s.ListAccountEvents(ctx, "0xalice", 10)
	assert.ErrorContains(t, err, "failed to parse event amount")

	assert.NoError(t, mock.ExpectationsWereMet())
}
