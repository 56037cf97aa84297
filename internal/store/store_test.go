package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/xtrntr/escrow/internal/models"
)

func TestStore_Append(t *testing.T) {
	s := New()

	owners := []models.Address{"0xalice", "0xbob", "0xalice"}
	for i, owner := range owners {
		a := s.Append(models.Auction{ID: 999, Owner: owner, Name: "lot", Active: true})
		assert.Equal(t, uint64(i), a.ID, "ids are sequential and zero-based")
	}

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []uint64{0, 2}, s.OwnerAuctions("0xalice"))
	assert.Equal(t, []uint64{1}, s.OwnerAuctions("0xbob"))
	assert.Empty(t, s.OwnerAuctions("0xcarol"))
}

func TestStore_Get(t *testing.T) {
	s := New()
	s.Append(models.Auction{Owner: "0xalice", Name: "first"})

	tests := []struct {
		name        string
		id          uint64
		expectFound bool
	}{
		{name: "Existing", id: 0, expectFound: true},
		{name: "OutOfRange", id: 1, expectFound: false},
		{name: "Huge", id: ^uint64(0), expectFound: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := s.Get(tt.id)
			assert.Equal(t, tt.expectFound, ok)
		})
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	s.Append(models.Auction{Owner: "0xalice", Active: true})

	a, _ := s.Get(0)
	a.Active = false
	a.Owner = "0xmallory"

	stored, _ := s.Get(0)
	assert.True(t, stored.Active)
	assert.Equal(t, models.Address("0xalice"), stored.Owner)

	ids := s.OwnerAuctions("0xalice")
	ids[0] = 42
	assert.Equal(t, []uint64{0}, s.OwnerAuctions("0xalice"))
}

func TestStore_CurrentBid(t *testing.T) {
	s := New()
	s.Append(models.Auction{Owner: "0xalice", Active: true})

	_, ok := s.CurrentBid(0)
	assert.False(t, ok)

	bid := models.Bid{Price: decimal.NewFromInt(5), Bidder: "0xbob"}
	s.SetCurrentBid(0, bid)
	got, ok := s.CurrentBid(0)
	assert.True(t, ok)
	assert.Equal(t, bid, got)
	assert.Len(t, s.Bids(), 1)

	s.ClearCurrentBid(0)
	_, ok = s.CurrentBid(0)
	assert.False(t, ok)
	assert.Empty(t, s.Bids())
}

func TestStore_SetFlags(t *testing.T) {
	s := New()
	s.Append(models.Auction{Owner: "0xalice", Active: true, Name: "lot"})

	s.SetFlags(0, false, true)
	a, _ := s.Get(0)
	assert.False(t, a.Active)
	assert.True(t, a.Ended)
	assert.Equal(t, "lot", a.Name)
}
