// Package store holds the auction records, their current bids and the
// per-owner index.
package store

import (
	"github.com/xtrntr/escrow/internal/models"
)

// Store is an append-only, id-ordered collection of auctions. It is not
// safe for concurrent use; the owning engine serializes access.
type Store struct {
	auctions   []models.Auction
	bids       map[uint64]models.Bid
	ownerIndex map[models.Address][]uint64
}

// New creates an empty store
func New() *Store {
	return &Store{
		bids:       make(map[uint64]models.Bid),
		ownerIndex: make(map[models.Address][]uint64),
	}
}

// Append assigns the next sequential id to auction, records it and indexes
// it under its owner.
func (s *Store) Append(auction models.Auction) models.Auction {
	auction.ID = uint64(len(s.auctions))
	s.auctions = append(s.auctions, auction)
	s.ownerIndex[auction.Owner] = append(s.ownerIndex[auction.Owner], auction.ID)
	return auction
}

// Get returns a copy of the auction with the given id
func (s *Store) Get(id uint64) (models.Auction, bool) {
	if id >= uint64(len(s.auctions)) {
		return models.Auction{}, false
	}
	return s.auctions[id], true
}

// SetFlags updates the only mutable fields of an auction
func (s *Store) SetFlags(id uint64, active, ended bool) {
	s.auctions[id].Active = active
	s.auctions[id].Ended = ended
}

// Len returns the number of auctions ever created
func (s *Store) Len() int {
	return len(s.auctions)
}

// OwnerAuctions returns the ids of the owner's auctions in creation order
func (s *Store) OwnerAuctions(owner models.Address) []uint64 {
	ids := s.ownerIndex[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// CurrentBid returns the auction's current bid, if any
func (s *Store) CurrentBid(id uint64) (models.Bid, bool) {
	bid, ok := s.bids[id]
	return bid, ok
}

// SetCurrentBid replaces the auction's current bid
func (s *Store) SetCurrentBid(id uint64, bid models.Bid) {
	s.bids[id] = bid
}

// ClearCurrentBid drops the auction's current bid
func (s *Store) ClearCurrentBid(id uint64) {
	delete(s.bids, id)
}

// Bids returns all current bids keyed by auction id
func (s *Store) Bids() map[uint64]models.Bid {
	out := make(map[uint64]models.Bid, len(s.bids))
	for id, bid := range s.bids {
		out[id] = bid
	}
	return out
}
