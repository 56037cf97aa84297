package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address identifies an account, a custodian or the engine itself
type Address string

// ZeroAddress is the "no address" sentinel
const ZeroAddress Address = ""

// IsZero reports whether a is the zero address
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// User represents a registered user
type User struct {
	ID           int
	Username     string
	PasswordHash string
	Address      Address
	CreatedAt    time.Time
}

// Auction represents one custodied asset put up for bidding
type Auction struct {
	ID            uint64          `json:"id"`
	AssetID       string          `json:"asset_id"`
	StartPrice    decimal.Decimal `json:"start_price"`    // In base units (wei)
	BlockDeadline time.Time       `json:"block_deadline"` // Bids and end must happen before this
	Owner         Address         `json:"owner"`
	Active        bool            `json:"active"`
	Custodian     Address         `json:"custodian"` // Custodian instance holding the asset
	Ended         bool            `json:"ended"`
	Name          string          `json:"name"`
	AssetMetadata string          `json:"asset_metadata"`
}

// Bid represents the current highest bid on an auction
type Bid struct {
	Price  decimal.Decimal `json:"price"`
	Bidder Address         `json:"bidder"`
}

// IsZero reports whether b is the "no bid" sentinel
func (b Bid) IsZero() bool {
	return b.Bidder.IsZero() && b.Price.IsZero()
}

// EventKind names an engine event
type EventKind string

const (
	EventAuctionCreated   EventKind = "auction_created"
	EventAuctionBid       EventKind = "auction_bid"
	EventAuctionCancelled EventKind = "auction_cancelled"
	EventAuctionEnded     EventKind = "auction_ended"
	EventFundsWithdrawn   EventKind = "funds_withdrawn"
	EventCustodyReceived  EventKind = "custody_received"
)

// Event is an observability record emitted after a successful operation
type Event struct {
	ID           string          `json:"id"`
	Kind         EventKind       `json:"kind"`
	Actor        Address         `json:"actor"`
	AuctionID    *uint64         `json:"auction_id,omitempty"`
	AssetID      string          `json:"asset_id,omitempty"`
	Counterparty Address         `json:"counterparty,omitempty"` // Custody sender or end-of-auction recipient
	Amount       decimal.Decimal `json:"amount"`
	At           time.Time       `json:"at"`
}
