package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/escrow/internal/custody"
	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/models"
	"go.opentelemetry.io/otel/attribute"
)

// CreateAuctionParams describes a new auction.
type CreateAuctionParams struct {
	AssetID       string
	StartPrice    decimal.Decimal
	BlockDeadline time.Time
	Custodian     models.Address
	Name          string
	AssetMetadata string
}

// CreateAuction takes custody of the caller's asset and opens an auction
// for it. Nothing is recorded unless custody moved to the engine.
func (e *Engine) CreateAuction(ctx context.Context, caller models.Address, p CreateAuctionParams) (auction models.Auction, err error) {
	ctx, c := e.enter(ctx, "create_auction",
		logrus.Fields{"caller": caller, "asset_id": p.AssetID, "custodian": p.Custodian},
		attribute.String("escrow.asset_id", p.AssetID),
	)
	defer func() { err = c.finish(err) }()

	if err := e.requireInitialized(); err != nil {
		return models.Auction{}, err
	}

	custodian, ok := e.custodians.Lookup(p.Custodian)
	if !ok || p.Custodian == e.self {
		return models.Auction{}, apperrors.New(apperrors.CodeInvalidCustodian, "Invalid custodian address")
	}
	if !p.StartPrice.IsPositive() {
		return models.Auction{}, apperrors.New(apperrors.CodeInvalidAmount, "Start price must be positive")
	}
	owner, err := custodian.OwnerOf(ctx, p.AssetID)
	if err != nil {
		return models.Auction{}, apperrors.Wrap(apperrors.CodeNotAssetOwner, "Only deed owner", err)
	}
	if owner != caller {
		return models.Auction{}, apperrors.New(apperrors.CodeNotAssetOwner, "Only deed owner")
	}
	if !p.BlockDeadline.After(e.now().Add(e.minDuration)) {
		return models.Auction{}, apperrors.New(apperrors.CodeDeadlineTooSoon,
			fmt.Sprintf("Deadline minimum %s ahead", e.minDuration))
	}
	if p.Name == "" {
		return models.Auction{}, apperrors.New(apperrors.CodeEmptyName, "Name is required")
	}
	if p.AssetMetadata == "" {
		return models.Auction{}, apperrors.New(apperrors.CodeEmptyMetadata, "Asset metadata is required")
	}

	key := assetKey{custodian: p.Custodian, assetID: p.AssetID}
	if _, busy := e.pending[key]; busy {
		return models.Auction{}, apperrors.New(apperrors.CodeAuctionBusy, "Asset is already being escrowed")
	}
	e.pending[key] = struct{}{}
	err = custody.Transfer(ctx, custodian, e.self, caller, e.self, p.AssetID)
	delete(e.pending, key)
	if err != nil {
		return models.Auction{}, err
	}

	auction = e.auctions.Append(models.Auction{
		AssetID:       p.AssetID,
		StartPrice:    p.StartPrice,
		BlockDeadline: p.BlockDeadline,
		Owner:         caller,
		Active:        true,
		Custodian:     p.Custodian,
		Name:          p.Name,
		AssetMetadata: p.AssetMetadata,
	})
	c.span.SetAttributes(attribute.Int64("escrow.auction_id", int64(auction.ID)))
	c.emit(models.Event{
		Kind:      models.EventAuctionCreated,
		Actor:     caller,
		AuctionID: &auction.ID,
		AssetID:   p.AssetID,
		Amount:    p.StartPrice,
	})
	return auction, nil
}

// BidAuction places a bid that must beat the current bid, or the start
// price when there is none. The displaced bidder is credited in the ledger.
func (e *Engine) BidAuction(ctx context.Context, bidder models.Address, auctionID uint64, price decimal.Decimal) (bid models.Bid, err error) {
	_, c := e.enter(ctx, "bid_auction",
		logrus.Fields{"bidder": bidder, "auction_id": auctionID, "price": price.String()},
		attribute.Int64("escrow.auction_id", int64(auctionID)),
	)
	defer func() { err = c.finish(err) }()

	if err := e.requireInitialized(); err != nil {
		return models.Bid{}, err
	}
	a, err := e.lookup(auctionID)
	if err != nil {
		return models.Bid{}, err
	}
	if bidder == a.Owner {
		return models.Bid{}, apperrors.New(apperrors.CodeSelfBidForbidden, "Only not auction owner")
	}
	if !a.Active {
		return models.Bid{}, apperrors.New(apperrors.CodeAuctionInactive, "Auction is not active")
	}
	if !e.now().Before(a.BlockDeadline) {
		return models.Bid{}, apperrors.New(apperrors.CodeDeadlinePassed, "Auction deadline is past")
	}

	former, hasBid := e.auctions.CurrentBid(auctionID)
	if hasBid {
		if !price.GreaterThan(former.Price) {
			return models.Bid{}, apperrors.New(apperrors.CodeBidTooLow, "Bid below current bid")
		}
	} else if !price.GreaterThan(a.StartPrice) {
		return models.Bid{}, apperrors.New(apperrors.CodeBidTooLow, "Bid below starting price")
	}

	if hasBid {
		e.balances.Credit(former.Bidder, former.Price)
	}
	bid = models.Bid{Price: price, Bidder: bidder}
	e.auctions.SetCurrentBid(auctionID, bid)
	e.held = e.held.Add(price)

	c.emit(models.Event{
		Kind:      models.EventAuctionBid,
		Actor:     bidder,
		AuctionID: &a.ID,
		Amount:    price,
	})
	return bid, nil
}

// CancelAuction returns the asset to its owner and refunds the current
// bidder. State changes only once custody has moved back.
func (e *Engine) CancelAuction(ctx context.Context, caller models.Address, auctionID uint64) (err error) {
	ctx, c := e.enter(ctx, "cancel_auction",
		logrus.Fields{"caller": caller, "auction_id": auctionID},
		attribute.Int64("escrow.auction_id", int64(auctionID)),
	)
	defer func() { err = c.finish(err) }()

	if err := e.requireInitialized(); err != nil {
		return err
	}
	a, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	if caller != a.Owner {
		return apperrors.New(apperrors.CodeNotOwner, "Only auction owner")
	}
	if !a.Active {
		return apperrors.New(apperrors.CodeAuctionInactive, "Auction is not active")
	}

	if err := e.release(ctx, a, a.Owner); err != nil {
		return err
	}

	if bid, ok := e.auctions.CurrentBid(auctionID); ok {
		e.balances.Credit(bid.Bidder, bid.Price)
		e.auctions.ClearCurrentBid(auctionID)
	}
	e.auctions.SetFlags(auctionID, false, a.Ended)

	c.emit(models.Event{
		Kind:      models.EventAuctionCancelled,
		Actor:     caller,
		AuctionID: &a.ID,
		AssetID:   a.AssetID,
	})
	return nil
}

// EndAuction closes the auction before its deadline. An active auction
// with a bid is settled: the asset goes to the bidder and the owner is
// credited the bid. Otherwise the asset returns to the owner.
func (e *Engine) EndAuction(ctx context.Context, caller models.Address, auctionID uint64) (err error) {
	ctx, c := e.enter(ctx, "end_auction",
		logrus.Fields{"caller": caller, "auction_id": auctionID},
		attribute.Int64("escrow.auction_id", int64(auctionID)),
	)
	defer func() { err = c.finish(err) }()

	if err := e.requireInitialized(); err != nil {
		return err
	}
	a, err := e.lookup(auctionID)
	if err != nil {
		return err
	}
	if caller != a.Owner {
		return apperrors.New(apperrors.CodeNotOwner, "Only auction owner")
	}
	if a.Ended {
		return apperrors.New(apperrors.CodeAuctionAlreadyEnded, "Auction has already ended")
	}
	if !e.now().Before(a.BlockDeadline) {
		return apperrors.New(apperrors.CodeDeadlinePassed, "Auction deadline is past")
	}

	recipient := a.Owner
	bid, hasBid := e.auctions.CurrentBid(auctionID)
	settle := a.Active && hasBid
	if settle {
		recipient = bid.Bidder
	}

	if err := e.release(ctx, a, recipient); err != nil {
		return err
	}

	if settle {
		// The bid leaves the escrowed bids and becomes the owner's balance.
		e.balances.Credit(a.Owner, bid.Price)
	}
	e.auctions.SetFlags(auctionID, false, true)

	ev := models.Event{
		Kind:         models.EventAuctionEnded,
		Actor:        caller,
		AuctionID:    &a.ID,
		AssetID:      a.AssetID,
		Counterparty: recipient,
	}
	if settle {
		ev.Amount = bid.Price
	}
	c.emit(ev)
	return nil
}

// lookup returns the auction, rejecting ids that are unknown or whose
// operation is still in flight.
func (e *Engine) lookup(auctionID uint64) (models.Auction, error) {
	a, ok := e.auctions.Get(auctionID)
	if !ok {
		return models.Auction{}, apperrors.New(apperrors.CodeUnknownAuction, "no auction by id")
	}
	if _, busy := e.inflight[auctionID]; busy {
		return models.Auction{}, apperrors.New(apperrors.CodeAuctionBusy, "Auction has an operation in flight")
	}
	return a, nil
}

// release moves the auction's asset out of escrow to recipient. The
// auction is marked in flight for the duration of the custody calls.
func (e *Engine) release(ctx context.Context, a models.Auction, recipient models.Address) error {
	custodian, ok := e.custodians.Lookup(a.Custodian)
	if !ok {
		return apperrors.New(apperrors.CodeCustodyTransferFailed, "custodian is no longer registered")
	}

	e.inflight[a.ID] = struct{}{}
	defer delete(e.inflight, a.ID)

	return custody.Transfer(ctx, custodian, e.self, e.self, recipient, a.AssetID)
}
