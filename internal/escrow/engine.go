// Package escrow implements the auction escrow engine: the auction state
// machine, the pull-payment ledger and the custody hand-offs between them.
//
// Every operation runs under a single engine lock, outbound calls included.
// Outbound calls receive a context marked with the running operation;
// operations entered with such a context are callbacks and run inside the
// critical section that is already held. Callbacks therefore observe settled
// state only, and any callback that targets an auction whose operation is
// still in flight is rejected. A context kept past the end of its operation
// no longer counts and takes the lock like any other caller.
package escrow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/escrow/internal/custody"
	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/funds"
	"github.com/xtrntr/escrow/internal/ledger"
	"github.com/xtrntr/escrow/internal/metrics"
	"github.com/xtrntr/escrow/internal/models"
	"github.com/xtrntr/escrow/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMinDuration is the shortest allowed auction lifetime.
const DefaultMinDuration = 24 * time.Hour

const tracerName = "github.com/xtrntr/escrow/internal/escrow"

// Config identifies the engine and bounds auction deadlines.
type Config struct {
	// Address is the engine's own account. Assets in escrow are held by it.
	Address     models.Address
	MinDuration time.Duration
}

// Recorder receives the events of successful operations, in order.
type Recorder interface {
	Record(ctx context.Context, ev models.Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, ev models.Event)

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, ev models.Event) { f(ctx, ev) }

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRecorder adds event sinks.
func WithRecorder(r ...Recorder) Option {
	return func(e *Engine) { e.recorders = append(e.recorders, r...) }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine is the auction escrow.
type Engine struct {
	self        models.Address
	minDuration time.Duration
	custodians  custody.Directory
	payer       funds.Transferrer

	now       func() time.Time
	log       logrus.FieldLogger
	recorders []Recorder
	tracer    trace.Tracer

	mu          sync.Mutex
	active      atomic.Pointer[frame]
	initialized bool
	auctions    *store.Store
	balances    *ledger.Ledger
	held        decimal.Decimal
	inflight    map[uint64]struct{}
	pending     map[assetKey]struct{}
}

type assetKey struct {
	custodian models.Address
	assetID   string
}

// frameKey marks contexts handed to outbound calls.
type frameKey struct{}

// frame identifies one locked operation. A context counts as reentrant only
// while the frame it carries is the engine's active one.
type frame struct {
	op string
}

var _ custody.Receiver = (*Engine)(nil)

// New creates an engine. It must be initialized before it accepts
// auctions, bids or withdrawals.
func New(cfg Config, custodians custody.Directory, payer funds.Transferrer, opts ...Option) *Engine {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	e := &Engine{
		self:        cfg.Address,
		minDuration: cfg.MinDuration,
		custodians:  custodians,
		payer:       payer,
		now:         time.Now,
		log:         logrus.StandardLogger(),
		tracer:      otel.Tracer(tracerName),
		auctions:    store.New(),
		balances:    ledger.New(),
		held:        decimal.Zero,
		inflight:    make(map[uint64]struct{}),
		pending:     make(map[assetKey]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Address returns the engine's own account
func (e *Engine) Address() models.Address {
	return e.self
}

// call tracks one operation from entry to exit.
type call struct {
	e      *Engine
	op     string
	ctx    context.Context
	span   trace.Span
	log    logrus.FieldLogger
	start  time.Time
	locked bool
	events []models.Event
}

// enter starts an operation. The lock is taken unless ctx shows the caller
// is already inside this engine's critical section.
func (e *Engine) enter(ctx context.Context, op string, fields logrus.Fields, attrs ...attribute.KeyValue) (context.Context, *call) {
	c := &call{e: e, op: op, start: time.Now()}
	if !e.reentrant(ctx) {
		e.mu.Lock()
		c.locked = true
		f := &frame{op: op}
		e.active.Store(f)
		ctx = context.WithValue(ctx, frameKey{}, f)
	}

	ctx, c.span = e.tracer.Start(ctx, "escrow."+op, trace.WithAttributes(attrs...))
	c.span.SetAttributes(attribute.Bool("escrow.reentrant", !c.locked))
	c.ctx = ctx
	c.log = e.log.WithFields(fields).WithField("op", op)
	return ctx, c
}

// emit queues an event; queued events are delivered only if the operation
// succeeds.
func (c *call) emit(ev models.Event) {
	ev.ID = uuid.NewString()
	ev.At = c.e.now()
	c.events = append(c.events, ev)
}

// finish delivers events, reports the outcome and releases the lock. It
// returns err unchanged.
func (c *call) finish(err error) error {
	e := c.e
	if err != nil {
		c.span.RecordError(err)
		c.span.SetStatus(otelcodes.Error, err.Error())
		c.log.WithError(err).WithField("code", apperrors.CodeOf(err)).Info("operation rejected")
	} else {
		for _, ev := range c.events {
			for _, r := range e.recorders {
				r.Record(c.ctx, ev)
			}
		}
		c.log.Debug("operation completed")
	}

	metrics.ObserveOperation(c.op, err, time.Since(c.start))
	metrics.SetHeldFunds(e.held)
	c.span.End()

	if c.locked {
		// Contexts of this operation are stale from here on.
		e.active.Store(nil)
		e.mu.Unlock()
	}
	return err
}

// reentrant reports whether ctx was handed out by the operation currently
// holding the lock.
func (e *Engine) reentrant(ctx context.Context) bool {
	f, _ := ctx.Value(frameKey{}).(*frame)
	return f != nil && f == e.active.Load()
}

// read runs fn under the engine lock unless ctx is already inside it.
func (e *Engine) read(ctx context.Context, fn func()) {
	if !e.reentrant(ctx) {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	fn()
}

// Initialize opens the engine. It may only be called once.
func (e *Engine) Initialize(ctx context.Context) (err error) {
	_, c := e.enter(ctx, "initialize", logrus.Fields{"address": e.self})
	defer func() { err = c.finish(err) }()

	if e.initialized {
		return apperrors.New(apperrors.CodeAlreadyInitialized, "Contract instance has already been initialized")
	}
	e.initialized = true
	return nil
}

func (e *Engine) requireInitialized() error {
	if !e.initialized {
		return apperrors.New(apperrors.CodeNotInitialized, "engine is not initialized")
	}
	return nil
}

// OnCustodyReceived acknowledges an asset arriving in the engine's custody.
func (e *Engine) OnCustodyReceived(ctx context.Context, operator, from models.Address, assetID string, _ []byte) (token custody.Token, err error) {
	_, c := e.enter(ctx, "custody_received",
		logrus.Fields{"operator": operator, "from": from, "asset_id": assetID},
		attribute.String("escrow.asset_id", assetID),
	)
	defer func() { err = c.finish(err) }()

	c.emit(models.Event{
		Kind:         models.EventCustodyReceived,
		Actor:        operator,
		Counterparty: from,
		AssetID:      assetID,
	})
	return custody.ReceivedToken, nil
}

// AuctionsCount returns the number of auctions ever created.
func (e *Engine) AuctionsCount(ctx context.Context) int {
	var n int
	e.read(ctx, func() { n = e.auctions.Len() })
	return n
}

// OwnerAuctionsCount returns how many auctions owner has created.
func (e *Engine) OwnerAuctionsCount(ctx context.Context, owner models.Address) int {
	var n int
	e.read(ctx, func() { n = len(e.auctions.OwnerAuctions(owner)) })
	return n
}

// OwnerAuctions returns the ids of owner's auctions in creation order.
func (e *Engine) OwnerAuctions(ctx context.Context, owner models.Address) []uint64 {
	var ids []uint64
	e.read(ctx, func() { ids = e.auctions.OwnerAuctions(owner) })
	return ids
}

// BidsCountFor returns 1 when the auction has a current bid, else 0.
func (e *Engine) BidsCountFor(ctx context.Context, auctionID uint64) int {
	var n int
	e.read(ctx, func() {
		if _, ok := e.auctions.CurrentBid(auctionID); ok {
			n = 1
		}
	})
	return n
}

// CurrentBidFor returns the auction's current bid, or the zero Bid.
func (e *Engine) CurrentBidFor(ctx context.Context, auctionID uint64) models.Bid {
	var bid models.Bid
	e.read(ctx, func() { bid, _ = e.auctions.CurrentBid(auctionID) })
	return bid
}

// AuctionByID returns the auction with the given id.
func (e *Engine) AuctionByID(ctx context.Context, auctionID uint64) (models.Auction, error) {
	var (
		a  models.Auction
		ok bool
	)
	e.read(ctx, func() { a, ok = e.auctions.Get(auctionID) })
	if !ok {
		return models.Auction{}, apperrors.New(apperrors.CodeUnknownAuction, "no auction by id")
	}
	return a, nil
}

// BalanceOf returns addr's withdrawable balance.
func (e *Engine) BalanceOf(ctx context.Context, addr models.Address) decimal.Decimal {
	var bal decimal.Decimal
	e.read(ctx, func() { bal = e.balances.Balance(addr) })
	return bal
}

// Held returns the total the engine escrows: withdrawable balances plus
// the current bids of active auctions.
func (e *Engine) Held(ctx context.Context) decimal.Decimal {
	var held decimal.Decimal
	e.read(ctx, func() { held = e.held })
	return held
}
