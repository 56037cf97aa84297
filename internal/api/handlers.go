package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/escrow/internal/auth"
	"github.com/xtrntr/escrow/internal/db"
	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/escrow"
	"github.com/xtrntr/escrow/internal/models"
)

const defaultEventsLimit = 100

// Deeds is the asset registry surface the API exposes
type Deeds interface {
	Mint(ctx context.Context, minter models.Address, assetID, metadata string) error
	OwnerOf(ctx context.Context, assetID string) (models.Address, error)
	Metadata(ctx context.Context, assetID string) (string, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Engine      *escrow.Engine
	AuthService *auth.AuthService
	Events      db.EventStore
	Deeds       Deeds
	// Custodian is used for new auctions that name none
	Custodian models.Address
	Log       logrus.FieldLogger
}

type claimsKey struct{}

// ClaimsFrom returns the authenticated caller stored by JWTAuthMiddleware
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return c, ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps an escrow error to its HTTP status
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}

	message := err.Error()
	var e *apperrors.Error
	if errors.As(err, &e) {
		message = e.Message
	}
	writeJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (models.Address, bool) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return models.ZeroAddress, false
	}
	return claims.Address, true
}

func auctionID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid auction ID")
		return 0, false
	}
	return id, true
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string         `json:"username"`
		Password string         `json:"password"`
		Address  models.Address `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" || req.Address.IsZero() {
		writeError(w, http.StatusBadRequest, "Username, password and address required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password, req.Address)
	if err != nil {
		if errors.Is(err, db.ErrUserExists) {
			writeError(w, http.StatusConflict, "Username or address already registered")
			return
		}
		h.Log.WithError(err).Warn("failed to register user")
		writeError(w, http.StatusBadRequest, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"address":  user.Address,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.Log.WithError(err).Error("login failed")
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		claims, err := h.AuthService.ParseToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CountAuctions returns the number of auctions ever created
func (h *Handler) CountAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.Engine.AuctionsCount(r.Context())})
}

// CreateAuction puts one of the caller's assets up for auction
func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		AssetID       string          `json:"asset_id"`
		StartPrice    decimal.Decimal `json:"start_price"`
		Deadline      time.Time       `json:"deadline"`
		Custodian     models.Address  `json:"custodian"`
		Name          string          `json:"name"`
		AssetMetadata string          `json:"asset_metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssetID == "" || req.Deadline.IsZero() {
		writeError(w, http.StatusBadRequest, "Asset ID and deadline required")
		return
	}
	if req.Custodian.IsZero() {
		req.Custodian = h.Custodian
	}

	auction, err := h.Engine.CreateAuction(r.Context(), caller, escrow.CreateAuctionParams{
		AssetID:       req.AssetID,
		StartPrice:    req.StartPrice,
		BlockDeadline: req.Deadline,
		Custodian:     req.Custodian,
		Name:          req.Name,
		AssetMetadata: req.AssetMetadata,
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, auction)
}

// GetAuction returns one auction record
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	auction, err := h.Engine.AuctionByID(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

// GetCurrentBid returns the current bid and the bid count of an auction
func (h *Handler) GetCurrentBid(w http.ResponseWriter, r *http.Request) {
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	bid := h.Engine.CurrentBidFor(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price":  bid.Price,
		"bidder": bid.Bidder,
		"count":  h.Engine.BidsCountFor(r.Context(), id),
	})
}

// PlaceBid bids on an auction for the caller
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	bid, err := h.Engine.BidAuction(r.Context(), caller, id, req.Price)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

// CancelAuction cancels one of the caller's auctions
func (h *Handler) CancelAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	if err := h.Engine.CancelAuction(r.Context(), caller, id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Auction cancelled"})
}

// EndAuction ends one of the caller's auctions
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := auctionID(w, r)
	if !ok {
		return
	}

	if err := h.Engine.EndAuction(r.Context(), caller, id); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Auction ended"})
}

// GetOwnerAuctions lists the auction ids created by an address
func (h *Handler) GetOwnerAuctions(w http.ResponseWriter, r *http.Request) {
	owner := models.Address(chi.URLParam(r, "address"))
	ids := h.Engine.OwnerAuctions(r.Context(), owner)
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    h.Engine.OwnerAuctionsCount(r.Context(), owner),
		"auctions": ids,
	})
}

// GetBalance returns the caller's withdrawable balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": caller,
		"balance": h.Engine.BalanceOf(r.Context(), caller),
	})
}

// Withdraw pays out the caller's whole balance
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	amount, err := h.Engine.WithdrawFunds(r.Context(), caller)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"amount": amount})
}

// GetEvents returns the journal entries involving the caller
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	limit := defaultEventsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	events, err := h.Events.ListAccountEvents(r.Context(), caller, limit)
	if err != nil {
		h.Log.WithError(err).Error("failed to list events")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve events")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// MintDeed mints a new deed owned by the caller
func (h *Handler) MintDeed(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req struct {
		ID       string `json:"id"`
		Metadata string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Deed ID required")
		return
	}

	if err := h.Deeds.Mint(r.Context(), caller, req.ID, req.Metadata); err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": req.ID, "owner": caller})
}

// GetDeed returns the holder and metadata of a deed
func (h *Handler) GetDeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	owner, err := h.Deeds.OwnerOf(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	metadata, err := h.Deeds.Metadata(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       id,
		"owner":    owner,
		"metadata": metadata,
	})
}
