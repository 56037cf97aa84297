package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts the public and authenticated routes. limiter may be nil.
func NewRouter(h *Handler, limiter *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Handler)
		}
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
	})

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		if limiter != nil {
			r.Use(limiter.Handler)
		}

		r.Get("/auctions", h.CountAuctions)
		r.Post("/auctions", h.CreateAuction)
		r.Get("/auctions/{id}", h.GetAuction)
		r.Get("/auctions/{id}/bid", h.GetCurrentBid)
		r.Post("/auctions/{id}/bids", h.PlaceBid)
		r.Post("/auctions/{id}/cancel", h.CancelAuction)
		r.Post("/auctions/{id}/end", h.EndAuction)
		r.Get("/owners/{address}/auctions", h.GetOwnerAuctions)
		r.Get("/balance", h.GetBalance)
		r.Post("/withdrawals", h.Withdraw)
		r.Get("/events", h.GetEvents)

		if h.Deeds != nil {
			r.Post("/deeds", h.MintDeed)
			r.Get("/deeds/{id}", h.GetDeed)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	return r
}
