package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/models"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestObserveOperation(t *testing.T) {
	ObserveOperation("bid_auction", nil, time.Millisecond)
	ObserveOperation("bid_auction", apperrors.New(apperrors.CodeBidTooLow, "Bid below current bid"), time.Millisecond)
	ObserveOperation("withdraw_funds", io.EOF, time.Millisecond)

	out := scrape(t)
	assert.Contains(t, out, `escrow_engine_operations_total{code="OK",op="bid_auction"}`)
	assert.Contains(t, out, `escrow_engine_operations_total{code="BID_TOO_LOW",op="bid_auction"}`)
	assert.Contains(t, out, `escrow_engine_operations_total{code="UNKNOWN",op="withdraw_funds"}`)
	assert.Contains(t, out, `escrow_engine_operation_duration_seconds_count{op="bid_auction"}`)
}

func TestLedgerGauges(t *testing.T) {
	SetHeldFunds(decimal.NewFromInt(2500))
	ObserveWithdrawal(decimal.NewFromInt(1500))

	out := scrape(t)
	assert.Contains(t, out, "escrow_ledger_held_funds 2500")
	assert.Contains(t, out, "escrow_ledger_withdrawn_total")
}

func TestEventCounter(t *testing.T) {
	EventCounter{}.Record(context.Background(), models.Event{Kind: models.EventCustodyReceived})

	assert.Contains(t, scrape(t), `escrow_engine_events_total{kind="custody_received"}`)
}

func TestInstrumentHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/auctions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/auctions/1", "/auctions/2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	out := scrape(t)
	assert.Contains(t, out, `escrow_http_requests_total{method="GET",route="/auctions/{id}",status="404"} 2`)
	assert.NotContains(t, out, `route="/auctions/1"`)
}
