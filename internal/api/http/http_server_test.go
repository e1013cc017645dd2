package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/adapter/in_memory"
	api "github.com/olyamironova/market-engine/internal/api/http"
	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/middleware"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("http-test-secret")

func init() { gin.SetMode(gin.TestMode) }

type apiFixture struct {
	t       *testing.T
	router  http.Handler
	rec     *in_memory.Recorder
	admin   string
	sweeper *core.Sweeper
}

func newAPI(t *testing.T) *apiFixture {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := in_memory.NewRecorder()
	eng := core.NewEngine(in_memory.NewMemoryRepo(), in_memory.NewCache(time.Minute), rec, core.WithLogger(log))
	sweeper := core.NewSweeper(eng, time.Minute, 10)
	srv := api.NewHTTPServer(eng, sweeper, nil, api.Config{JWTSecret: secret, RateLimitRPS: 1000, RateLimitBurst: 1000}, log)
	admin, err := middleware.Sign(secret, uuid.New(), middleware.ScopeInternal)
	require.NoError(t, err)
	return &apiFixture{t: t, router: srv.Router(), rec: rec, admin: admin, sweeper: sweeper}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// user registers a fresh account funded with balance and returns its token.
func (f *apiFixture) user(balance string) (uuid.UUID, string) {
	id := uuid.New()
	w := f.do(http.MethodPut, "/internal/users/"+id.String(), f.admin, nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	token, err := middleware.Sign(secret, id)
	require.NoError(f.t, err)
	if balance != "0" {
		w = f.do(http.MethodPost, "/wallet/deposit", token, map[string]string{"amount": balance})
		require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	}
	return id, token
}

func (f *apiFixture) listing(body map[string]any) uuid.UUID {
	id := uuid.New()
	w := f.do(http.MethodPut, "/internal/listings/"+id.String(), f.admin, body)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
	return id
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestWalletEndpoints(t *testing.T) {
	f := newAPI(t)
	alice, aliceTok := f.user("100")
	bob, _ := f.user("0")

	w := f.do(http.MethodPost, "/wallet/transfer", aliceTok, map[string]string{"to": bob.String(), "amount": "30"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/wallet/balance", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	bal := decode[map[string]string](t, w)
	assert.Equal(t, alice.String(), bal["user_id"])
	assert.True(t, decimal.RequireFromString(bal["balance"]).Equal(decimal.NewFromInt(70)))

	w = f.do(http.MethodPost, "/wallet/withdraw", aliceTok, map[string]string{"amount": "500"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = f.do(http.MethodPost, "/wallet/deposit", aliceTok, map[string]string{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/wallet/deposit", aliceTok, map[string]string{"amount": "0.005"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/wallet/transactions?limit=1", aliceTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	txns := decode[[]map[string]any](t, w)
	require.Len(t, txns, 1)
	assert.Equal(t, string(domain.TxTransfer), txns[0]["type"])
}

func TestDepositIdempotencyKey(t *testing.T) {
	f := newAPI(t)
	_, tok := f.user("0")

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/wallet/deposit", bytes.NewBufferString(`{"amount":"5"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("Idempotency-Key", "abc")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		return w
	}
	first, second := send(), send()
	require.Equal(t, http.StatusOK, first.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	w := f.do(http.MethodGet, "/wallet/balance", tok, nil)
	assert.True(t, decimal.RequireFromString(decode[map[string]string](t, w)["balance"]).Equal(decimal.NewFromInt(5)))
}

func TestInternalRoutesNeedScope(t *testing.T) {
	f := newAPI(t)
	_, tok := f.user("0")

	w := f.do(http.MethodPut, "/internal/users/"+uuid.NewString(), tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(http.MethodPost, "/admin/sweep", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = f.do(http.MethodGet, "/wallet/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuctionOverHTTP(t *testing.T) {
	f := newAPI(t)
	seller, _ := f.user("0")
	_, bidderTok := f.user("100")
	end := time.Now().Add(time.Hour).UTC()
	id := f.listing(map[string]any{
		"owner_id":     seller.String(),
		"title":        "lamp",
		"listing_type": "auction",
		"auction":      map[string]any{"starting_bid": "10", "end_time": end},
	})

	w := f.do(http.MethodPost, "/listings/"+id.String()+"/bids", bidderTok, map[string]string{"amount": "10"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "bid must exceed the current bid")

	w = f.do(http.MethodPost, "/listings/"+id.String()+"/bids", bidderTok, map[string]string{"amount": "15"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/listings/"+id.String()+"/bids", bidderTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]map[string]any](t, w), 1)

	w = f.do(http.MethodGet, "/listings/"+id.String()+"/auction", bidderTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[domain.AuctionView](t, w)
	assert.True(t, view.CurrentBid.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 1, view.BidCount)

	w = f.do(http.MethodGet, "/listings/"+uuid.NewString(), bidderTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOfferFlowOverHTTP(t *testing.T) {
	f := newAPI(t)
	seller, sellerTok := f.user("0")
	_, buyerTok := f.user("100")
	_, strangerTok := f.user("0")
	id := f.listing(map[string]any{
		"owner_id": seller.String(),
		"modes":    []string{"fixed_price"},
		"sale":     map[string]any{"price": "60", "accepts_offers": true},
	})

	w := f.do(http.MethodPost, "/listings/"+id.String()+"/offers", buyerTok, map[string]string{"amount": "40", "message": "hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	offerID := decode[map[string]any](t, w)["id"].(string)

	w = f.do(http.MethodGet, "/offers/"+offerID, strangerTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/offers/"+offerID+"/accept", buyerTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "only the seller accepts")

	w = f.do(http.MethodPost, "/offers/"+offerID+"/counter", sellerTok, map[string]string{"amount": "50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(domain.OfferCountered), decode[map[string]any](t, w)["status"])

	w = f.do(http.MethodPost, "/offers/"+offerID+"/accept-counter", buyerTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[map[string]any](t, w)
	assert.Equal(t, false, st["available"])

	w = f.do(http.MethodGet, "/wallet/balance", sellerTok, nil)
	assert.True(t, decimal.RequireFromString(decode[map[string]string](t, w)["balance"]).Equal(decimal.NewFromInt(50)))
}

func TestTradeFlowOverHTTP(t *testing.T) {
	f := newAPI(t)
	alice, aliceTok := f.user("0")
	bob, bobTok := f.user("0")
	book := func(owner uuid.UUID) uuid.UUID {
		return f.listing(map[string]any{"owner_id": owner.String(), "listing_type": "exchange"})
	}
	a, b := book(alice), book(bob)

	w := f.do(http.MethodPost, "/trades", aliceTok, map[string]any{
		"recipient_id": bob.String(),
		"offered":      []string{a.String()},
		"requested":    []string{b.String()},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tradeID := decode[map[string]any](t, w)["id"].(string)

	w = f.do(http.MethodPost, "/trades/"+tradeID+"/accept", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/trades/"+tradeID+"/accept", bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodGet, "/listings/"+a.String(), bobTok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bob.String(), decode[map[string]any](t, w)["owner_id"])

	w = f.do(http.MethodPost, "/trades/"+tradeID+"/cancel", aliceTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(http.MethodPost, "/trades", aliceTok, map[string]any{"recipient_id": bob.String(), "offered": []string{}, "requested": []string{b.String()}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSweepAndHealth(t *testing.T) {
	f := newAPI(t)
	w := f.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "sweeper loop is not running")

	w = f.do(http.MethodPost, "/admin/sweep", f.admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rep := decode[map[string]any](t, w)
	assert.Equal(t, float64(0), rep["offers_expired"])
	assert.False(t, f.sweeper.LastTick().IsZero())
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.Invalid("x"):              http.StatusBadRequest,
		domain.Conflict("x"):             http.StatusConflict,
		port.ErrTxConflict:               http.StatusConflict,
		domain.Forbidden("x"):            http.StatusForbidden,
		domain.ErrInsufficientFunds:      http.StatusPaymentRequired,
		domain.Missing("user", uuid.Nil): http.StatusNotFound,
		io.EOF:                           http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, api.StatusFor(err), err.Error())
	}
}
