package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/api/dto"
	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/middleware"
	"github.com/olyamironova/market-engine/internal/notify"
	"github.com/olyamironova/market-engine/internal/port"
)

type Config struct {
	JWTSecret      []byte
	RateLimitRPS   float64
	RateLimitBurst int
}

type HTTPServer struct {
	Eng     *core.Engine
	sweeper *core.Sweeper
	hub     *notify.Hub
	log     *slog.Logger
	cfg     Config

	// replayed responses for money movements, keyed by user and
	// Idempotency-Key header
	submitted sync.Map
}

func NewHTTPServer(eng *core.Engine, sweeper *core.Sweeper, hub *notify.Hub, cfg Config, log *slog.Logger) *HTTPServer {
	return &HTTPServer{
		Eng:     eng,
		sweeper: sweeper,
		hub:     hub,
		log:     log.With(slog.String("component", "http")),
		cfg:     cfg,
	}
}

func (s *HTTPServer) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(s.log))

	r.GET("/healthz", s.health)

	api := r.Group("/", middleware.Auth(s.cfg.JWTSecret))
	api.Use(middleware.NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst).Middleware())

	internal := api.Group("/internal", middleware.RequireScope(middleware.ScopeInternal))
	internal.PUT("/users/:id", s.registerUser)
	internal.PUT("/listings/:id", s.putListing)
	api.POST("/admin/sweep", middleware.RequireScope(middleware.ScopeInternal), s.sweep)

	wallet := api.Group("/wallet")
	wallet.GET("/balance", s.balance)
	wallet.GET("/transactions", s.transactions)
	wallet.POST("/deposit", s.deposit)
	wallet.POST("/withdraw", s.withdraw)
	wallet.POST("/transfer", s.transfer)

	listings := api.Group("/listings/:id")
	listings.GET("", s.getListing)
	listings.GET("/auction", s.auctionView)
	listings.POST("/bids", s.placeBid)
	listings.GET("/bids", s.listBids)
	listings.POST("/offers", s.makeOffer)

	offers := api.Group("/offers/:id")
	offers.GET("", s.getOffer)
	offers.POST("/accept", s.acceptOffer)
	offers.POST("/reject", s.rejectOffer)
	offers.POST("/counter", s.counterOffer)
	offers.POST("/accept-counter", s.acceptCounter)
	offers.POST("/decline-counter", s.declineCounter)

	api.POST("/trades", s.proposeTrade)
	trades := api.Group("/trades/:id")
	trades.GET("", s.getTrade)
	trades.POST("/accept", s.acceptTrade)
	trades.POST("/reject", s.rejectTrade)
	trades.POST("/cancel", s.cancelTrade)

	if s.hub != nil {
		api.GET("/ws", s.serveWS)
	}
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *HTTPServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) health(c *gin.Context) {
	if s.sweeper != nil && !s.sweeper.Healthy() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "sweeper not running"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) registerUser(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	u, err := s.Eng.RegisterUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.User{ID: u.ID, Balance: u.Balance})
}

func (s *HTTPServer) putListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.PutListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	l, err := req.ToListing(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	stored, err := s.Eng.PutListing(c.Request.Context(), l)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromListing(stored))
}

func (s *HTTPServer) getListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	l, err := s.Eng.Listing(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromListing(l))
}

func (s *HTTPServer) sweep(c *gin.Context) {
	if s.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "sweeper disabled"})
		return
	}
	rep := s.sweeper.Tick(c.Request.Context())
	c.JSON(http.StatusOK, fromReport(rep))
}

func (s *HTTPServer) serveWS(c *gin.Context) {
	user, _ := middleware.UserID(c)
	if err := s.hub.ServeWS(c.Writer, c.Request, user); err != nil {
		s.log.WarnContext(c.Request.Context(), "websocket upgrade", slog.Any("error", err))
	}
}

// fail maps the domain error taxonomy onto HTTP statuses.
func (s *HTTPServer) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.ErrorContext(c.Request.Context(), "request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: msg})
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, port.ErrTxConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, errors.New("bad id in path"))
		return uuid.Nil, false
	}
	return id, true
}

func caller(c *gin.Context) uuid.UUID {
	id, _ := middleware.UserID(c)
	return id
}

func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, errors.New("limit must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

func fromReport(rep core.SweepReport) dto.SweepResponse {
	out := dto.SweepResponse{
		StartedAt:      rep.StartedAt,
		Closures:       make([]dto.Closure, 0, len(rep.Closures)),
		AuctionsFailed: rep.AuctionsFailed,
		OffersExpired:  rep.OffersExpired,
	}
	for _, cl := range rep.Closures {
		out.Closures = append(out.Closures, dto.Closure{
			ListingID:     cl.ListingID,
			Outcome:       string(cl.Outcome),
			WinnerID:      cl.WinnerID,
			Amount:        cl.Amount,
			TransactionID: cl.TransactionID,
		})
	}
	if rep.Err != nil {
		out.Error = rep.Err.Error()
	}
	return out
}
