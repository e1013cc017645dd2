package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/api/dto"
	"github.com/olyamironova/market-engine/internal/core"
	"github.com/olyamironova/market-engine/internal/domain"
)

func (s *HTTPServer) placeBid(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.BidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Eng.Auctions.PlaceBid(c.Request.Context(), id, caller(c), req.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BidResponse{
		ListingID:      res.ListingID,
		BidID:          res.BidID,
		CurrentBid:     res.CurrentBid,
		PreviousLeader: res.PreviousLeader,
	})
}

func (s *HTTPServer) listBids(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	bids, err := s.Eng.Auctions.Bids(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromBids(bids))
}

func (s *HTTPServer) auctionView(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	v, err := s.Eng.Auctions.View(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *HTTPServer) makeOffer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := s.Eng.Offers.MakeOffer(c.Request.Context(), id, caller(c), req.Amount, req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromOffer(o))
}

func (s *HTTPServer) getOffer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := s.Eng.Offers.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if me := caller(c); me != o.BuyerID && me != o.SellerID {
		s.fail(c, domain.Forbidden("offer %s belongs to other users", o.ID))
		return
	}
	c.JSON(http.StatusOK, dto.FromOffer(o))
}

func (s *HTTPServer) acceptOffer(c *gin.Context) {
	s.settle(c, s.Eng.Offers.AcceptOffer)
}

func (s *HTTPServer) acceptCounter(c *gin.Context) {
	s.settle(c, s.Eng.Offers.AcceptCounter)
}

func (s *HTTPServer) rejectOffer(c *gin.Context) {
	s.offerStep(c, s.Eng.Offers.RejectOffer)
}

func (s *HTTPServer) declineCounter(c *gin.Context) {
	s.offerStep(c, s.Eng.Offers.DeclineCounter)
}

func (s *HTTPServer) counterOffer(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req dto.CounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := positiveAmount(req.Amount); err != nil {
		s.fail(c, err)
		return
	}
	o, err := s.Eng.Offers.CounterOffer(c.Request.Context(), id, caller(c), req.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOffer(o))
}

func (s *HTTPServer) settle(c *gin.Context, fn func(ctx context.Context, offerID, actor uuid.UUID) (*core.Settlement, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	st, err := fn(c.Request.Context(), id, caller(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.Settlement{
		OfferID:       st.OfferID,
		ListingID:     st.ListingID,
		TransactionID: st.TransactionID,
		Amount:        st.Amount,
		Available:     st.Available,
		Rejected:      st.Rejected,
	})
}

func (s *HTTPServer) offerStep(c *gin.Context, fn func(ctx context.Context, offerID, actor uuid.UUID) (*domain.Offer, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	o, err := fn(c.Request.Context(), id, caller(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOffer(o))
}

func (s *HTTPServer) proposeTrade(c *gin.Context) {
	var req dto.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	recipient, err := uuid.Parse(req.RecipientID)
	if err != nil {
		badRequest(c, err)
		return
	}
	offered, err := dto.ParseIDs(req.Offered)
	if err != nil {
		s.fail(c, err)
		return
	}
	requested, err := dto.ParseIDs(req.Requested)
	if err != nil {
		s.fail(c, err)
		return
	}
	t, err := s.Eng.Trades.ProposeTrade(c.Request.Context(), caller(c), recipient, offered, requested, req.Message)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromTrade(t))
}

func (s *HTTPServer) getTrade(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := s.Eng.Trades.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if me := caller(c); me != t.ProposerID && me != t.RecipientID {
		s.fail(c, domain.Forbidden("trade %s belongs to other users", t.ID))
		return
	}
	c.JSON(http.StatusOK, dto.FromTrade(t))
}

func (s *HTTPServer) acceptTrade(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := s.Eng.Trades.AcceptTrade(c.Request.Context(), id, caller(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := dto.TradeResult{TradeID: res.TradeID, TransactionID: res.TransactionID}
	for _, l := range res.Listings {
		out.Listings = append(out.Listings, dto.TradeListing{ListingID: l.ListingID, OwnerID: l.OwnerID, Available: l.Available})
	}
	c.JSON(http.StatusOK, out)
}

func (s *HTTPServer) rejectTrade(c *gin.Context) {
	s.tradeStep(c, s.Eng.Trades.RejectTrade)
}

func (s *HTTPServer) cancelTrade(c *gin.Context) {
	s.tradeStep(c, s.Eng.Trades.CancelTrade)
}

func (s *HTTPServer) tradeStep(c *gin.Context, fn func(ctx context.Context, tradeID, actor uuid.UUID) (*domain.TradeProposal, error)) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := fn(c.Request.Context(), id, caller(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromTrade(t))
}
