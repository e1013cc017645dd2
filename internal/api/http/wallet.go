package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/api/dto"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/shopspring/decimal"
)

const idempotencyHeader = "Idempotency-Key"

func (s *HTTPServer) balance(c *gin.Context) {
	user := caller(c)
	b, err := s.Eng.Ledger.Balance(c.Request.Context(), user)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.BalanceResponse{UserID: user, Balance: b})
}

func (s *HTTPServer) transactions(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	txns, err := s.Eng.Ledger.History(c.Request.Context(), caller(c), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromTransactions(txns))
}

func (s *HTTPServer) deposit(c *gin.Context) {
	var req dto.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.moveMoney(c, "deposit", func() (*domain.Transaction, error) {
		return s.Eng.Ledger.AddFunds(c.Request.Context(), caller(c), req.Amount)
	})
}

func (s *HTTPServer) withdraw(c *gin.Context) {
	var req dto.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s.moveMoney(c, "withdraw", func() (*domain.Transaction, error) {
		return s.Eng.Ledger.DeductFunds(c.Request.Context(), caller(c), req.Amount)
	})
}

func (s *HTTPServer) transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	to, err := uuid.Parse(req.To)
	if err != nil {
		badRequest(c, err)
		return
	}
	s.moveMoney(c, "transfer", func() (*domain.Transaction, error) {
		return s.Eng.Ledger.TransferFunds(c.Request.Context(), caller(c), to, req.Amount)
	})
}

// moveMoney runs op at most once per Idempotency-Key; a retried request
// gets the first response back.
func (s *HTTPServer) moveMoney(c *gin.Context, op string, fn func() (*domain.Transaction, error)) {
	key := c.GetHeader(idempotencyHeader)
	if key != "" {
		key = caller(c).String() + ":" + op + ":" + key
		if prev, ok := s.submitted.Load(key); ok {
			c.JSON(http.StatusOK, prev)
			return
		}
	}
	txn, err := fn()
	if err != nil {
		s.fail(c, err)
		return
	}
	resp := dto.FromTransaction(txn)
	if key != "" {
		s.submitted.Store(key, resp)
	}
	c.JSON(http.StatusOK, resp)
}

func positiveAmount(d decimal.Decimal) error {
	return domain.CheckAmount("amount", d)
}
