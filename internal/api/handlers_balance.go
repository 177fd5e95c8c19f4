package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
)

type balanceAmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// handleDeposit implements POST /balance/deposit.
func (s *Server) handleDeposit(c *gin.Context) {
	var req balanceAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.KindValidationError, err.Error()))
		return
	}
	// decimal.Decimal's zero value doesn't trip gin's "required"
	// validator, so amount positivity is checked here; Deposit/Withdraw
	// re-check it too, but failing fast avoids an unnecessary lock.
	if !req.Amount.IsPositive() {
		respondError(c, apperrors.New(apperrors.KindValidationError, "amount must be positive"))
		return
	}

	rc := requestContext(c)
	result, err := s.tx.Deposit(c.Request.Context(), rc.Username, rc.RequestID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Balance)
}

// handleWithdraw implements POST /balance/withdraw.
func (s *Server) handleWithdraw(c *gin.Context) {
	var req balanceAmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.KindValidationError, err.Error()))
		return
	}
	if !req.Amount.IsPositive() {
		respondError(c, apperrors.New(apperrors.KindValidationError, "amount must be positive"))
		return
	}

	rc := requestContext(c)
	result, err := s.tx.Withdraw(c.Request.Context(), rc.Username, rc.RequestID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result.Balance)
}
