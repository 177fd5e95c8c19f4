package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/entities"
	"cnop-transactional-core/internal/txmanager"
)

const defaultOrderListLimit = 50

type createOrderRequest struct {
	OrderType entities.OrderType `json:"order_type" binding:"required"`
	AssetID   string             `json:"asset_id" binding:"required"`
	Quantity  decimal.Decimal    `json:"quantity"`
	// Price is accepted for API-contract compatibility but never
	// trusted: the transaction manager prices every order from the
	// live catalog (AssetDAO), not from client input.
	Price decimal.Decimal `json:"price,omitempty"`
}

// handleCreateOrder implements POST /orders.
func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.New(apperrors.KindValidationError, err.Error()))
		return
	}
	if !req.Quantity.IsPositive() {
		respondError(c, apperrors.New(apperrors.KindValidationError, "quantity must be positive"))
		return
	}

	rc := requestContext(c)
	var (
		result *txmanager.Result
		err    error
	)
	switch req.OrderType {
	case entities.OrderTypeBuy:
		result, err = s.tx.BuyOrder(c.Request.Context(), rc.Username, rc.RequestID, req.AssetID, req.Quantity)
	case entities.OrderTypeSell:
		result, err = s.tx.SellOrder(c.Request.Context(), rc.Username, rc.RequestID, req.AssetID, req.Quantity)
	default:
		respondError(c, apperrors.New(apperrors.KindValidationError, "order_type must be BUY or SELL"))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result.Order)
}

// handleGetOrder implements GET /orders/{id}.
func (s *Server) handleGetOrder(c *gin.Context) {
	order, err := s.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !s.ownsOrAdmin(c, order.Username) {
		respondError(c, apperrors.New(apperrors.KindAccessDenied, "cannot view another user's order"))
		return
	}
	c.JSON(http.StatusOK, order)
}

// handleListUserOrders implements GET /users/{username}/orders.
func (s *Server) handleListUserOrders(c *gin.Context) {
	username := c.Param("username")
	if !s.ownsOrAdmin(c, username) {
		respondError(c, apperrors.New(apperrors.KindAccessDenied, "cannot list another user's orders"))
		return
	}

	var assetID *string
	if v := c.Query("asset_id"); v != "" {
		assetID = &v
	}
	limit := defaultOrderListLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	orders, err := s.orders.ListByUser(c.Request.Context(), username, assetID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// ownsOrAdmin reports whether the authenticated caller may act on
// username's resources: either they are username, or they hold the
// admin role.
func (s *Server) ownsOrAdmin(c *gin.Context, username string) bool {
	rc := requestContext(c)
	if rc.Username == username {
		return true
	}
	return rc.Role == string(entities.RoleAdmin)
}
