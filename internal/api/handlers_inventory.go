package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cnop-transactional-core/internal/cache"
	"cnop-transactional-core/internal/entities"
)

const inventoryCacheTTL = 30 * time.Second

// handleListInventory implements GET /inventory.
func (s *Server) handleListInventory(c *gin.Context) {
	assets, err := s.assets.GetAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, assets)
}

// handleGetInventoryItem implements GET /inventory/{asset_id}. A
// healthy cache is consulted first since the catalog is read far more
// than it's written.
func (s *Server) handleGetInventoryItem(c *gin.Context) {
	assetID := c.Param("asset_id")
	ctx := c.Request.Context()

	if s.cache != nil && s.cache.IsHealthy() {
		var cached entities.Asset
		if err := s.cache.GetJSON(ctx, cache.AssetKey(assetID), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	asset, err := s.assets.Get(ctx, assetID)
	if err != nil {
		respondError(c, err)
		return
	}

	if s.cache != nil && s.cache.IsHealthy() {
		_ = s.cache.SetJSON(ctx, cache.AssetKey(assetID), asset, inventoryCacheTTL)
	}

	c.JSON(http.StatusOK, asset)
}
