package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/gateway"
)

const contextKeyRequestContext = "requestContext"

// requestIDMiddleware assigns X-Request-ID when the gateway didn't
// set one, so every request is correlatable in logs even when called
// directly (e.g. in tests) rather than through the real gateway.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(gateway.HeaderRequestID) == "" {
			c.Request.Header.Set(gateway.HeaderRequestID, uuid.NewString())
		}
		c.Next()
	}
}

// gatewayContextMiddleware parses the header contract into a
// gateway.RequestContext and stores it for handlers.
func gatewayContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := gateway.FromHeaders(c.Request.Header)
		c.Set(contextKeyRequestContext, rc)
		c.Next()
	}
}

func requestContext(c *gin.Context) gateway.RequestContext {
	v, ok := c.Get(contextKeyRequestContext)
	if !ok {
		return gateway.RequestContext{}
	}
	return v.(gateway.RequestContext)
}

// requireAuth aborts with 403 if the gateway did not mark the request
// authenticated, matching spec.md §6's trust contract: an absent
// X-Authenticated header means there is no identity to act as.
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		rc := requestContext(c)
		if !rc.Authenticated || rc.Username == "" {
			respondError(c, apperrors.New(apperrors.KindAccessDenied, "authentication required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// respondError writes the HTTP status and body apperrors.Kind maps
// to, attaching the request's correlation ID.
func respondError(c *gin.Context, err error) {
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status, ok := apperrors.HTTPStatus[ae.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{"error": ae.Kind, "message": ae.Message}
	if rc := requestContext(c); rc.RequestID != "" {
		body["request_id"] = rc.RequestID
	}
	c.JSON(status, body)
}
