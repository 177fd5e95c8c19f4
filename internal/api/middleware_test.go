package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnop-transactional-core/internal/apperrors"
	"cnop-transactional-core/internal/gateway"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	for _, h := range handlers {
		r.Use(h)
	}
	return r
}

func TestRequestIDMiddlewareAssignsWhenAbsent(t *testing.T) {
	r := newTestRouter(requestIDMiddleware())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = c.GetHeader(gateway.HeaderRequestID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.NotEmpty(t, seen)
}

func TestRequestIDMiddlewarePreservesExisting(t *testing.T) {
	r := newTestRouter(requestIDMiddleware())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = c.GetHeader(gateway.HeaderRequestID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(gateway.HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", seen)
}

func TestGatewayContextMiddlewareIgnoresIdentityWithoutAuthenticatedHeader(t *testing.T) {
	r := newTestRouter(gatewayContextMiddleware())
	var rc gateway.RequestContext
	r.GET("/x", func(c *gin.Context) {
		rc = requestContext(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(gateway.HeaderUserName, "alice")
	req.Header.Set(gateway.HeaderUserRole, "customer")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.False(t, rc.Authenticated)
	assert.Empty(t, rc.Username)
}

func TestRequireAuthRejectsUnauthenticatedRequest(t *testing.T) {
	r := newTestRouter(gatewayContextMiddleware())
	r.GET("/x", requireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireAuthAllowsAuthenticatedRequest(t *testing.T) {
	r := newTestRouter(gatewayContextMiddleware())
	r.GET("/x", requireAuth(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(gateway.HeaderAuthenticated, "true")
	req.Header.Set(gateway.HeaderUserName, "alice")
	req.Header.Set(gateway.HeaderUserRole, "customer")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRespondErrorIncludesRequestID(t *testing.T) {
	r := newTestRouter(requestIDMiddleware(), gatewayContextMiddleware())
	r.GET("/x", func(c *gin.Context) {
		respondError(c, apperrors.New(apperrors.KindValidationError, "bad input"))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(gateway.HeaderRequestID, "req-456")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "req-456")
}
