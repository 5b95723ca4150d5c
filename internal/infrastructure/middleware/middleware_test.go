package middleware

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/services"
	"rehearsal/pkg/logger"
	apperrors "rehearsal/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := services.NewAuthService("secret", time.Hour, "baton")

	router := gin.New()
	router.POST("/play", AuthMiddleware(auth), RequireRole(domain.RoleConductor), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Username)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/play", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/play",
		http.Header{"Authorization": []string{"Basic abc"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/play", bearer("garbage")).Code)

	musician, _, err := auth.GenerateToken("u1", "viola", domain.RoleMusician)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, "/play", bearer(musician)).Code)

	conductor, _, err := auth.IssueConductorToken("maestro", "baton")
	require.NoError(t, err)
	w := serve(router, http.MethodPost, "/play", bearer(conductor))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "maestro", w.Body.String())
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/missing", func(c *gin.Context) {
		c.Error(apperrors.NewNotFoundError("track").WithContext("track_id", 4))
	})
	router.GET("/boom", func(c *gin.Context) {
		c.Error(errors.New("disk on fire"))
	})

	w := serve(router, http.MethodGet, "/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"NOT_FOUND","message":"track not found","details":{"track_id":4}}`, w.Body.String())

	w = serve(router, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/panic", func(c *gin.Context) { panic("mixer exploded") })

	w := serve(router, http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

type recordedRequest struct {
	method, route string
	status        int
}

type fakeObserver struct {
	requests []recordedRequest
}

func (o *fakeObserver) RecordHTTPRequest(method, route string, status int, _ time.Duration) {
	o.requests = append(o.requests, recordedRequest{method, route, status})
}

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &fakeObserver{}
	ctxLogger := logger.NewContextLogger(zaptest.NewLogger(t))

	router := gin.New()
	router.Use(TracingMiddleware(ctxLogger, observer))
	router.GET("/tracks/:id", func(c *gin.Context) {
		assert.NotEmpty(t, logger.RequestID(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	w := serve(router, http.MethodGet, "/tracks/3", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = serve(router, http.MethodGet, "/tracks/3", http.Header{RequestIDHeader: []string{"abc"}})
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))

	require.Len(t, observer.requests, 2)
	assert.Equal(t, recordedRequest{http.MethodGet, "/tracks/:id", http.StatusNoContent}, observer.requests[0])
}
