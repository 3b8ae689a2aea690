package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRateLimitRouter(perMinute int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandler())
	r.POST("/login", RateLimit(perMinute), func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRateLimitExhaustion(t *testing.T) {
	// two per minute keeps one token of burst, so the second hit trips it
	r := setupRateLimitRouter(2)

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("198.51.100.10")
	require.Equal(t, http.StatusOK, w.Code)

	w = do("198.51.100.10")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"message": "Too many requests. Slow down."}`, w.Body.String())

	// still exhausted on the next attempt
	w = do("198.51.100.10")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitIsPerClientAddress(t *testing.T) {
	r := setupRateLimitRouter(2)

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, do("203.0.113.1").Code)
	require.Equal(t, http.StatusTooManyRequests, do("203.0.113.1").Code)

	// a different client starts with a fresh bucket
	assert.Equal(t, http.StatusOK, do("203.0.113.2").Code)
}
