package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60, nil)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
}

func TestTokenBucketMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewTokenBucket(1, 1, func(c *gin.Context) string { return c.GetHeader("X-Device") })
	r := gin.New()
	r.Use(l.GinMiddleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(device string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Device", device)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, do("r1"))
	assert.Equal(t, http.StatusTooManyRequests, do("r1"))
	assert.Equal(t, http.StatusOK, do("r2"))
}
