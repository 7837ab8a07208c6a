package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitMiddleware(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer client.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(client, 2))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// first request in the window sets the expiry
	mock.Regexp().ExpectIncr(`ratelimit:.+`).SetVal(1)
	mock.Regexp().ExpectExpire(`ratelimit:.+`, time.Minute).SetVal(true)
	assert.Equal(t, http.StatusOK, get())

	mock.Regexp().ExpectIncr(`ratelimit:.+`).SetVal(2)
	assert.Equal(t, http.StatusOK, get())

	mock.Regexp().ExpectIncr(`ratelimit:.+`).SetVal(3)
	assert.Equal(t, http.StatusTooManyRequests, get())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimitMiddleware_RedisDownFailsOpen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer client.Close()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(client, 1))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})

	mock.Regexp().ExpectIncr(`ratelimit:.+`).SetErr(assert.AnError)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitMiddleware_NilClientPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(nil, 1))
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
