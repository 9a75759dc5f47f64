package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"rtcstats/internal/core/domain"
	"rtcstats/pkg/errors"
	"rtcstats/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newErrorRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)

	log := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(log), ErrorHandlerMiddleware(log))
	router.GET("/test", handler)
	return router
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_AppError(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		_ = c.Error(errors.NewRetriesExhaustedError(domain.ErrDuplicateKey, 3))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "RETRIES_EXHAUSTED", body["error"])
	assert.Equal(t, float64(3), body["details"].(map[string]interface{})["attempts"])
}

func TestErrorHandler_MalformedSample(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("decode: %w", domain.ErrMalformedSample))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, w)["error"])
}

func TestErrorHandler_PlainError(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("boom"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
}

func TestRecoveryMiddleware(t *testing.T) {
	router := newErrorRouter(func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	router := newErrorRouter(func(c *gin.Context) {
		seen = logger.RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", seen)
	assert.Equal(t, "fixed-id", w.Header().Get(RequestIDHeader))
}
