package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ledgerline/compliance_service/internal/api/middleware"
	"github.com/ledgerline/compliance_service/pkg/logger"
)

// Handler error logs must go through the logger the logging middleware scoped
// to the request, so every error line carries the request id.
func TestRequestLog_CarriesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	base := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(base))
	router.GET("/boom", func(c *gin.Context) {
		requestLog(c, zap.NewNop()).Error("handler failure")
		c.Status(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-123")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("handler failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-123", entries[0].ContextMap()["request_id"])
}

func TestRequestLog_FallsBackOutsideMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	fallback := zap.New(core)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	requestLog(c, fallback).Error("standalone failure")

	require.Equal(t, 1, logs.FilterMessage("standalone failure").Len())
}
