package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func echoEngine(received *[]byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Logging(discardLogger()))
	engine.POST("/echo", func(c *gin.Context) {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatus(500)
			return
		}
		*received = b
		c.Status(204)
	})
	return engine
}

// Redaction must only touch the logged copy; the handler binds the
// caller's original payload, sensitive field names included.
func TestLoggingPreservesBodyWithRedactedFieldNames(t *testing.T) {
	body := `{"userId":"u-1","token":"live-credential","password":"hunter2"}`

	var received []byte
	engine := echoEngine(&received)
	req := httptest.NewRequest("POST", "/echo", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, 204, w.Code)
	assert.Equal(t, body, string(received))
}

func TestLoggingPreservesBodyPastCaptureLimit(t *testing.T) {
	payload := map[string]string{"notes": strings.Repeat("x", 3*reqBodyLimit)}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	var received []byte
	engine := echoEngine(&received)
	req := httptest.NewRequest("POST", "/echo", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, 204, w.Code)
	assert.True(t, bytes.Equal(body, received), "bodies over the capture limit must reach the handler intact")
}
