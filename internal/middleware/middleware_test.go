package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/student-tracker-sync/internal/service"
)

func TestValidSignature(t *testing.T) {
	key := []byte("secret")
	body := []byte(`{"zen":"x"}`)

	assert.True(t, ValidSignature(key, body, Sign(key, body)))
	assert.False(t, ValidSignature(key, []byte(`{}`), Sign(key, body)))
	assert.False(t, ValidSignature(nil, body, Sign(nil, body)))
	assert.False(t, ValidSignature(key, body, "sha1=abc"))
	assert.False(t, ValidSignature(key, body, "sha256=zz"))
}

func TestMetricsCountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, uint64(2), metrics.Snapshot().RequestsTotal)
}
