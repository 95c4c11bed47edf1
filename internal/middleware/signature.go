package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/response"
)

const (
	// SignatureHeader carries the HMAC-SHA256 of the body as "sha256=<hex>".
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="
	maxBodyBytes    = 5 << 20
)

// GitHubSignature rejects requests whose body was not signed with secret. The body is restored for
// the next handler.
func GitHubSignature(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusRequestEntityTooLarge, "request body too large"))
			return
		}
		if !ValidSignature(key, body, c.GetHeader(SignatureHeader)) {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid webhook signature"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// ValidSignature reports whether header is the HMAC-SHA256 of body under key.
func ValidSignature(key, body []byte, header string) bool {
	if len(key) == 0 || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body under key.
func Sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
