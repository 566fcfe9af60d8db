package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/mbnrg-pip/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mbnrg-pip/internal/interfaces/http/handlers"
	"github.com/turtacn/mbnrg-pip/pkg/errors"
)

// APIKeyHeader is the alternative to "Authorization: Bearer <key>".
const APIKeyHeader = "X-API-Key"

// keyIDKey holds the fingerprint of the key that authenticated the request.
const keyIDKey = "api_key_id"

// AuthConfig lists the accepted keys. An empty Keys disables
// authentication.
type AuthConfig struct {
	Keys []string

	// SkipPaths bypass authentication, matched as exact paths or prefixes
	// followed by "/".
	SkipPaths []string
}

// APIKeyAuth rejects requests that carry no accepted key with 401.
func APIKeyAuth(config AuthConfig, logger logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	digests := make([][32]byte, 0, len(config.Keys))
	for _, k := range config.Keys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(c *gin.Context) {
		if len(digests) == 0 || shouldSkip(c.Request.URL.Path, config.SkipPaths) {
			c.Next()
			return
		}
		key := extractKey(c.Request)
		if key == "" {
			unauthorized(c, "authentication required")
			return
		}
		// Comparing digests keeps the comparison time independent of the
		// key length.
		d := sha256.Sum256([]byte(key))
		for _, want := range digests {
			if subtle.ConstantTimeCompare(d[:], want[:]) == 1 {
				c.Set(keyIDKey, fingerprint(d))
				c.Next()
				return
			}
		}
		logger.Warn("Rejected API key",
			logging.String("path", c.Request.URL.Path),
			logging.String("key_id", fingerprint(d)),
			logging.String("request_id", c.GetString(handlers.RequestIDKey)))
		unauthorized(c, "invalid API key")
	}
}

// KeyID returns the fingerprint of the authenticating key, or "" for
// anonymous requests.
func KeyID(c *gin.Context) string {
	return c.GetString(keyIDKey)
}

func shouldSkip(path string, skip []string) bool {
	for _, p := range skip {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

func fingerprint(d [32]byte) string {
	return hex.EncodeToString(d[:4])
}

func unauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Bearer realm="mbpip"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.ErrorResponse{
		Code:      string(errors.ErrCodeUnauthorized),
		Message:   message,
		RequestID: c.GetString(handlers.RequestIDKey),
	})
}
