package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	sessionKey = "auth.session"
)

// Method names how a request was admitted.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodNone   Method = "none" // authentication disabled
)

// Session is the per-request result of passing the credential gate.
type Session struct {
	Method Method
	// Principal identifies the credential without revealing it.
	Principal string
	RemoteIP  string
	IssuedAt  time.Time
}

// APIKeyMiddleware validates the API key from the X-API-Key header and
// attaches a Session to the request. If apiKey is empty, authentication is
// disabled and every request gets an anonymous session.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	principal := fingerprint(apiKey)

	return func(c *gin.Context) {
		if apiKey == "" {
			setSession(c, &Session{Method: MethodNone, Principal: "anonymous", RemoteIP: c.ClientIP(), IssuedAt: time.Now()})
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		setSession(c, &Session{Method: MethodAPIKey, Principal: principal, RemoteIP: c.ClientIP(), IssuedAt: time.Now()})
		c.Next()
	}
}

func setSession(c *gin.Context, s *Session) {
	c.Set(sessionKey, s)
}

// SessionFrom returns the session attached by APIKeyMiddleware.
func SessionFrom(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}

func fingerprint(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return "key:" + hex.EncodeToString(sum[:4])
}
