// Package csrf implements the double-submit cookie defense. The cookie is
// the only state; the middleware itself is stateless.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CookieName is readable by page scripts on purpose: the client mirrors
// the cookie value into HeaderName on every mutating call, proving the
// request originated from a page that could read the cookie.
const CookieName = "collabflow.csrf"
const HeaderName = "X-CSRF-Token"

const tokenBytes = 32

// Guard issues the CSRF cookie when absent (on safe methods too, so a
// token exists before the first mutating call) and validates mutating
// requests: cookie and header must both be present and exactly equal.
func Guard(secure bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Cookie(CookieName)
		if err != nil || cookie == "" {
			token, genErr := newToken()
			if genErr != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": gin.H{}})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(CookieName, token, 0, "/", "", secure, false)
			cookie = ""
		}

		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		header := c.GetHeader(HeaderName)
		if cookie == "" || header == "" || subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid CSRF token", "details": gin.H{}})
			return
		}
		c.Next()
	}
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
