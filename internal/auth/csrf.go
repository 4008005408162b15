package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	errCSRFMissing  = "csrf cookie missing, reload the page"
	errCSRFMismatch = "csrf token does not match this client"
)

// CSRFMiddleware checks state-changing requests from a cookie-identified
// client: the CSRF header must echo the csrf cookie issued next to the
// client cookie. Safe methods pass through.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) {
			c.Next()
			return
		}
		cookieToken, err := c.Cookie(s.csrfCookieName)
		if err != nil || cookieToken == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errCSRFMissing})
			return
		}
		headerToken := c.GetHeader(s.csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errCSRFMismatch})
			return
		}
		c.Next()
	}
}

func safeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
