package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const clientIDContextKey = "auth_client_id"

// Middleware resolves the client id from its signed cookie, issuing a new
// identity (and CSRF token) when the cookie is missing or forged.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(s.cookieName); err == nil {
			if id, err := s.VerifyClient(raw); err == nil {
				c.Set(clientIDContextKey, id)
				if _, err := c.Cookie(s.csrfCookieName); err != nil {
					if err := s.issueCSRF(c); err != nil {
						c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
						return
					}
				}
				c.Next()
				return
			}
		}
		id, value, err := s.IssueClient()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.setCookie(c, s.cookieName, value, true, http.SameSiteLaxMode)
		if err := s.issueCSRF(c); err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Set(clientIDContextKey, id)
		c.Next()
	}
}

func (s *Service) issueCSRF(c *gin.Context) error {
	token, err := s.NewCSRFToken()
	if err != nil {
		return err
	}
	s.setCookie(c, s.csrfCookieName, token, false, http.SameSiteStrictMode)
	return nil
}

func (s *Service) setCookie(c *gin.Context, name, value string, httpOnly bool, sameSite http.SameSite) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   int(s.ttl.Seconds()),
		Path:     "/",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: httpOnly,
		SameSite: sameSite,
	})
}

// ClientIDFromContext retrieves the client id stored by Middleware.
func ClientIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(clientIDContextKey)
	if !ok {
		return "", false
	}
	id, ok := val.(string)
	return id, ok && id != ""
}
