package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var ErrInvalidClient = errors.New("invalid client cookie")

// Service issues and verifies anonymous browser-client identities. Each
// browser gets a random client id, signed so it cannot be forged.
type Service struct {
	secret         []byte
	ttl            time.Duration
	cookieName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService signs client ids with secret. An empty secret gets a random one,
// which invalidates every client cookie on restart.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	key := []byte(secret)
	if len(key) == 0 {
		raw, err := generateToken()
		if err != nil {
			return nil, err
		}
		log.Printf("client_secret not set, using an ephemeral signing key")
		key = []byte(raw)
	}
	return &Service{
		secret:         key,
		ttl:            ttl,
		cookieName:     "mc_client",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}, nil
}

// IssueClient mints a new client id and the signed cookie value for it.
func (s *Service) IssueClient() (clientID, cookie string, err error) {
	clientID, err = generateToken()
	if err != nil {
		return "", "", err
	}
	return clientID, clientID + "." + s.sign(clientID), nil
}

// VerifyClient returns the client id carried by a signed cookie value.
func (s *Service) VerifyClient(cookie string) (string, error) {
	id, sig, ok := strings.Cut(cookie, ".")
	if !ok || id == "" || sig == "" {
		return "", ErrInvalidClient
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(id))) {
		return "", ErrInvalidClient
	}
	return id, nil
}

func (s *Service) sign(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ClientCookieName returns the cookie name storing the signed client id.
func (s *Service) ClientCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TTL reports the cookie lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}
