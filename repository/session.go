package repository

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/teranos/mintdoi/errors"
)

// DefaultSessionTTL is used when the bearer token carries no expiry
const DefaultSessionTTL = 30 * time.Minute

// sessionSkew renews a session this long before the token expires
const sessionSkew = time.Minute

// Claims are the DSpace fields of the login JWT
type Claims struct {
	jwt.RegisteredClaims
	EPersonID string `json:"eid"`
	Signature string `json:"sg"`
}

// Session is an authenticated repository login
type Session struct {
	// Bearer is the Authorization header value returned by login, "Bearer <jwt>"
	Bearer    string
	ExpiresAt time.Time
}

// AccessToken is the bare JWT without the scheme
func (s Session) AccessToken() string {
	return strings.TrimSpace(strings.TrimPrefix(s.Bearer, "Bearer "))
}

// TTL returns how long the session may be cached at now
func (s Session) TTL(now time.Time) time.Duration {
	ttl := s.ExpiresAt.Sub(now) - sessionSkew
	if ttl <= 0 {
		return 0
	}
	return ttl
}

// newSession reads the expiry of a login bearer token. The signature is not
// checked: the repository issued the token and is the only one that verifies it.
func newSession(bearer string, now time.Time) (Session, error) {
	s := Session{Bearer: strings.TrimSpace(bearer)}
	if s.Bearer == "" {
		return Session{}, errors.Mark(errors.New("login response carried no Authorization header"), errors.ErrAuth)
	}

	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken(), &claims); err != nil {
		// Opaque tokens are accepted with the default lifetime
		s.ExpiresAt = now.Add(DefaultSessionTTL)
		return s, nil
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	} else {
		s.ExpiresAt = now.Add(DefaultSessionTTL)
	}
	return s, nil
}
