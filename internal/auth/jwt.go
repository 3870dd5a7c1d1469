// Package auth issues and checks the credentials of the identity API.
//
// A sign-in produces an HS256 JWT whose subject is the account id and whose
// jti is a fresh xid. The client stores the token opaquely in its session
// record and sends it back as a Bearer header. Logout revokes the jti, so a
// token copied before logout stops working even though it has not expired.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "course-session"

// ErrTokenExpired is returned by Validate for a token past its expiry.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService signs and validates session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters; ttl is how long an issued token stays valid.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token TTL must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Claims is what a valid token proves.
type Claims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// Generate issues a token for userID.
func (s *TokenService) Generate(userID string) (string, *Claims, error) {
	return s.generate(userID, s.ttl)
}

func (s *TokenService) generate(userID string, ttl time.Duration) (string, *Claims, error) {
	now := s.now()
	c := &Claims{
		UserID:    userID,
		TokenID:   xid.New().String(),
		ExpiresAt: now.Add(ttl),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   c.UserID,
		ID:        c.TokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		Issuer:    issuer,
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, c, nil
}

// Validate checks the signature, issuer and expiry of tokenStr. It does
// not consult the revocation list; see service.AccountService.Authenticate.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&rc,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if rc.Subject == "" || rc.ID == "" {
		return nil, errors.New("auth: token is missing subject or id")
	}

	return &Claims{
		UserID:    rc.Subject,
		TokenID:   rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}
