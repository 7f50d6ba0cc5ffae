package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims is the payload of the signed session cookie. The jti binds
// the cookie to exactly one server-side session record.
type SessionClaims struct {
	TokenType  string `json:"token_type"`
	AuthMethod string `json:"auth_method,omitempty"`
	jwt.RegisteredClaims
}

type SessionTokenManager struct {
	issuer   string
	audience string
	secret   []byte
}

func NewSessionTokenManager(issuer, audience, secret string) *SessionTokenManager {
	return &SessionTokenManager{
		issuer:   issuer,
		audience: audience,
		secret:   []byte(secret),
	}
}

// Sign mints a session cookie token for the given user and session token id.
// The token's expiry mirrors the session record's ExpiresAt; the record is
// authoritative, the cookie merely fails fast.
func (m *SessionTokenManager) Sign(userID uint, tokenID, authMethod string, expiresAt time.Time) (string, error) {
	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	claims := SessionClaims{
		TokenType:  "session",
		AuthMethod: authMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", userID),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        tokenID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse validates a session cookie token and returns its claims.
func (m *SessionTokenManager) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != "session" {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
