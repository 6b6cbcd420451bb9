package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// resolveClaims is the payload of the signed resolve token handed to the
// operator surface alongside a pending approval notification. It binds
// the token to one approval and its context hash so a stale link cannot
// resolve a different decision than the one the operator was shown.
type resolveClaims struct {
	ApprovalID  string `json:"apr"`
	RunID       string `json:"run"`
	ContextHash string `json:"ctx"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies resolve tokens with a shared HMAC
// secret, the control plane's signing key in a full deployment.
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret []byte) *TokenSigner {
	return &TokenSigner{secret: secret}
}

// Sign issues a resolve token valid until rec.ExpiresAt (or DefaultExpiry
// from now if unset, for run-scoped approvals).
func (s *TokenSigner) Sign(rec *Record) (string, error) {
	expiry := time.Now().Add(DefaultExpiry)
	if rec.ExpiresAt != nil {
		expiry = *rec.ExpiresAt
	}
	claims := resolveClaims{
		ApprovalID:  rec.ID,
		RunID:       rec.RunID,
		ContextHash: rec.ContextHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(rec.CreatedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a resolve token, returning the bound
// approval ID and context hash for the caller to pass into Store.Resolve.
func (s *TokenSigner) Verify(tokenString string) (approvalID, contextHash string, err error) {
	var claims resolveClaims
	_, err = jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("approval: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrExpired
		}
		return "", "", fmt.Errorf("approval: invalid resolve token: %w", err)
	}
	return claims.ApprovalID, claims.ContextHash, nil
}
