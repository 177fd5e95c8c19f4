// Package gateway implements the header and JWT contract the HTTP
// surface trusts from the upstream gateway collaborator: request
// correlation (X-Request-ID), the authenticated-identity headers
// (X-User-Name, X-User-Role, X-Authenticated), and verification
// (never issuance) of the gateway-issued access token. Adapted from
// the teacher's internal/auth/jwt.go, narrowed to verification only —
// token issuance is an external collaborator per spec.md §1.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Header names the gateway collaborator is contractually required to
// set before forwarding a request to this core.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderUserName      = "X-User-Name"
	HeaderUserRole      = "X-User-Role"
	HeaderAuthenticated = "X-Authenticated"
)

// RequestContext is the per-request identity/correlation data the
// core trusts from headers. Username and Role are populated only when
// Authenticated is true — an unauthenticated caller's X-User-Name is
// never trusted, even if present.
type RequestContext struct {
	RequestID     string
	Username      string
	Role          string
	Authenticated bool
}

// FromHeaders builds a RequestContext from an inbound request's
// headers, applying the gateway's trust contract.
func FromHeaders(h http.Header) RequestContext {
	rc := RequestContext{
		RequestID:     h.Get(HeaderRequestID),
		Authenticated: h.Get(HeaderAuthenticated) != "",
	}
	if rc.Authenticated {
		rc.Username = h.Get(HeaderUserName)
		rc.Role = h.Get(HeaderUserRole)
	}
	return rc
}

// TokenType is the fixed "type" claim value the gateway issues for
// access tokens; this core rejects every other value.
const TokenType = "access_token"

// Claims mirrors the gateway-issued access token shape exactly:
// {sub, role, exp, iat, type}, signed HS256.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

var (
	// ErrInvalidToken covers malformed tokens, bad signatures, and
	// wrong signing methods.
	ErrInvalidToken = errors.New("gateway: invalid token")
	// ErrTokenExpired is returned separately so callers can
	// distinguish "re-authenticate" from "reject outright".
	ErrTokenExpired = errors.New("gateway: token expired")
	// ErrWrongTokenType is returned when a token's "type" claim is not
	// "access_token" (e.g. a refresh or verification token presented
	// where an access token is required).
	ErrWrongTokenType = errors.New("gateway: wrong token type")
)

// Verifier checks HS256 access tokens issued by the gateway
// collaborator. It never issues tokens — that remains an external
// concern per spec.md §1.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier bound to the shared signing secret
// (JWT_SECRET_KEY, resolved via internal/secrets).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString, returning the claims if
// the signature, expiry, and token type all check out.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenType {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// Username returns the claims' subject, the username the rest of the
// core treats as the authenticated identity.
func (c *Claims) Username() string { return c.Subject }

// defaultLifetime is the gateway's documented default access-token
// lifetime; kept here only as the constant a test fixture can assert
// tokens against, since issuance itself is out of scope.
const defaultLifetime = time.Hour
