// Package auth implements the token verifier (C1): it extracts a
// signed bearer token from a cookie header and returns the embedded
// user principal, or a typed Unauthenticated failure.
package auth

import (
	"errors"
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/brinewave/cipherline/internal/apperr"
	"github.com/brinewave/cipherline/internal/model"
)

// Principal is the claim set embedded in the token.
type Principal struct {
	Hex       string            `json:"hex"`
	Name      string            `json:"name"`
	Avatar    string            `json:"avatar"`
	Verified  bool              `json:"verified"`
	Status    model.UserStatus  `json:"status"`
	PublicKey string            `json:"publicKey"`
}

type claims struct {
	Principal
	jwt.RegisteredClaims
}

// Verifier validates tokens signed with a shared HMAC secret.
type Verifier struct {
	secret        []byte
	signingMethod jwt.SigningMethod
	cookieName    string
}

func methodFor(name string) jwt.SigningMethod {
	switch name {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// NewVerifier builds a Verifier bound to secret and the HMAC variant
// named by signingMethod ("HS256" by default).
func NewVerifier(secret, signingMethod, cookieName string) *Verifier {
	if cookieName == "" {
		cookieName = "x-access-token"
	}
	return &Verifier{
		secret:        []byte(secret),
		signingMethod: methodFor(signingMethod),
		cookieName:    cookieName,
	}
}

// CookieName is the configured access-token cookie's name.
func (v *Verifier) CookieName() string { return v.cookieName }

// ExtractCookie parses a raw "Cookie" header and returns the value of
// the configured access-token cookie.
func (v *Verifier) ExtractCookie(header string) (string, bool) {
	req := http.Request{Header: http.Header{"Cookie": []string{header}}}
	c, err := req.Cookie(v.cookieName)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

// Authenticate verifies a raw cookie header and returns the embedded
// principal, or a typed Unauthenticated error on any failure: missing
// cookie, bad signature, expired, or malformed token.
func (v *Verifier) Authenticate(cookieHeader string) (*Principal, *apperr.Error) {
	raw, ok := v.ExtractCookie(cookieHeader)
	if !ok || raw == "" {
		return nil, apperr.New(apperr.Unauthenticated, "missing access token cookie")
	}
	return v.AuthenticateToken(raw)
}

// AuthenticateToken verifies a raw token string directly, used when the
// token is passed outside a cookie header (e.g. already split out by a
// websocket upgrade handler).
func (v *Verifier) AuthenticateToken(raw string) (*Principal, *apperr.Error) {
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.signingMethod.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, apperr.Wrap(apperr.Unauthenticated, "invalid or expired token", err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || c.Hex == "" {
		return nil, apperr.New(apperr.Unauthenticated, "malformed token claims")
	}
	p := c.Principal
	return &p, nil
}

// Issue mints a token for the given principal. No HTTP handler in this
// module calls it; the tests use it to mint access-token cookies.
func (v *Verifier) Issue(p Principal, ttl jwt.NumericDate) (string, error) {
	c := claims{
		Principal: p,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Hex,
			ExpiresAt: &ttl,
		},
	}
	tok := jwt.NewWithClaims(v.signingMethod, c)
	return tok.SignedString(v.secret)
}
