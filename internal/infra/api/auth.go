package api

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crm-licensing/internal/infra/logging"
)

const (
	RoleAdmin = "admin"
	// RoleGateway may only report payment outcomes.
	RoleGateway = "payment-gateway"
)

var errUnauthorized = errors.New("unauthorized")

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator mints and verifies HS256 tokens for admins and the payment gateway.
type Authenticator struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Mint issues an admin token.
func (a *Authenticator) Mint(subject string) (string, error) {
	return a.MintRole(subject, RoleAdmin)
}

func (a *Authenticator) MintRole(subject, role string) (string, error) {
	if role != RoleAdmin && role != RoleGateway {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := a.now()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Parse(tok string) (*AdminClaims, error) {
	if len(a.secret) == 0 {
		return nil, errUnauthorized
	}
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !tkn.Valid {
		return nil, fmt.Errorf("%w: %v", errUnauthorized, err)
	}
	return claims, nil
}

func bearer(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
		return strings.TrimSpace(hdr[7:])
	}
	return ""
}

// RequireAdmin rejects requests without a valid admin bearer token.
func (a *Authenticator) RequireAdmin() Middleware {
	return a.RequireRole(RoleAdmin)
}

// RequireRole rejects requests whose bearer token does not carry one of roles.
func (a *Authenticator) RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearer(r)
			if tok == "" {
				writeError(w, r, errUnauthorized)
				return
			}
			claims, err := a.Parse(tok)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !slices.Contains(roles, claims.Role) {
				writeError(w, r, fmt.Errorf("%w: role %q", errUnauthorized, claims.Role))
				return
			}
			ctx := logging.WithSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
