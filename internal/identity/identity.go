// Package identity resolves the caller of an API request into a
// model.Identity: a verified bearer token for signed-in users, otherwise an
// anonymous identity keyed on the client fingerprint.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sightline/internal/config"
	"github.com/sells-group/sightline/internal/model"
)

// FingerprintHeader carries the client fingerprint for anonymous callers.
const FingerprintHeader = "X-Fingerprint"

const maxFingerprintLen = 128

// ErrInvalidToken is returned for a bearer token that fails verification.
var ErrInvalidToken = eris.New("identity: invalid bearer token")

// Resolver turns requests into identities.
type Resolver struct {
	secret    []byte
	issuer    string
	tierClaim string
}

// NewResolver creates a Resolver. With an empty secret every bearer token is
// rejected.
func NewResolver(cfg config.AuthConfig) *Resolver {
	claim := cfg.TierClaim
	if claim == "" {
		claim = "tier"
	}
	return &Resolver{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, tierClaim: claim}
}

// Resolve inspects the Authorization and fingerprint headers. A request
// with neither a token nor a fingerprint is a validation error.
func (r *Resolver) Resolve(req *http.Request) (model.Identity, error) {
	if token, ok := bearer(req.Header.Get("Authorization")); ok {
		return r.FromToken(token)
	}
	return Anonymous(req.Header.Get(FingerprintHeader), ClientIP(req))
}

// FromToken verifies an HS256 token and maps its claims.
func (r *Resolver) FromToken(token string) (model.Identity, error) {
	if len(r.secret) == 0 {
		return model.Identity{}, eris.Wrap(ErrInvalidToken, "no signing secret configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return model.Identity{}, eris.Wrapf(ErrInvalidToken, "%v", err)
	}

	sub, _ := claims.GetSubject()
	if sub == "" {
		sub = stringClaim(claims, "id")
	}
	if sub == "" {
		return model.Identity{}, eris.Wrap(ErrInvalidToken, "token has no subject")
	}

	return model.Identity{
		Kind:  KindForTier(stringClaim(claims, r.tierClaim)),
		Key:   sub,
		Email: stringClaim(claims, "email"),
	}, nil
}

// Anonymous builds an anonymous identity for a fingerprint and origin.
func Anonymous(fingerprint, origin string) (model.Identity, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return model.Identity{}, model.Validation("A browser fingerprint is required when not signed in.", nil)
	}
	if len(fingerprint) > maxFingerprintLen {
		return model.Identity{}, model.Validation("The browser fingerprint is malformed.", nil)
	}
	return model.Identity{
		Kind:   model.IdentityAnonymous,
		Key:    model.AnonymousKey(fingerprint),
		Origin: origin,
	}, nil
}

// KindForTier maps a plan name from the token to an identity kind. Unknown
// or empty plans are free.
func KindForTier(tier string) model.IdentityKind {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "unlimited", "admin", "staff", "lifetime":
		return model.IdentityUnlimited
	case "subscriber", "pro", "plus", "premium", "monthly", "annual":
		return model.IdentitySubscriber
	default:
		return model.IdentityFree
	}
}

// ClientIP returns the host of RemoteAddr. Forwarding headers are never
// read here; a trusted proxy setup rewrites RemoteAddr upstream.
func ClientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

type ctxKey struct{}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(model.Identity)
	return id, ok
}

func bearer(h string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func stringClaim(c jwt.MapClaims, name string) string {
	s, _ := c[name].(string)
	return s
}
