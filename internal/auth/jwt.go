package auth

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/relayhub/orchestratord/internal/registry"
)

// scopeClaim accepts either a JSON array of scopes or an OAuth-style
// space-delimited string under "scp", matching the two shapes seen
// across the callers this protocol talks to.
type scopeClaim []string

func (s *scopeClaim) UnmarshalJSON(b []byte) error {
	var asArray []string
	if err := json.Unmarshal(b, &asArray); err == nil {
		*s = asArray
		return nil
	}
	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		return err
	}
	*s = strings.Fields(asString)
	return nil
}

type claims struct {
	jwt.Claims
	Scopes scopeClaim `json:"scp"`
}

var allowedSigAlgs = []jose.SignatureAlgorithm{jose.HS256, jose.HS384, jose.HS512}

// verifyJWT parses and verifies a compact JWS, rejecting signatures not
// produced by the configured secret and tokens expired at now.
func (a *Authenticator) verifyJWT(token string, now time.Time) (registry.Identity, *Failure) {
	parsed, err := jwt.ParseSigned(token, allowedSigAlgs)
	if err != nil {
		return registry.Identity{}, &Failure{JWTSignatureInvalid}
	}

	var c claims
	if err := parsed.Claims(a.cfg.JWTSecret, &c); err != nil {
		return registry.Identity{}, &Failure{JWTSignatureInvalid}
	}

	if c.Expiry != nil && c.Expiry.Time().Before(now) {
		return registry.Identity{}, &Failure{JWTExpired}
	}

	var expiresAt *int64
	if c.Expiry != nil {
		ms := c.Expiry.Time().UnixMilli()
		expiresAt = &ms
	}

	return registry.Identity{
		ClientID:  c.Subject,
		Method:    "jwt",
		Scopes:    []string(c.Scopes),
		ExpiresAt: expiresAt,
	}, nil
}
