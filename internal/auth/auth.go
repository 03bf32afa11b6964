// Package auth implements connection authentication: JWT, API key, and
// loopback bypass, per SPEC_FULL.md §4.4.
package auth

import (
	"crypto/subtle"
	"net"
	"time"

	"github.com/relayhub/orchestratord/internal/registry"
)

// Mode selects which credential kinds the Authenticator accepts.
type Mode string

const (
	ModeJWTOnly        Mode = "jwt-only"
	ModeAPIKeyOnly     Mode = "api-key-only"
	ModeBoth           Mode = "both"
	ModeLoopbackBypass Mode = "loopback-bypass"
)

// FailureCode is one of the stable internal auth failure reasons; the
// router maps these onto the wire AUTH_REQUIRED/AUTH_INVALID codes.
type FailureCode string

const (
	CredentialsMissing        FailureCode = "credentials_missing"
	JWTExpired                FailureCode = "jwt_expired"
	JWTSignatureInvalid       FailureCode = "jwt_signature_invalid"
	APIKeyInvalid             FailureCode = "api_key_invalid"
	MessageCredentialsMissing FailureCode = "message_credentials_missing"
)

// Failure is returned instead of an Identity when authentication fails.
type Failure struct {
	Code FailureCode
}

func (f *Failure) Error() string { return string(f.Code) }

// APIKey is one configured static credential.
type APIKey struct {
	Key      string
	ClientID string
	Scopes   []string
}

// Config configures an Authenticator. It is an opaque struct populated by
// the caller from already-parsed configuration; the Authenticator never
// reads files or environment variables itself.
type Config struct {
	Mode            Mode
	AllowLoopback   bool
	JWTSecret       []byte
	LoopbackScopes  []string
	APIKeys         []APIKey
}

// Handshake describes the transport-level connect attempt.
type Handshake struct {
	RemoteAddr string
	Token      string // from Authorization header or query param
	APIKey     string // from header or query param
}

// InlineCredentials is carried on a per-message auth payload.
type InlineCredentials struct {
	Token  string
	APIKey string
}

// Authenticator validates credentials and produces a registry.Identity.
type Authenticator struct {
	cfg     Config
	keyByID map[string]APIKey
}

func New(cfg Config) *Authenticator {
	a := &Authenticator{cfg: cfg, keyByID: make(map[string]APIKey, len(cfg.APIKeys))}
	for _, k := range cfg.APIKeys {
		a.keyByID[k.Key] = k
	}
	return a
}

// AuthenticateConnect runs connect-time authentication. When mode is
// "both" and both a JWT and an API key are present, the JWT wins.
func (a *Authenticator) AuthenticateConnect(h Handshake, now time.Time) (registry.Identity, *Failure) {
	if a.cfg.AllowLoopback && isLoopback(h.RemoteAddr) {
		return registry.Identity{ClientID: "loopback", Method: "loopback", Scopes: a.cfg.LoopbackScopes}, nil
	}

	switch a.cfg.Mode {
	case ModeJWTOnly:
		if h.Token == "" {
			return registry.Identity{}, &Failure{CredentialsMissing}
		}
		return a.verifyJWT(h.Token, now)
	case ModeAPIKeyOnly:
		if h.APIKey == "" {
			return registry.Identity{}, &Failure{CredentialsMissing}
		}
		return a.verifyAPIKey(h.APIKey)
	case ModeBoth, ModeLoopbackBypass:
		if h.Token != "" {
			return a.verifyJWT(h.Token, now)
		}
		if h.APIKey != "" {
			return a.verifyAPIKey(h.APIKey)
		}
		return registry.Identity{}, &Failure{CredentialsMissing}
	default:
		return registry.Identity{}, &Failure{CredentialsMissing}
	}
}

// AuthenticateMessage runs per-message authentication for an inline
// credentials object carried on a request frame.
func (a *Authenticator) AuthenticateMessage(c InlineCredentials, now time.Time) (registry.Identity, *Failure) {
	if c.Token != "" {
		return a.verifyJWT(c.Token, now)
	}
	if c.APIKey != "" {
		return a.verifyAPIKey(c.APIKey)
	}
	return registry.Identity{}, &Failure{MessageCredentialsMissing}
}

func (a *Authenticator) verifyAPIKey(key string) (registry.Identity, *Failure) {
	for _, candidate := range a.cfg.APIKeys {
		if subtle.ConstantTimeCompare([]byte(candidate.Key), []byte(key)) == 1 {
			return registry.Identity{ClientID: candidate.ClientID, Method: "api-key", Scopes: candidate.Scopes}, nil
		}
	}
	return registry.Identity{}, &Failure{APIKeyInvalid}
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
