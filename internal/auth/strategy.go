// Package auth resolves and applies request authentication. A Strategy is a
// pure header decorator; anything that needs the network to obtain a
// credential (OAuth token generation) is exposed separately so callers
// control when the round trip happens.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/tokencache"
)

// Type identifies an authentication scheme.
type Type string

const (
	TypeNone         Type = "none"
	TypeBearer       Type = "bearer"
	TypeBasic        Type = "basic"
	TypeAPIKey       Type = "api_key"
	TypeOAuth        Type = "oauth"
	TypeSOAPSecurity Type = "soap_security"
)

// Strategy applies authentication to an outgoing request's headers.
type Strategy interface {
	Apply(h http.Header)
	Type() Type
}

// ResolveConfig carries everything needed to construct a strategy.
type ResolveConfig struct {
	// AuthType forces a scheme; empty or "none" triggers inference from the
	// credential bag.
	AuthType string

	Credentials schemas.CredentialBag

	// TokenURL is the OAuth token endpoint, when known.
	TokenURL string

	// Cache is the shared token cache; nil disables OAuth caching.
	Cache *tokencache.Cache

	Logger *zap.Logger
}

// Resolve builds the strategy for the configured or inferred auth type. An
// unrecognized type degrades to no auth with a warning rather than failing
// the run.
func Resolve(cfg ResolveConfig) Strategy {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("auth")

	authType := Type(cfg.AuthType)
	if authType == "" || authType == TypeNone {
		authType = infer(cfg.Credentials, logger)
	}

	switch authType {
	case TypeBearer:
		return &BearerStrategy{Token: cfg.Credentials.Get("token"), logger: logger}
	case TypeBasic:
		return &BasicStrategy{
			Username: cfg.Credentials.Get("username"),
			Password: cfg.Credentials.Get("password"),
			logger:   logger,
		}
	case TypeAPIKey:
		header := cfg.Credentials.Get("header")
		if header == "" {
			header = "X-API-Key"
		}
		return &APIKeyStrategy{Key: cfg.Credentials.Get("api_key"), Header: header, logger: logger}
	case TypeOAuth:
		return NewOAuthStrategy(cfg.Credentials, cfg.TokenURL, cfg.Cache, logger)
	case TypeSOAPSecurity:
		return &SOAPSecurityStrategy{
			Username: cfg.Credentials.Get("username"),
			Password: cfg.Credentials.Get("password"),
			logger:   logger,
		}
	case TypeNone:
		return NoneStrategy{}
	default:
		logger.Warn("Unknown auth type, proceeding without authentication", zap.String("auth_type", string(authType)))
		return NoneStrategy{}
	}
}

// infer picks a scheme from the credential fields present. Order matters: an
// explicit token wins over everything, username/password is the weakest
// signal because OAuth grants carry those fields too.
func infer(creds schemas.CredentialBag, logger *zap.Logger) Type {
	switch {
	case creds.Has("token"):
		logger.Info("Inferred auth type: bearer (has token)")
		return TypeBearer
	case creds.Has("api_key"):
		logger.Info("Inferred auth type: api_key (has api_key)")
		return TypeAPIKey
	case creds.Has("access_token") || creds.Has("client_id"):
		logger.Info("Inferred auth type: oauth (has oauth fields)")
		return TypeOAuth
	case creds.Has("username") && creds.Has("password"):
		logger.Info("Inferred auth type: basic (has username/password)")
		return TypeBasic
	default:
		logger.Warn("Could not infer auth type from credentials")
		return TypeNone
	}
}

// NoneStrategy leaves requests untouched.
type NoneStrategy struct{}

func (NoneStrategy) Apply(http.Header) {}
func (NoneStrategy) Type() Type        { return TypeNone }

// BearerStrategy sets Authorization: Bearer <token>.
type BearerStrategy struct {
	Token  string
	logger *zap.Logger
}

func (s *BearerStrategy) Apply(h http.Header) {
	if s.Token == "" {
		s.log().Warn("Bearer token not found in credentials")
		return
	}
	h.Set("Authorization", "Bearer "+s.Token)
}

func (s *BearerStrategy) Type() Type { return TypeBearer }

func (s *BearerStrategy) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// BasicStrategy sets Authorization: Basic <base64(user:pass)>.
type BasicStrategy struct {
	Username string
	Password string
	logger   *zap.Logger
}

func (s *BasicStrategy) Apply(h http.Header) {
	if s.Username == "" || s.Password == "" {
		s.log().Warn("Username or password not found in credentials")
		return
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(s.Username + ":" + s.Password))
	h.Set("Authorization", "Basic "+encoded)
}

func (s *BasicStrategy) Type() Type { return TypeBasic }

func (s *BasicStrategy) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// APIKeyStrategy sets the key under a configurable header name.
type APIKeyStrategy struct {
	Key    string
	Header string
	logger *zap.Logger
}

func (s *APIKeyStrategy) Apply(h http.Header) {
	if s.Key == "" {
		s.log().Warn("API key not found in credentials")
		return
	}
	header := s.Header
	if header == "" {
		header = "X-API-Key"
	}
	h.Set(header, s.Key)
}

func (s *APIKeyStrategy) Type() Type { return TypeAPIKey }

func (s *APIKeyStrategy) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Describe returns a one-line human summary of the strategy, for run logs.
func Describe(s Strategy) string {
	if s == nil {
		return string(TypeNone)
	}
	return fmt.Sprintf("%s auth", s.Type())
}
