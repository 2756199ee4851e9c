package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/tokencache"
)

const tokenRequestTimeout = 30 * time.Second

// tokenPaths are the response shapes token endpoints use in the wild, in
// lookup order.
var tokenPaths = []string{"access_token", "token", "data.token", "data.access_token"}

// OAuthStrategy authenticates with a bearer token obtained from an OAuth 2.0
// token endpoint. Tokens come from the credential bag directly, from the
// shared cache, or from a token request; Apply only attaches whatever token
// is currently held, the network round trip lives in GenerateToken.
type OAuthStrategy struct {
	creds    schemas.CredentialBag
	tokenURL string
	cache    *tokencache.Cache
	client   *http.Client
	logger   *zap.Logger

	generated string
}

// NewOAuthStrategy builds the strategy. tokenURL may be empty when the
// credential bag already carries an access_token.
func NewOAuthStrategy(creds schemas.CredentialBag, tokenURL string, cache *tokencache.Cache, logger *zap.Logger) *OAuthStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OAuthStrategy{
		creds:    creds,
		tokenURL: tokenURL,
		cache:    cache,
		client:   &http.Client{Timeout: tokenRequestTimeout},
		logger:   logger.Named("oauth"),
	}
}

func (s *OAuthStrategy) Type() Type { return TypeOAuth }

// Apply attaches the current access token, if any.
func (s *OAuthStrategy) Apply(h http.Header) {
	token := s.currentToken()
	if token == "" {
		s.logger.Warn("OAuth access token not available")
		return
	}
	h.Set("Authorization", "Bearer "+token)
}

// HasToken reports whether a usable token is already held, so callers can
// decide whether GenerateToken is worth a round trip.
func (s *OAuthStrategy) HasToken() bool {
	return s.currentToken() != ""
}

// currentToken checks, in order: the credential bag, the cache, and the last
// generated token.
func (s *OAuthStrategy) currentToken() string {
	if t := s.creds.Get("access_token"); t != "" {
		return t
	}
	if s.cache != nil {
		if t := s.cache.AccessToken(s.apiIdentifier()); t != "" {
			s.logger.Debug("Using cached OAuth token")
			return t
		}
	}
	return s.generated
}

// apiIdentifier keys the token cache by the token endpoint's host, falling
// back to a fixed identifier when no URL is known.
func (s *OAuthStrategy) apiIdentifier() string {
	if s.tokenURL != "" {
		if u, err := url.Parse(s.tokenURL); err == nil && u.Host != "" {
			return u.Host
		}
		return s.tokenURL
	}
	return "default_api"
}

// canGenerate reports whether the credential bag holds enough to request a
// token: a full client credential pair or a username/password pair.
func (s *OAuthStrategy) canGenerate() bool {
	hasClient := s.creds.Has("client_id") && s.creds.Has("client_secret")
	hasPassword := s.creds.Has("username") && s.creds.Has("password")
	return hasClient || hasPassword
}

// grantType auto-selects a grant: with client credentials present, password
// grant is preferred when a username/password pair also exists, because such
// bags describe a resource-owner flow.
func (s *OAuthStrategy) grantType() string {
	if s.creds.Has("client_id") && s.creds.Has("client_secret") {
		if s.creds.Has("username") && s.creds.Has("password") {
			return "password"
		}
		return "client_credentials"
	}
	return "password"
}

// GenerateToken requests a fresh access token from the token endpoint and
// writes it through to the cache. Every failure path returns an error but
// the caller is expected to log and continue: a probe without auth still
// produces useful signal.
func (s *OAuthStrategy) GenerateToken(ctx context.Context) (string, error) {
	if !s.canGenerate() {
		return "", fmt.Errorf("cannot generate token: missing client_id/client_secret or username/password")
	}
	if s.tokenURL == "" {
		return "", fmt.Errorf("token URL not provided and cannot be detected")
	}

	grant := s.grantType()
	s.logger.Info("Generating OAuth token", zap.String("grant_type", grant), zap.String("token_url", s.tokenURL))

	form := url.Values{}
	form.Set("grant_type", grant)
	switch grant {
	case "client_credentials":
		form.Set("client_id", s.creds.Get("client_id"))
		form.Set("client_secret", s.creds.Get("client_secret"))
	case "password":
		form.Set("username", s.creds.Get("username"))
		form.Set("password", s.creds.Get("password"))
		// Some token endpoints require the client pair even for password grant.
		if s.creds.Has("client_id") {
			form.Set("client_id", s.creds.Get("client_id"))
		}
		if s.creds.Has("client_secret") {
			form.Set("client_secret", s.creds.Get("client_secret"))
		}
	}
	if s.creds.Has("scope") {
		form.Set("scope", s.creds.Get("scope"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token generation failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	token := extractToken(body)
	if token == "" {
		return "", fmt.Errorf("token response missing access_token: %s", strings.TrimSpace(string(body)))
	}

	if s.cache != nil {
		var decoded map[string]any
		if err := jsoniter.Unmarshal(body, &decoded); err == nil {
			if err := s.cache.SaveFromResponse(s.apiIdentifier(), decoded); err != nil {
				s.logger.Warn("Failed to cache generated token", zap.Error(err))
			}
		}
	}

	s.generated = token
	s.logger.Info("OAuth token generated successfully")
	return token, nil
}

// extractToken pulls the access token out of the known response shapes.
func extractToken(body []byte) string {
	for _, path := range tokenPaths {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
