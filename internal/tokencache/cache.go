// Package tokencache persists bearer tokens across runs with expiry
// validation. The cache is a single human-inspectable JSON file keyed by an
// API identifier (typically the token endpoint's host). Loss of the cache is
// never fatal: malformed data reads as an empty cache and write failures are
// logged and swallowed, the worst outcome being an extra token request.
//
// Concurrent process invocations against the same cache file are unsafe
// (last-writer-wins). The tool runs single-threaded, so no in-process
// locking is needed beyond the mutex guarding the in-memory map.
package tokencache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

const (
	// ExpiryBuffer is subtracted from a token's expiry when validating, so a
	// token about to expire mid-request is never handed out.
	ExpiryBuffer = 5 * time.Minute

	// DefaultLifetime is assumed when a token response carries no expiry
	// information at all.
	DefaultLifetime = time.Hour

	// DefaultPath is the conventional cache location relative to the
	// working directory.
	DefaultPath = "input/.token_cache.json"
)

// Token is one cached credential.
type Token struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type"`
	ExpiresAt    time.Time      `json:"expires_at"`
	CreatedAt    time.Time      `json:"created_at"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// SaveRequest carries the fields of a token being stored. Exactly one of
// ExpiresIn or ExpiresAt should be set; when both are zero the JWT exp claim
// of the access token is consulted, then the default lifetime applies.
type SaveRequest struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    time.Duration
	ExpiresAt    time.Time
	RefreshToken string
	Scope        string
	Extra        map[string]any
}

// fileFormat mirrors the on-disk layout: {"tokens": {api_id: {...}}}.
type fileFormat struct {
	Tokens map[string]Token `json:"tokens"`
}

// Cache is a file-backed token store.
type Cache struct {
	mu     sync.Mutex
	path   string
	tokens map[string]Token
	logger *zap.Logger

	// now is injectable for expiry tests.
	now func() time.Time
}

// New creates a cache backed by the given file path ("~" is expanded). The
// file is loaded eagerly; a missing or corrupt file yields an empty cache.
func New(path string, logger *zap.Logger) *Cache {
	if path == "" {
		path = DefaultPath
	}
	if expanded, err := homedir.Expand(path); err == nil {
		path = expanded
	}

	c := &Cache{
		path:   path,
		logger: logger.Named("tokencache"),
		now:    time.Now,
	}
	c.tokens = c.load()
	return c
}

// load reads the cache file. Any failure is reported as an empty cache.
func (c *Cache) load() map[string]Token {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Error loading token cache", zap.String("path", c.path), zap.Error(err))
		}
		return map[string]Token{}
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		c.logger.Warn("Malformed token cache, treating as empty", zap.String("path", c.path), zap.Error(err))
		return map[string]Token{}
	}
	if ff.Tokens == nil {
		return map[string]Token{}
	}
	return ff.Tokens
}

// persist writes the cache file synchronously. I/O errors are logged, not
// returned: losing the cache only costs a future token request.
func (c *Cache) persist() {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Error("Error creating token cache directory", zap.String("dir", dir), zap.Error(err))
			return
		}
	}

	data, err := json.MarshalIndent(fileFormat{Tokens: c.tokens}, "", "  ")
	if err != nil {
		c.logger.Error("Error encoding token cache", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		c.logger.Error("Error saving token cache", zap.String("path", c.path), zap.Error(err))
		return
	}
	c.logger.Debug("Token cache saved", zap.String("path", c.path))
}

// Get returns the cached token for apiID if it is still comfortably inside
// its lifetime. Expired tokens are evicted on the spot and the eviction is
// persisted, so a later run does not retry a dead token.
func (c *Cache) Get(apiID string) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tok, ok := c.tokens[apiID]
	if !ok {
		c.logger.Debug("No cached token", zap.String("api_id", apiID))
		return nil, false
	}

	if c.expired(tok) {
		c.logger.Info("Cached token expired, evicting", zap.String("api_id", apiID))
		delete(c.tokens, apiID)
		c.persist()
		return nil, false
	}

	c.logger.Debug("Using cached token", zap.String("api_id", apiID))
	return &tok, true
}

// AccessToken returns just the access token string for apiID, or "".
func (c *Cache) AccessToken(apiID string) string {
	tok, ok := c.Get(apiID)
	if !ok {
		return ""
	}
	return tok.AccessToken
}

// RefreshToken returns the refresh token for apiID, if any, without expiry
// validation: a refresh token outlives its access token.
func (c *Cache) RefreshToken(apiID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens[apiID].RefreshToken
}

// expired reports whether a token is inside the expiry buffer.
func (c *Cache) expired(tok Token) bool {
	if tok.ExpiresAt.IsZero() {
		c.logger.Warn("Token has no expiration info, assuming valid")
		return false
	}
	return !c.now().Add(ExpiryBuffer).Before(tok.ExpiresAt)
}

// Save stores a token under apiID and persists synchronously.
func (c *Cache) Save(apiID string, req SaveRequest) error {
	if req.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}

	now := c.now().UTC()

	tokenType := req.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() && req.ExpiresIn > 0 {
		expiresAt = now.Add(req.ExpiresIn)
	}
	if expiresAt.IsZero() {
		if exp, ok := jwtExpiry(req.AccessToken); ok {
			c.logger.Debug("Token expiry taken from JWT exp claim", zap.Time("expires_at", exp))
			expiresAt = exp
		} else {
			c.logger.Warn("No expiration info for token, defaulting to 1 hour", zap.String("api_id", apiID))
			expiresAt = now.Add(DefaultLifetime)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[apiID] = Token{
		AccessToken:  req.AccessToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		RefreshToken: req.RefreshToken,
		Scope:        req.Scope,
		Extra:        req.Extra,
	}
	c.persist()

	c.logger.Info("Token saved to cache", zap.String("api_id", apiID), zap.Time("expires_at", expiresAt))
	return nil
}

// SaveFromResponse updates the cache from a decoded OAuth token response.
// Unknown fields are preserved under Extra so nothing the endpoint returned
// is thrown away.
func (c *Cache) SaveFromResponse(apiID string, response map[string]any) error {
	accessToken := stringField(response, "access_token")
	if accessToken == "" {
		accessToken = stringField(response, "token")
	}
	if accessToken == "" {
		c.logger.Error("No access_token found in token response")
		return fmt.Errorf("token response missing access_token")
	}

	req := SaveRequest{
		AccessToken:  accessToken,
		TokenType:    stringField(response, "token_type"),
		RefreshToken: stringField(response, "refresh_token"),
		Scope:        stringField(response, "scope"),
	}
	if v, ok := numberField(response, "expires_in"); ok {
		req.ExpiresIn = time.Duration(v) * time.Second
	}
	if s := stringField(response, "expires_at"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			req.ExpiresAt = t
		}
	}

	known := map[string]bool{
		"access_token": true, "token": true, "token_type": true,
		"expires_in": true, "expires_at": true, "refresh_token": true, "scope": true,
	}
	for k, v := range response {
		if !known[k] {
			if req.Extra == nil {
				req.Extra = map[string]any{}
			}
			req.Extra[k] = v
		}
	}

	return c.Save(apiID, req)
}

// Clear removes the token for apiID.
func (c *Cache) Clear(apiID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tokens[apiID]; ok {
		delete(c.tokens, apiID)
		c.persist()
		c.logger.Info("Token cleared", zap.String("api_id", apiID))
	}
}

// ClearAll removes every cached token.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens = map[string]Token{}
	c.persist()
	c.logger.Info("All tokens cleared from cache")
}

// SetClock overrides the cache's notion of "now". Tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// jwtExpiry extracts the exp claim from a JWT access token without verifying
// the signature. Verification is not the point here: the issuer told us when
// the token dies, and that beats guessing one hour.
func jwtExpiry(accessToken string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
