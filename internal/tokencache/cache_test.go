package tokencache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token_cache.json")
	return New(path, zap.NewNop()), path
}

func TestCacheSaveAndGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)

	err := c.Save("api.example.com", SaveRequest{
		AccessToken: "x",
		ExpiresIn:   3600 * time.Second,
	})
	require.NoError(t, err)

	tok, ok := c.Get("api.example.com")
	require.True(t, ok)
	assert.Equal(t, "x", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)
}

func TestCacheGetUnknownID(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	require.NoError(t, c.Save("api-one", SaveRequest{AccessToken: "x", ExpiresIn: time.Hour}))

	tok, ok := c.Get("api-two")
	assert.False(t, ok)
	assert.Nil(t, tok)
}

func TestCacheExpiryBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		expiresIn time.Duration
		advance   time.Duration
		wantValid bool
	}{
		{
			name:      "fresh token well inside lifetime",
			expiresIn: time.Hour,
			advance:   0,
			wantValid: true,
		},
		{
			name:      "token inside the five minute buffer is rejected",
			expiresIn: time.Hour,
			advance:   56 * time.Minute,
			wantValid: false,
		},
		{
			name:      "token just outside the buffer is still valid",
			expiresIn: time.Hour,
			advance:   54 * time.Minute,
			wantValid: true,
		},
		{
			name:      "expired token",
			expiresIn: time.Hour,
			advance:   2 * time.Hour,
			wantValid: false,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestCache(t)
			base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
			c.SetClock(func() time.Time { return base })

			require.NoError(t, c.Save("api", SaveRequest{AccessToken: "x", ExpiresIn: tc.expiresIn}))

			c.SetClock(func() time.Time { return base.Add(tc.advance) })
			_, ok := c.Get("api")
			assert.Equal(t, tc.wantValid, ok)
		})
	}
}

func TestCacheDefaultLifetime(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return base })

	// No expiry info at all: default lifetime of one hour applies.
	require.NoError(t, c.Save("api", SaveRequest{AccessToken: "opaque-token"}))

	_, ok := c.Get("api")
	assert.True(t, ok, "token should be valid immediately after save")

	c.SetClock(func() time.Time { return base.Add(61 * time.Minute) })
	_, ok = c.Get("api")
	assert.False(t, ok, "token should be expired after the default lifetime")
}

func TestCacheJWTExpiryFallback(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return base })

	exp := base.Add(30 * time.Minute)
	require.NoError(t, c.Save("api", SaveRequest{AccessToken: makeJWT(t, exp)}))

	tok, ok := c.Get("api")
	require.True(t, ok)
	assert.WithinDuration(t, exp, tok.ExpiresAt, time.Second)

	// Past the JWT expiry the token is gone, well before the 1h default.
	c.SetClock(func() time.Time { return base.Add(31 * time.Minute) })
	_, ok = c.Get("api")
	assert.False(t, ok)
}

func TestCachePersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	c1, path := newTestCache(t)
	require.NoError(t, c1.Save("api", SaveRequest{AccessToken: "persisted", ExpiresIn: time.Hour}))

	c2 := New(path, zap.NewNop())
	tok, ok := c2.Get("api")
	require.True(t, ok)
	assert.Equal(t, "persisted", tok.AccessToken)
}

func TestCacheMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token_cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	c := New(path, zap.NewNop())
	_, ok := c.Get("api")
	assert.False(t, ok)

	// The cache stays usable after loading garbage.
	require.NoError(t, c.Save("api", SaveRequest{AccessToken: "x", ExpiresIn: time.Hour}))
	_, ok = c.Get("api")
	assert.True(t, ok)
}

func TestCacheSaveFromResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		response  map[string]any
		wantErr   bool
		wantToken string
	}{
		{
			name: "standard oauth response",
			response: map[string]any{
				"access_token": "abc",
				"token_type":   "bearer",
				"expires_in":   float64(3600),
			},
			wantToken: "abc",
		},
		{
			name: "token key instead of access_token",
			response: map[string]any{
				"token": "def",
			},
			wantToken: "def",
		},
		{
			name: "extra fields preserved",
			response: map[string]any{
				"access_token": "ghi",
				"expires_in":   float64(600),
				"tenant":       "acme",
			},
			wantToken: "ghi",
		},
		{
			name:     "no token at all",
			response: map[string]any{"error": "invalid_grant"},
			wantErr:  true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c, _ := newTestCache(t)
			err := c.SaveFromResponse("api", tc.response)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			tok, ok := c.Get("api")
			require.True(t, ok)
			assert.Equal(t, tc.wantToken, tok.AccessToken)

			if tenant, ok := tc.response["tenant"]; ok {
				assert.Equal(t, tenant, tok.Extra["tenant"])
			}
		})
	}
}

func TestCacheClear(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	require.NoError(t, c.Save("api-one", SaveRequest{AccessToken: "a", ExpiresIn: time.Hour}))
	require.NoError(t, c.Save("api-two", SaveRequest{AccessToken: "b", ExpiresIn: time.Hour}))

	c.Clear("api-one")
	_, ok := c.Get("api-one")
	assert.False(t, ok)
	_, ok = c.Get("api-two")
	assert.True(t, ok)

	c.ClearAll()
	_, ok = c.Get("api-two")
	assert.False(t, ok)
}

func TestCacheFileFormat(t *testing.T) {
	t.Parallel()

	c, path := newTestCache(t)
	require.NoError(t, c.Save("api", SaveRequest{AccessToken: "x", ExpiresIn: time.Hour}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	tokens, ok := raw["tokens"].(map[string]any)
	require.True(t, ok, "cache file must have a top-level tokens object")
	assert.Contains(t, tokens, "api")
}

// makeJWT builds an unsigned JWT carrying only an exp claim.
func makeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	payload := enc(map[string]int64{"exp": exp.Unix()})
	return fmt.Sprintf("%s.%s.", header, payload)
}
