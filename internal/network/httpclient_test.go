package network

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultClientConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultClientConfig()

	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	assert.Equal(t, DefaultMaxIdleConns, cfg.MaxIdleConns)
	assert.Equal(t, DefaultMaxIdleConnsPerHost, cfg.MaxIdleConnsPerHost)
	assert.True(t, cfg.ForceHTTP2)
	assert.False(t, cfg.IgnoreTLSErrors)
	assert.NotNil(t, cfg.Logger)
}

func TestNewClient_NilConfigUsesDefaults(t *testing.T) {
	t.Parallel()

	client := NewClient(nil)
	require.NotNil(t, client)
	assert.Equal(t, DefaultRequestTimeout, client.Timeout)
}

func TestNewClient_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(NewDefaultClientConfig())
	resp, err := client.Get(srv.URL + "/old")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/new", resp.Header.Get("Location"))
}

func TestNewHTTPTransport_TLSSettings(t *testing.T) {
	t.Parallel()

	transport := NewHTTPTransport(NewDefaultClientConfig())

	require.NotNil(t, transport.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), transport.TLSClientConfig.MinVersion)
	assert.False(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.NotEmpty(t, transport.TLSClientConfig.CipherSuites)
}

func TestNewHTTPTransport_IgnoreTLSErrors(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultClientConfig()
	cfg.IgnoreTLSErrors = true

	transport := NewHTTPTransport(cfg)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestNewHTTPTransport_HTTP1FallbackProtos(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultClientConfig()
	cfg.ForceHTTP2 = false

	transport := NewHTTPTransport(cfg)
	assert.Contains(t, transport.TLSClientConfig.NextProtos, "http/1.1")
}
