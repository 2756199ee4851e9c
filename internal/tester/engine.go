// Package tester executes generated payloads against a live API and records
// what came back. Every variant yields a result: HTTP error statuses are
// data, only transport failures are marked as errors, and those still
// produce a result row rather than aborting the run.
package tester

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/auth"
	"github.com/apiprobe/apiprobe/internal/classifier"
	"github.com/apiprobe/apiprobe/internal/network"
	"github.com/apiprobe/apiprobe/internal/payload"
)

// DefaultRequestDelay paces probes so the target never sees a burst.
const DefaultRequestDelay = 500 * time.Millisecond

var (
	templateVarRegex = regexp.MustCompile(`\{\{[^}]+\}\}`)
	multiSlashRegex  = regexp.MustCompile(`/+`)
)

// Config assembles an Engine.
type Config struct {
	BaseURL        string
	DefaultHeaders map[string]string

	// Strategy authenticates outgoing requests; nil means unauthenticated.
	Strategy auth.Strategy

	// Classifier gates risky operations; nil disables gating.
	Classifier *classifier.Classifier

	// EnableProductionOps allows probing operations classified as
	// production. Off by default: skipping is the safe failure mode.
	EnableProductionOps bool

	// RequestDelay is the minimum spacing between requests; zero means
	// DefaultRequestDelay, negative disables pacing.
	RequestDelay time.Duration

	// HTTPClient overrides the default probing client. Tests inject one here.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Engine drives test execution for a single API.
type Engine struct {
	baseURL             string
	defaultHeaders      map[string]string
	strategy            auth.Strategy
	classifier          *classifier.Classifier
	enableProductionOps bool
	client              *http.Client
	limiter             *rate.Limiter
	logger              *zap.Logger
}

// NewEngine builds an engine from the config, filling in defaults.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = network.NewClient(network.NewDefaultClientConfig())
	}

	delay := cfg.RequestDelay
	if delay == 0 {
		delay = DefaultRequestDelay
	}
	var limiter *rate.Limiter
	if delay > 0 {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
	}

	return &Engine{
		baseURL:             strings.TrimRight(cfg.BaseURL, "/"),
		defaultHeaders:      cfg.DefaultHeaders,
		strategy:            cfg.Strategy,
		classifier:          cfg.Classifier,
		enableProductionOps: cfg.EnableProductionOps,
		client:              client,
		limiter:             limiter,
		logger:              logger.Named("tester"),
	}
}

// RunAll probes every operation and returns results keyed by op.Key().
// A skipped production operation is present with an empty slice, so the
// caller can tell "skipped" from "never attempted".
func (e *Engine) RunAll(ctx context.Context, ops []schemas.Operation) (map[string][]schemas.TestResult, error) {
	all := make(map[string][]schemas.TestResult, len(ops))
	for _, op := range ops {
		results, err := e.Run(ctx, op)
		if err != nil {
			return all, err
		}
		all[op.Key()] = results
	}
	return all, nil
}

// Run probes one operation with every generated payload variant. The only
// error returned is context cancellation; everything else lands in results.
func (e *Engine) Run(ctx context.Context, op schemas.Operation) ([]schemas.TestResult, error) {
	key := op.Key()
	e.logger.Info("Testing operation", zap.String("operation", key))

	if e.classifier != nil {
		verdict := e.classifier.Classify(ctx, op, "")
		if verdict.IsProduction && !e.enableProductionOps {
			e.logger.Warn("Skipping production operation",
				zap.String("operation", key),
				zap.String("risk_level", string(verdict.RiskLevel)),
				zap.String("reason", verdict.Reason),
			)
			return []schemas.TestResult{}, nil
		}
	}

	variants := payload.Generate(op)
	results := make([]schemas.TestResult, 0, len(variants))
	for i, variant := range variants {
		name := payload.Describe(variant, i)
		e.logger.Debug("Running test",
			zap.Int("test", i+1),
			zap.Int("total", len(variants)),
			zap.String("name", name),
		)

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		results = append(results, e.execute(ctx, op, variant.Data, name))
	}

	e.logger.Info("Completed operation tests", zap.String("operation", key), zap.Int("results", len(results)))
	return results, nil
}

// execute fires a single request and packages the outcome. A 401 triggers
// exactly one token refresh and retry when the strategy can generate tokens;
// a 403 is only logged, re-authenticating will not fix a permission gap.
func (e *Engine) execute(ctx context.Context, op schemas.Operation, data map[string]any, testName string) schemas.TestResult {
	result := schemas.TestResult{
		OperationKey: op.Key(),
		TestName:     testName,
		Payload:      data,
	}
	if result.Payload == nil {
		result.Payload = map[string]any{}
	}

	e.ensureAuthentication(ctx)

	resp, body, elapsed, err := e.doRequest(ctx, op, data)
	if err != nil {
		e.logger.Warn("Request failed", zap.String("test", testName), zap.Error(err))
		result.Error = err.Error()
		result.Elapsed = elapsed
		return result
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if oauth, ok := e.strategy.(*auth.OAuthStrategy); ok {
			e.logger.Warn("Received 401 Unauthorized, attempting to refresh authentication")
			if _, tokenErr := oauth.GenerateToken(ctx); tokenErr != nil {
				e.logger.Error("Error refreshing token", zap.Error(tokenErr))
			} else {
				e.logger.Info("Token refreshed, retrying request")
				if retryResp, retryBody, retryElapsed, retryErr := e.doRequest(ctx, op, data); retryErr == nil {
					resp, body, elapsed = retryResp, retryBody, retryElapsed
				} else {
					e.logger.Warn("Retry after refresh failed", zap.Error(retryErr))
				}
			}
		}
	}

	if resp.StatusCode == http.StatusForbidden && e.strategy != nil && e.strategy.Type() != auth.TypeNone {
		e.logger.Warn("Received 403 Forbidden, authentication may lack permissions")
	}

	result.Status = resp.StatusCode
	result.Elapsed = elapsed
	result.Body = decodeBody(body)
	result.Headers = flattenHeaders(resp.Header)

	e.logger.Debug("Test complete",
		zap.String("test", testName),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)
	return result
}

// doRequest builds and sends one HTTP request. The request is rebuilt per
// call so a retry never reuses a consumed body reader.
func (e *Engine) doRequest(ctx context.Context, op schemas.Operation, data map[string]any) (*http.Response, []byte, time.Duration, error) {
	targetURL := e.baseURL + CleanPath(op.Path)

	var bodyReader io.Reader
	sendJSON := false
	switch op.Method {
	case schemas.MethodPost, schemas.MethodPut, schemas.MethodPatch:
		if data != nil {
			encoded, err := jsoniter.Marshal(data)
			if err != nil {
				return nil, nil, 0, fmt.Errorf("encoding request body: %w", err)
			}
			bodyReader = bytes.NewReader(encoded)
			sendJSON = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, targetURL, bodyReader)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("building request: %w", err)
	}

	query := req.URL.Query()
	if op.Method == schemas.MethodGet {
		for k, v := range data {
			query.Set(k, fmt.Sprint(v))
		}
	}
	for k, v := range op.QueryParams {
		query.Set(k, v)
	}
	req.URL.RawQuery = query.Encode()

	for k, v := range e.defaultHeaders {
		req.Header.Set(k, v)
	}
	if sendJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.strategy != nil {
		e.strategy.Apply(req.Header)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, nil, elapsed, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, elapsed, fmt.Errorf("reading response body: %w", err)
	}
	return resp, body, elapsed, nil
}

// ensureAuthentication tops up credentials that need a network round trip
// before they can be applied.
func (e *Engine) ensureAuthentication(ctx context.Context) {
	oauth, ok := e.strategy.(*auth.OAuthStrategy)
	if !ok || oauth.HasToken() {
		return
	}
	e.logger.Debug("No OAuth token held, generating before request")
	if _, err := oauth.GenerateToken(ctx); err != nil {
		e.logger.Warn("Could not obtain OAuth token, proceeding unauthenticated", zap.Error(err))
	}
}

// CleanPath strips documentation template variables ({{base_url}} and
// friends) from a path and normalizes slashes. A missing path becomes "/".
func CleanPath(path string) string {
	if path == "" {
		return "/"
	}
	cleaned := templateVarRegex.ReplaceAllString(path, "")
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	return multiSlashRegex.ReplaceAllString(cleaned, "/")
}

// decodeBody parses a response body as JSON when possible, else returns the
// raw text. Empty bodies decode to nil.
func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var decoded any
	if err := jsoniter.Unmarshal(body, &decoded); err == nil {
		return decoded
	}
	return string(body)
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k, values := range h {
		if len(values) > 0 {
			flat[k] = values[0]
		}
	}
	return flat
}

// TargetURL reports the absolute URL a path would be probed at, for logs and
// artifact metadata.
func (e *Engine) TargetURL(path string) string {
	u := e.baseURL + CleanPath(path)
	if parsed, err := url.Parse(u); err == nil {
		return parsed.String()
	}
	return u
}
