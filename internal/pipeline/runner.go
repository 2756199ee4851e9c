// Package pipeline wires the probing stages together: load inputs, resolve
// authentication, classify, execute, infer patterns, and persist the run
// artifacts. It is the programmatic entry point the CLI drives.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/auth"
	"github.com/apiprobe/apiprobe/internal/classifier"
	"github.com/apiprobe/apiprobe/internal/config"
	"github.com/apiprobe/apiprobe/internal/llmclient"
	"github.com/apiprobe/apiprobe/internal/network"
	"github.com/apiprobe/apiprobe/internal/patterns"
	"github.com/apiprobe/apiprobe/internal/tester"
	"github.com/apiprobe/apiprobe/internal/tokencache"
)

// json sorts map keys so artifacts are diffable across runs.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Artifact file names written into the output directory.
const (
	ClassificationsFile = "classifications.json"
	ResultsFile         = "results.json"
	PatternsFile        = "patterns.json"
	RunFile             = "run.json"
)

// Summary describes one completed probe run.
type Summary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	BaseURL        string    `json:"base_url"`
	AuthType       string    `json:"auth_type"`
	OperationCount int       `json:"operation_count"`
	SkippedOps     []string  `json:"skipped_operations"`
	ResultCount    int       `json:"result_count"`
	PatternCount   int       `json:"pattern_count"`
	OutputDir      string    `json:"output_dir"`
}

// Runner executes the full probing pipeline for one API.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewRunner builds a runner from a validated configuration.
func NewRunner(cfg *config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.Named("pipeline"),
	}
}

// Run drives the pipeline end to end and writes the artifacts. The returned
// summary is also persisted as run.json.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := time.Now().UTC()
	runID := uuid.NewString()
	r.logger.Info("Starting probe run",
		zap.String("run_id", runID),
		zap.String("base_url", r.cfg.Probe.BaseURL),
	)

	ops, err := LoadOperations(r.cfg.Probe.OperationsFile)
	if err != nil {
		return nil, fmt.Errorf("loading operations: %w", err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("operations file %s contains no operations", r.cfg.Probe.OperationsFile)
	}
	r.logger.Info("Operations loaded", zap.Int("count", len(ops)))

	creds := LoadCredentials(r.cfg.Probe.CredentialsFile, r.logger)

	llm, err := llmclient.NewClient(r.cfg.LLM, r.logger)
	if err != nil {
		return nil, fmt.Errorf("building LLM client: %w", err)
	}
	if llm != nil {
		defer func() {
			if closeErr := llm.Close(); closeErr != nil {
				r.logger.Warn("Error closing LLM client", zap.Error(closeErr))
			}
		}()
	}

	cache := tokencache.New(r.cfg.TokenCache.Path, r.logger)

	tokenURL := r.cfg.Probe.TokenURL
	if tokenURL == "" {
		tokenURL = auth.DetectTokenURL(ops, r.cfg.Probe.BaseURL, r.logger)
		if tokenURL != "" {
			r.logger.Info("Token endpoint detected from documentation", zap.String("token_url", tokenURL))
		}
	}

	strategy := auth.Resolve(auth.ResolveConfig{
		AuthType:    r.cfg.Probe.AuthType,
		Credentials: creds,
		TokenURL:    tokenURL,
		Cache:       cache,
		Logger:      r.logger,
	})
	r.logger.Info("Authentication resolved", zap.String("auth_type", string(strategy.Type())))

	cls := classifier.New(llm, r.logger)
	detector := patterns.New(llm, r.logger)

	httpClient := network.NewClient(&network.ClientConfig{
		IgnoreTLSErrors:       r.cfg.Network.IgnoreTLSErrors,
		RequestTimeout:        r.cfg.Network.RequestTimeout,
		TLSHandshakeTimeout:   network.DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: network.DefaultResponseHeaderTimeout,
		MaxIdleConns:          network.DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   network.DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       network.DefaultIdleConnTimeout,
		ForceHTTP2:            r.cfg.Network.ForceHTTP2,
		Logger:                r.logger,
	})

	engine := tester.NewEngine(tester.Config{
		BaseURL:             r.cfg.Probe.BaseURL,
		Strategy:            strategy,
		Classifier:          cls,
		EnableProductionOps: r.cfg.Tester.EnableProductionOps,
		RequestDelay:        r.cfg.Tester.RequestDelay,
		HTTPClient:          httpClient,
		Logger:              r.logger,
	})

	classifications := cls.ClassifyAll(ctx, ops, "")

	results, err := engine.RunAll(ctx, ops)
	if err != nil {
		return nil, fmt.Errorf("executing tests: %w", err)
	}

	discovered := make(map[string][]schemas.Pattern, len(ops))
	resultCount, patternCount := 0, 0
	var skipped []string
	for _, op := range ops {
		key := op.Key()
		opResults := results[key]
		resultCount += len(opResults)
		if len(opResults) == 0 {
			skipped = append(skipped, key)
			continue
		}
		found := detector.Analyze(ctx, op, opResults)
		discovered[key] = found
		patternCount += len(found)
	}

	summary := &Summary{
		RunID:          runID,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
		BaseURL:        r.cfg.Probe.BaseURL,
		AuthType:       string(strategy.Type()),
		OperationCount: len(ops),
		SkippedOps:     skipped,
		ResultCount:    resultCount,
		PatternCount:   patternCount,
		OutputDir:      r.cfg.Probe.OutputDir,
	}

	if err := r.writeArtifacts(summary, classifications, results, discovered); err != nil {
		return nil, err
	}

	r.logger.Info("Probe run complete",
		zap.String("run_id", runID),
		zap.Int("operations", summary.OperationCount),
		zap.Int("results", summary.ResultCount),
		zap.Int("patterns", summary.PatternCount),
		zap.Strings("skipped", skipped),
	)
	return summary, nil
}

func (r *Runner) writeArtifacts(
	summary *Summary,
	classifications map[string]schemas.Classification,
	results map[string][]schemas.TestResult,
	discovered map[string][]schemas.Pattern,
) error {
	outDir := r.cfg.Probe.OutputDir
	if outDir == "" {
		outDir = "output"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	summary.OutputDir = outDir

	artifacts := []struct {
		name string
		data any
	}{
		{name: ClassificationsFile, data: classifications},
		{name: ResultsFile, data: results},
		{name: PatternsFile, data: discovered},
		{name: RunFile, data: summary},
	}
	for _, artifact := range artifacts {
		if err := writeJSON(filepath.Join(outDir, artifact.name), artifact.data); err != nil {
			return err
		}
		r.logger.Debug("Artifact written", zap.String("file", artifact.name))
	}
	return nil
}

func writeJSON(path string, data any) error {
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
