package patterns

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(_ context.Context, _ schemas.GenerationRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Close() error { return nil }

func okResult(payload map[string]any, body any) schemas.TestResult {
	return schemas.TestResult{Payload: payload, Status: 200, Body: body}
}

func TestAnalyzeEmptyResults(t *testing.T) {
	t.Parallel()

	d := New(nil, zap.NewNop())
	assert.Empty(t, d.Analyze(context.Background(), schemas.Operation{Method: "GET", Path: "/x"}, nil))
}

func TestDetectInputOutput(t *testing.T) {
	t.Parallel()

	results := []schemas.TestResult{
		okResult(map[string]any{"name": "a"}, map[string]any{"id": float64(1), "name": "a"}),
		okResult(map[string]any{"name": "b"}, map[string]any{"id": float64(2), "name": "b"}),
		// Failing result with the same shape must be excluded from grouping.
		{Payload: map[string]any{"name": "c"}, Status: 400, Body: map[string]any{"error": "bad"}},
	}

	patterns := detectInputOutput(results)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, schemas.PatternInputOutput, p.Type)
	assert.Contains(t, p.Description, "name:string")
	assert.Equal(t, confidenceInputOutput, p.Confidence)
	assert.Len(t, p.Examples, 2)
}

func TestDetectInputOutputInconsistentStructure(t *testing.T) {
	t.Parallel()

	results := []schemas.TestResult{
		okResult(map[string]any{"name": "a"}, map[string]any{"id": float64(1)}),
		okResult(map[string]any{"name": "b"}, map[string]any{"different": true}),
	}
	assert.Empty(t, detectInputOutput(results))
}

func TestDetectValidation(t *testing.T) {
	t.Parallel()

	results := []schemas.TestResult{
		{
			Payload: map[string]any{"email": 123, "name": "ok"},
			Status:  400,
			Body:    map[string]any{"error": "email must be a string"},
		},
		// 400 whose message names no field yields nothing.
		{
			Payload: map[string]any{"name": "x"},
			Status:  400,
			Body:    map[string]any{"error": "malformed request"},
		},
		// Non-400 is not a validation signal.
		{
			Payload: map[string]any{"email": "a@b.c"},
			Status:  500,
			Body:    map[string]any{"error": "email service down"},
		},
	}

	patterns := detectValidation(results)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, schemas.PatternValidation, p.Type)
	assert.Contains(t, p.Description, "'email'")
	assert.Equal(t, []string{"Field: email"}, p.Conditions)
	assert.Equal(t, confidenceValidation, p.Confidence)
}

func TestDetectErrors(t *testing.T) {
	t.Parallel()

	results := []schemas.TestResult{
		{Payload: map[string]any{"a": 1}, Status: 422, Body: map[string]any{"message": "quantity exceeds stock"}},
		{Payload: map[string]any{"a": 2}, Status: 422, Body: map[string]any{"message": "quantity below minimum"}},
		{Payload: map[string]any{"a": 3}, Status: 200, Body: map[string]any{}},
	}

	patterns := detectErrors(results)
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, schemas.PatternError, p.Type)
	assert.Contains(t, p.Description, "HTTP 422 occurs when:")
	assert.Contains(t, p.Description, "related to:")
	assert.Equal(t, confidenceError, p.Confidence)
}

func TestDetectDependencies(t *testing.T) {
	t.Parallel()

	results := []schemas.TestResult{
		{Payload: map[string]any{"type": "simple", "value": 10}, Status: 200},
		{Payload: map[string]any{"type": "special", "value": 10}, Status: 422},
		// Two fields differ: no conclusion possible.
		{Payload: map[string]any{"type": "other", "value": 99}, Status: 200},
	}

	patterns := detectDependencies(results[:2])
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, schemas.PatternDependency, p.Type)
	assert.Contains(t, p.Description, "'type'")
	require.Len(t, p.Conditions, 2)
	assert.Contains(t, p.Conditions[0], "Status 200")
	assert.Contains(t, p.Conditions[1], "Status 422")
	assert.Equal(t, confidenceDependency, p.Confidence)

	// Same statuses, single differing field: no dependency either.
	same := []schemas.TestResult{
		{Payload: map[string]any{"type": "a"}, Status: 200},
		{Payload: map[string]any{"type": "b"}, Status: 200},
	}
	assert.Empty(t, detectDependencies(same))
}

func TestAIPatternDiscovery(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{response: `{"patterns": [{"type": "validation", "description": "value must be positive", "conditions": ["value > 0"], "confidence": 0.7}]}`}
	d := New(llm, zap.NewNop())

	results := []schemas.TestResult{
		okResult(map[string]any{"value": 1}, map[string]any{"ok": true}),
		okResult(map[string]any{"value": 2}, map[string]any{"ok": true}),
		{Payload: map[string]any{"value": -1}, Status: 400, Body: map[string]any{"error": "negative"}},
	}

	patterns := d.Analyze(context.Background(), schemas.Operation{Method: "POST", Path: "/v"}, results)
	require.Equal(t, 1, llm.calls)

	var aiPattern *schemas.Pattern
	for i := range patterns {
		if patterns[i].Description == "value must be positive" {
			aiPattern = &patterns[i]
		}
	}
	require.NotNil(t, aiPattern, "AI-discovered pattern must be included")
	assert.Equal(t, schemas.PatternValidation, aiPattern.Type)
	assert.Equal(t, 0.7, aiPattern.Confidence)
}

func TestAIPassSkippedBelowThreshold(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{response: `{"patterns": []}`}
	d := New(llm, zap.NewNop())

	results := []schemas.TestResult{
		okResult(map[string]any{"a": 1}, map[string]any{"ok": true}),
		okResult(map[string]any{"a": 2}, map[string]any{"ok": true}),
	}
	d.Analyze(context.Background(), schemas.Operation{Method: "POST", Path: "/v"}, results)
	assert.Zero(t, llm.calls, "fewer than three results must not trigger the AI pass")
}

func TestAIFailureOnlyDropsAIPatterns(t *testing.T) {
	t.Parallel()

	llm := &fakeLLM{err: errors.New("backend down")}
	d := New(llm, zap.NewNop())

	results := []schemas.TestResult{
		okResult(map[string]any{"name": "a"}, map[string]any{"id": float64(1)}),
		okResult(map[string]any{"name": "b"}, map[string]any{"id": float64(2)}),
		{Payload: map[string]any{"name": 5}, Status: 400, Body: map[string]any{"error": "name must be a string"}},
	}

	patterns := d.Analyze(context.Background(), schemas.Operation{Method: "POST", Path: "/v"}, results)
	assert.NotEmpty(t, patterns, "heuristic patterns survive an AI failure")
}

func TestExtractErrorMessage(t *testing.T) {
	t.Parallel()

	longText := ""
	for i := 0; i < 50; i++ {
		longText += "0123456789"
	}

	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "error key", body: map[string]any{"error": "boom"}, want: "boom"},
		{name: "message key", body: map[string]any{"message": "nope"}, want: "nope"},
		{name: "detail key", body: map[string]any{"detail": "missing field"}, want: "missing field"},
		{name: "key priority", body: map[string]any{"message": "second", "error": "first"}, want: "first"},
		{name: "nil body", body: nil, want: ""},
		{name: "plain string truncated", body: longText, want: longText[:200] + "..."},
		{name: "object without known keys stringified", body: map[string]any{"status": "failed"}, want: `{"status":"failed"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExtractErrorMessage(tc.body))
		})
	}
}

func TestPayloadSignature(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "empty", payloadSignature(nil))
	assert.Equal(t, "empty", payloadSignature(map[string]any{}))

	sig := payloadSignature(map[string]any{
		"b": float64(2), "a": "x", "c": true, "d": nil,
		"e": []any{}, "f": map[string]any{},
	})
	assert.Equal(t, "a:string,b:number,c:bool,d:null,e:array,f:object", sig)
}

func TestComparePayloads(t *testing.T) {
	t.Parallel()

	diff := comparePayloads(
		map[string]any{"a": 1, "b": "x", "c": true},
		map[string]any{"a": 1, "b": "y"},
	)
	want := map[string][2]any{
		"b": {"x", "y"},
		"c": {true, nil},
	}
	assert.Empty(t, cmp.Diff(want, diff))
}
