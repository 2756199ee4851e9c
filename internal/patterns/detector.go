// Package patterns infers behavioral rules from test results: how inputs map
// to outputs, which validations fire, what triggers which errors, and which
// fields depend on each other. Four deterministic heuristics always run; an
// LLM pass supplements them when a client is configured and enough results
// exist to reason over.
package patterns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
	"github.com/apiprobe/apiprobe/internal/llmutil"
)

// Heuristic confidence levels. Fixed per heuristic: the detectors observe,
// they do not measure, so the numbers encode how often each heuristic is
// right in practice rather than anything computed from the data.
const (
	confidenceInputOutput = 0.9
	confidenceValidation  = 0.8
	confidenceError       = 0.85
	confidenceDependency  = 0.75
)

const (
	// minResultsForAI is the smallest result set worth an LLM round trip.
	minResultsForAI = 3
	// maxResultsForAI caps how many results are summarized into the prompt.
	maxResultsForAI = 10
	// maxErrorMessageLen bounds stringified bodies used as error messages.
	maxErrorMessageLen = 200
)

// errorMessagePaths are checked in order when digging a message out of an
// error response body.
var errorMessagePaths = []string{"error", "message", "error_message", "detail", "msg"}

// aiPatternList is the JSON shape the model returns.
type aiPatternList struct {
	Patterns []struct {
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Conditions  []string `json:"conditions"`
		Confidence  float64  `json:"confidence"`
	} `json:"patterns"`
}

// Detector discovers patterns in per-operation test results.
type Detector struct {
	llm    schemas.LLMClient
	logger *zap.Logger
}

// New builds a detector. A nil LLM client limits analysis to the
// deterministic heuristics.
func New(llm schemas.LLMClient, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		llm:    llm,
		logger: logger.Named("patterns"),
	}
}

// Analyze runs every heuristic over the results of one operation. An empty
// result set yields no patterns.
func (d *Detector) Analyze(ctx context.Context, op schemas.Operation, results []schemas.TestResult) []schemas.Pattern {
	d.logger.Info("Analyzing patterns", zap.String("operation", op.Key()), zap.Int("results", len(results)))
	if len(results) == 0 {
		return nil
	}

	var patterns []schemas.Pattern
	patterns = append(patterns, detectInputOutput(results)...)
	patterns = append(patterns, detectValidation(results)...)
	patterns = append(patterns, detectErrors(results)...)
	patterns = append(patterns, detectDependencies(results)...)

	if d.llm != nil {
		patterns = append(patterns, d.discoverWithAI(ctx, op, results)...)
	}

	d.logger.Info("Pattern analysis complete", zap.String("operation", op.Key()), zap.Int("patterns", len(patterns)))
	return patterns
}

// detectInputOutput finds input shapes that consistently produce the same
// response structure across successful results.
func detectInputOutput(results []schemas.TestResult) []schemas.Pattern {
	groups := map[string][]schemas.TestResult{}
	var order []string
	for _, r := range results {
		if r.Error != "" || r.Status >= 400 {
			continue
		}
		key := payloadSignature(r.Payload)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var patterns []schemas.Pattern
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 || !consistentResponses(group) {
			continue
		}
		examples := make([]map[string]any, 0, 3)
		for _, r := range group[:min(len(group), 3)] {
			examples = append(examples, map[string]any{
				"input":  r.Payload,
				"output": r.Body,
				"status": r.Status,
			})
		}
		patterns = append(patterns, schemas.Pattern{
			Type:        schemas.PatternInputOutput,
			Description: "Consistent response structure for input pattern: " + key,
			Examples:    examples,
			Confidence:  confidenceInputOutput,
		})
	}
	return patterns
}

// detectValidation turns 400 responses whose error message names a payload
// field into validation-rule patterns.
func detectValidation(results []schemas.TestResult) []schemas.Pattern {
	var patterns []schemas.Pattern
	for _, r := range results {
		if r.Status != 400 {
			continue
		}
		message := ExtractErrorMessage(r.Body)
		if message == "" {
			continue
		}
		field := identifyFailedField(r.Payload, message)
		if field == "" {
			continue
		}
		patterns = append(patterns, schemas.Pattern{
			Type:        schemas.PatternValidation,
			Description: fmt.Sprintf("Validation rule for field '%s': %s", field, message),
			Conditions:  []string{"Field: " + field},
			Examples: []map[string]any{{
				"input":  r.Payload,
				"error":  message,
				"status": r.Status,
			}},
			Confidence: confidenceValidation,
		})
	}
	return patterns
}

// detectErrors groups 4xx/5xx results by status and describes the common
// trigger for each group.
func detectErrors(results []schemas.TestResult) []schemas.Pattern {
	groups := map[int][]schemas.TestResult{}
	var order []int
	for _, r := range results {
		if r.Status < 400 {
			continue
		}
		if _, seen := groups[r.Status]; !seen {
			order = append(order, r.Status)
		}
		groups[r.Status] = append(groups[r.Status], r)
	}
	sort.Ints(order)

	var patterns []schemas.Pattern
	for _, status := range order {
		group := groups[status]
		cause := commonErrorCause(group)
		if cause == "" {
			continue
		}
		examples := make([]map[string]any, 0, 3)
		for _, r := range group[:min(len(group), 3)] {
			examples = append(examples, map[string]any{
				"input":  r.Payload,
				"status": r.Status,
				"error":  ExtractErrorMessage(r.Body),
			})
		}
		patterns = append(patterns, schemas.Pattern{
			Type:        schemas.PatternError,
			Description: fmt.Sprintf("HTTP %d occurs when: %s", status, cause),
			Examples:    examples,
			Confidence:  confidenceError,
		})
	}
	return patterns
}

// detectDependencies looks at result pairs whose payloads differ in exactly
// one field but whose statuses differ: that field drives the outcome. The
// pairwise scan is quadratic and fine at probe scale, variant counts are
// capped upstream.
func detectDependencies(results []schemas.TestResult) []schemas.Pattern {
	var patterns []schemas.Pattern
	for i, first := range results {
		for _, second := range results[i+1:] {
			diff := comparePayloads(first.Payload, second.Payload)
			if len(diff) != 1 || first.Status == second.Status {
				continue
			}
			var field string
			for k := range diff {
				field = k
			}
			values := diff[field]
			patterns = append(patterns, schemas.Pattern{
				Type:        schemas.PatternDependency,
				Description: fmt.Sprintf("Field '%s' affects response status", field),
				Conditions: []string{
					fmt.Sprintf("When %s=%v -> Status %d", field, values[0], first.Status),
					fmt.Sprintf("When %s=%v -> Status %d", field, values[1], second.Status),
				},
				Examples: []map[string]any{
					{"input": first.Payload, "status": first.Status},
					{"input": second.Payload, "status": second.Status},
				},
				Confidence: confidenceDependency,
			})
		}
	}
	return patterns
}

// discoverWithAI hands a results summary to the model and maps whatever
// patterns it reports. Failures only cost the supplemental patterns.
func (d *Detector) discoverWithAI(ctx context.Context, op schemas.Operation, results []schemas.TestResult) []schemas.Pattern {
	if len(results) < minResultsForAI {
		return nil
	}

	type resultSummary struct {
		TestNum  int            `json:"test_num"`
		Request  map[string]any `json:"request"`
		Status   int            `json:"status"`
		Response any            `json:"response"`
		Error    string         `json:"error,omitempty"`
	}
	summaries := make([]resultSummary, 0, maxResultsForAI)
	for i, r := range results[:min(len(results), maxResultsForAI)] {
		summaries = append(summaries, resultSummary{
			TestNum:  i + 1,
			Request:  r.Payload,
			Status:   r.Status,
			Response: simplifyResponse(r.Body),
			Error:    r.Error,
		})
	}

	summaryJSON, err := jsoniter.MarshalIndent(summaries, "", "  ")
	if err != nil {
		d.logger.Error("Failed to encode results summary", zap.Error(err))
		return nil
	}

	prompt := fmt.Sprintf(`Analyze these API test results and discover any patterns, rules, or relationships.

Endpoint: %s

Test Results:
%s

Look for:
1. Patterns between input values and outputs
2. Validation rules and constraints
3. Field dependencies and relationships
4. Conditions that trigger specific errors
5. Business logic rules

Return JSON with discovered patterns:
{
  "patterns": [
    {
      "type": "validation|input_output|dependency|error",
      "description": "Clear description of the pattern",
      "conditions": ["condition 1", "condition 2"],
      "confidence": 0.0-1.0
    }
  ]
}

Only return valid JSON.`, op.Key(), summaryJSON)

	raw, err := d.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You are an expert at analyzing API behavior and discovering patterns.",
		UserPrompt:   prompt,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		d.logger.Error("AI pattern discovery failed", zap.Error(err))
		return nil
	}

	parsed, err := llmutil.ParseJSONResponse[aiPatternList](raw)
	if err != nil {
		d.logger.Error("Could not parse AI pattern response", zap.Error(err))
		return nil
	}

	patterns := make([]schemas.Pattern, 0, len(parsed.Patterns))
	for _, p := range parsed.Patterns {
		confidence := p.Confidence
		if confidence == 0 {
			confidence = 0.5
		}
		patterns = append(patterns, schemas.Pattern{
			Type:        schemas.PatternType(p.Type),
			Description: p.Description,
			Conditions:  p.Conditions,
			Confidence:  confidence,
		})
	}
	return patterns
}

// payloadSignature reduces a payload to "key:type" pairs in key order, so
// payloads with the same shape group together regardless of values.
func payloadSignature(payload map[string]any) string {
	if len(payload) == 0 {
		return "empty"
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+jsonTypeName(payload[k]))
	}
	return strings.Join(parts, ",")
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func consistentResponses(results []schemas.TestResult) bool {
	if len(results) == 0 {
		return false
	}
	first := responseStructure(results[0].Body)
	for _, r := range results[1:] {
		if responseStructure(r.Body) != first {
			return false
		}
	}
	return true
}

// responseStructure summarizes a body as its key set (objects), element
// structure (arrays), or type name.
func responseStructure(body any) string {
	switch v := body.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "object:" + strings.Join(keys, ",")
	case []any:
		if len(v) == 0 {
			return "array:empty"
		}
		return "array:" + responseStructure(v[0])
	default:
		return jsonTypeName(body)
	}
}

// ExtractErrorMessage digs a human-readable message out of an error response
// body, checking the conventional keys in order before falling back to a
// truncated rendering of the whole body.
func ExtractErrorMessage(body any) string {
	if body == nil {
		return ""
	}
	if s, ok := body.(string); ok {
		return llmutil.Truncate(s, maxErrorMessageLen)
	}

	encoded, err := jsoniter.Marshal(body)
	if err != nil {
		return llmutil.Truncate(fmt.Sprint(body), maxErrorMessageLen)
	}
	for _, path := range errorMessagePaths {
		if v := gjson.GetBytes(encoded, path); v.Exists() {
			return llmutil.Truncate(v.String(), maxErrorMessageLen)
		}
	}
	return llmutil.Truncate(string(encoded), maxErrorMessageLen)
}

// identifyFailedField finds the payload field the error message talks about.
func identifyFailedField(payload map[string]any, message string) string {
	messageLower := strings.ToLower(message)
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(messageLower, strings.ToLower(k)) {
			return k
		}
	}
	return ""
}

// commonErrorCause describes what a group of same-status failures share,
// mining recurring substantial words from their error messages.
func commonErrorCause(results []schemas.TestResult) string {
	if len(results) == 0 {
		return ""
	}

	hasPayload := false
	for _, r := range results {
		if len(r.Payload) > 0 {
			hasPayload = true
			break
		}
	}
	if !hasPayload {
		return "empty or missing request body"
	}

	stop := map[string]bool{"the": true, "and": true, "for": true, "with": true}
	termSet := map[string]bool{}
	for _, r := range results {
		for _, word := range strings.Fields(strings.ToLower(ExtractErrorMessage(r.Body))) {
			if len(word) > 3 && !stop[word] {
				termSet[word] = true
			}
		}
	}
	if len(termSet) == 0 {
		return "specific input conditions"
	}

	terms := make([]string, 0, len(termSet))
	for t := range termSet {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return "related to: " + strings.Join(terms[:min(len(terms), 3)], ", ")
}

// comparePayloads returns per-field (first, second) value pairs for every
// field whose values differ, missing fields included as nil.
func comparePayloads(first, second map[string]any) map[string][2]any {
	diff := map[string][2]any{}
	keys := map[string]bool{}
	for k := range first {
		keys[k] = true
	}
	for k := range second {
		keys[k] = true
	}
	for k := range keys {
		v1, v2 := first[k], second[k]
		if !valuesEqual(v1, v2) {
			diff[k] = [2]any{v1, v2}
		}
	}
	return diff
}

func valuesEqual(a, b any) bool {
	return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
}

func simplifyResponse(body any) any {
	if s, ok := body.(string); ok {
		return llmutil.Truncate(s, maxErrorMessageLen)
	}
	return body
}
