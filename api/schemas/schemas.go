// Package schemas holds the wire types shared by every apiprobe component:
// the operation model produced by the upstream documentation parsers, the
// verdicts and results produced by the probing core, and the LLM client
// contract. Keeping them in one top-level package avoids import cycles
// between the internal packages that exchange them.
package schemas

import (
	"fmt"
	"time"
)

// Supported HTTP methods. Operations carry the method as a plain string so
// documentation-specific tokens (SOAP actions exposed as POST, etc.) survive
// parsing untouched.
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
	MethodHead    = "HEAD"
)

// Field describes one request or response field of an operation.
//
// Required is tri-state: nil means the documentation did not say. A name
// containing a dot denotes a nested field flattened by the parser; top-level
// payload synthesis must skip those rather than treat them as siblings.
type Field struct {
	Name           string         `json:"name"`
	Type           string         `json:"type,omitempty"`
	Required       *bool          `json:"required,omitempty"`
	Description    string         `json:"description,omitempty"`
	PossibleValues []any          `json:"possible_values,omitempty"`
	Constraints    map[string]any `json:"constraints,omitempty"`
	Nested         []Field        `json:"nested_fields,omitempty"`
}

// IsRequired reports whether the field is known to be required.
func (f Field) IsRequired() bool {
	return f.Required != nil && *f.Required
}

// StringConstraint returns the named constraint as a string, if present.
func (f Field) StringConstraint(key string) (string, bool) {
	v, ok := f.Constraints[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// NumberConstraint returns the named constraint as a float64, if present.
// JSON decoding yields float64 for all numbers; integer literals placed by
// hand are accepted too.
func (f Field) NumberConstraint(key string) (float64, bool) {
	switch v := f.Constraints[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Example is a literal request example lifted from the source documentation.
type Example struct {
	Description string         `json:"description,omitempty"`
	Body        map[string]any `json:"body,omitempty"`
}

// Operation is one discovered API action. It is immutable once produced by
// the upstream parsers; the probing core only reads it.
type Operation struct {
	Method        string            `json:"method"`
	Path          string            `json:"path"`
	Description   string            `json:"description,omitempty"`
	RequestFields []Field           `json:"request_fields,omitempty"`
	ResponseFields []Field          `json:"response_fields,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	QueryParams   map[string]string `json:"query_params,omitempty"`
	Examples      []Example         `json:"examples,omitempty"`
	ErrorCodes    map[int]string    `json:"error_codes,omitempty"`
}

// Key returns the canonical map key for this operation, "{METHOD} {path}".
// A missing path is rendered as "(no path)" so SOAP operations without a
// REST-style path still get a stable key.
func (o Operation) Key() string {
	path := o.Path
	if path == "" {
		path = "(no path)"
	}
	return fmt.Sprintf("%s %s", o.Method, path)
}

// RiskLevel grades how dangerous executing an operation against a live
// system is believed to be.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Classification is the per-operation verdict of the risk classifier. It is
// always well formed; callers never receive a nil or partial verdict.
type Classification struct {
	IsProduction bool      `json:"is_production"`
	RiskLevel    RiskLevel `json:"risk_level"`
	Effects      []string  `json:"effects"`
	Reason       string    `json:"reason"`
}

// TestResult captures one executed request/response pair. A Status of 0
// together with a non-empty Error denotes a transport-level failure (timeout,
// connection refused) as opposed to any HTTP status.
type TestResult struct {
	OperationKey string            `json:"operation_key"`
	TestName     string            `json:"test_name,omitempty"`
	Payload      map[string]any    `json:"payload"`
	Status       int               `json:"status"`
	Body         any               `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Elapsed      time.Duration     `json:"elapsed"`
	Error        string            `json:"error,omitempty"`
}

// TransportFailed reports whether the result represents a transport failure
// rather than an HTTP response.
func (r TestResult) TransportFailed() bool {
	return r.Status == 0 && r.Error != ""
}

// PatternType categorizes a discovered behavioral rule.
type PatternType string

const (
	PatternInputOutput PatternType = "input_output"
	PatternValidation  PatternType = "validation"
	PatternError       PatternType = "error"
	PatternDependency  PatternType = "dependency"
)

// Pattern is a heuristically inferred behavioral rule derived from test
// results. Patterns are evidence, not authority; near-duplicates across
// operations are expected and left to presentation layers to fold.
type Pattern struct {
	Type        PatternType      `json:"type"`
	Description string           `json:"description"`
	Conditions  []string         `json:"conditions,omitempty"`
	Examples    []map[string]any `json:"examples,omitempty"`
	Confidence  float64          `json:"confidence"`
}

// CredentialBag is an opaque, untyped map of authentication-related values.
// No key is globally required; validity is auth-type-relative.
type CredentialBag map[string]string

// Get returns the value for key, or empty string.
func (c CredentialBag) Get(key string) string { return c[key] }

// Has reports whether key is present with a non-empty value.
func (c CredentialBag) Has(key string) bool { return c[key] != "" }
