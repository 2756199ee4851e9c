// Package payload synthesizes request bodies for probing an operation.
// Generation is deterministic: the same operation always yields the same
// variants in the same order, so two runs against the same documentation are
// comparable.
package payload

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/apiprobe/apiprobe/api/schemas"
)

// Caps on how many mutations of each kind are emitted. Probing is about
// signal per request, not exhaustiveness.
const (
	maxMissingRequired = 3
	maxInvalidType     = 3
	maxNullOptional    = 2
	maxBoundary        = 2
)

// sampleUUID is the fixed UUID used for uuid-formatted string fields, so
// generated payloads stay byte-stable across runs.
var sampleUUID = uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

// Variant is one generated test payload. Data is nil for bodyless probes
// (plain GET requests).
type Variant struct {
	Description string
	Data        map[string]any
}

// Generate produces the probe payloads for an operation.
//
// Documented examples short-circuit synthesis entirely: real bodies from the
// documentation beat anything invented here. Otherwise a valid baseline
// payload is built and mutated field by field in a fixed order: missing
// required fields, wrong types, nulled optionals, an empty string, and
// constraint-violating boundary values.
func Generate(op schemas.Operation) []Variant {
	if variants := fromExamples(op); len(variants) > 0 {
		return variants
	}

	if op.Method == schemas.MethodGet {
		return []Variant{{Description: "Basic GET request", Data: nil}}
	}

	if len(op.RequestFields) == 0 {
		return []Variant{{Description: "Empty payload", Data: map[string]any{}}}
	}

	valid := validPayload(op)
	variants := make([]Variant, 0, 1+maxMissingRequired+maxInvalidType+2+maxBoundary)
	if len(valid) > 0 {
		variants = append(variants, Variant{
			Description: "Valid payload with all required fields",
			Data:        valid,
		})
	}

	variants = append(variants, missingRequiredVariants(op, valid)...)
	variants = append(variants, invalidTypeVariants(op, valid)...)
	variants = append(variants, nullOptionalVariants(op, valid)...)
	variants = append(variants, emptyStringVariants(op, valid)...)
	variants = append(variants, boundaryVariants(op, valid)...)

	return variants
}

func fromExamples(op schemas.Operation) []Variant {
	var variants []Variant
	for _, example := range op.Examples {
		if example.Body == nil {
			continue
		}
		description := example.Description
		if description == "" {
			description = "Real example from documentation"
		}
		variants = append(variants, Variant{Description: description, Data: example.Body})
	}
	return variants
}

// validPayload builds the baseline body: one synthesized value per top-level
// field. Dotted names are parser-flattened nested fields and are skipped.
func validPayload(op schemas.Operation) map[string]any {
	payload := map[string]any{}
	for _, field := range op.RequestFields {
		if strings.Contains(field.Name, ".") {
			continue
		}
		payload[field.Name] = FieldValue(field)
	}
	return payload
}

func missingRequiredVariants(op schemas.Operation, valid map[string]any) []Variant {
	var variants []Variant
	count := 0
	for _, field := range op.RequestFields {
		if !field.IsRequired() || count >= maxMissingRequired {
			continue
		}
		if _, ok := valid[field.Name]; !ok {
			continue
		}
		data := clone(valid)
		delete(data, field.Name)
		variants = append(variants, Variant{
			Description: "Missing required field: " + field.Name,
			Data:        data,
		})
		count++
	}
	return variants
}

func invalidTypeVariants(op schemas.Operation, valid map[string]any) []Variant {
	var variants []Variant
	for i, field := range op.RequestFields {
		if i >= maxInvalidType {
			break
		}
		data := clone(valid)
		data[field.Name] = InvalidTypeValue(field.Type)
		variants = append(variants, Variant{
			Description: "Invalid type for field: " + field.Name,
			Data:        data,
		})
	}
	return variants
}

func nullOptionalVariants(op schemas.Operation, valid map[string]any) []Variant {
	data := clone(valid)
	nulled := 0
	for _, field := range op.RequestFields {
		if field.IsRequired() || nulled >= maxNullOptional {
			continue
		}
		data[field.Name] = nil
		nulled++
	}
	if nulled == 0 {
		return nil
	}
	return []Variant{{Description: "Null values for optional fields", Data: data}}
}

func emptyStringVariants(op schemas.Operation, valid map[string]any) []Variant {
	for _, field := range op.RequestFields {
		if !isStringType(field.Type) {
			continue
		}
		data := clone(valid)
		data[field.Name] = ""
		return []Variant{{Description: "Empty string for: " + field.Name, Data: data}}
	}
	return nil
}

func boundaryVariants(op schemas.Operation, valid map[string]any) []Variant {
	var variants []Variant
	for i, field := range op.RequestFields {
		if i >= maxBoundary {
			break
		}
		if len(field.Constraints) == 0 {
			continue
		}
		boundary, ok := BoundaryValue(field)
		if !ok {
			continue
		}
		data := clone(valid)
		data[field.Name] = boundary
		variants = append(variants, Variant{
			Description: "Boundary value for: " + field.Name,
			Data:        data,
		})
	}
	return variants
}

// FieldValue synthesizes a plausible valid value for a field. The first
// documented possible value always wins; otherwise the declared type and
// constraints drive the choice.
func FieldValue(field schemas.Field) any {
	if len(field.PossibleValues) > 0 {
		return field.PossibleValues[0]
	}

	fieldType := strings.ToLower(field.Type)
	if fieldType == "" {
		fieldType = "string"
	}

	switch fieldType {
	case "string", "str":
		if format, ok := field.StringConstraint("format"); ok {
			switch format {
			case "email":
				return "test@example.com"
			case "uuid":
				return sampleUUID.String()
			case "date":
				return "2024-01-01"
			case "date-time":
				return "2024-01-01T00:00:00Z"
			}
		}
		base := "test_"
		if minLen, ok := field.NumberConstraint("minLength"); ok && int(minLen) > len(base) {
			return base + strings.Repeat("x", int(minLen)-len(base))
		}
		return base
	case "integer", "int", "number":
		minVal, hasMin := field.NumberConstraint("minimum")
		if !hasMin {
			minVal = 1
		}
		maxVal, hasMax := field.NumberConstraint("maximum")
		if !hasMax {
			maxVal = 100
		}
		if maxVal == 0 {
			return int(minVal)
		}
		return int((minVal + maxVal) / 2)
	case "boolean", "bool":
		return true
	case "array":
		return []any{}
	case "object":
		return map[string]any{}
	default:
		return "test_value"
	}
}

// InvalidTypeValue returns a value of deliberately the wrong type.
func InvalidTypeValue(fieldType string) any {
	switch strings.ToLower(fieldType) {
	case "string", "str", "":
		return 12345
	case "integer", "int":
		return "not_a_number"
	case "boolean", "bool":
		return "not_a_boolean"
	case "array":
		return "not_an_array"
	case "object":
		return "not_an_object"
	default:
		return nil
	}
}

// BoundaryValue returns a value just past the field's documented limit, or
// false when the field carries no exceedable constraint.
func BoundaryValue(field schemas.Field) (any, bool) {
	switch strings.ToLower(field.Type) {
	case "string", "str", "":
		if maxLen, ok := field.NumberConstraint("maxLength"); ok && maxLen > 0 {
			return strings.Repeat("x", int(maxLen)+1), true
		}
	case "integer", "int", "number":
		if maxVal, ok := field.NumberConstraint("maximum"); ok && maxVal != 0 {
			return int(maxVal) + 1, true
		}
	}
	return nil, false
}

func isStringType(fieldType string) bool {
	t := strings.ToLower(fieldType)
	return t == "string" || t == "str"
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Describe renders a short human label for a variant index, used when a
// variant has no description of its own.
func Describe(v Variant, index int) string {
	if v.Description != "" {
		return v.Description
	}
	return fmt.Sprintf("Test %d", index+1)
}
