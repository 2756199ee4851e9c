package pipeline

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/api/schemas"
)

// operationsDocument is the wrapped form of an operations file.
type operationsDocument struct {
	Operations []schemas.Operation `json:"operations"`
}

// LoadOperations reads an operations file. Both a bare JSON array and a
// document with a top-level "operations" key are accepted, because upstream
// exporters produce both.
func LoadOperations(path string) ([]schemas.Operation, error) {
	if path == "" {
		return nil, fmt.Errorf("operations file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ops []schemas.Operation
	if err := json.Unmarshal(data, &ops); err == nil {
		return ops, nil
	}

	var doc operationsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc.Operations, nil
}

// LoadCredentials reads a credentials file into a bag. A missing or empty
// path is not an error: unauthenticated probing is a legitimate mode.
// Non-string values are coerced so numeric client IDs survive.
func LoadCredentials(path string, logger *zap.Logger) schemas.CredentialBag {
	if logger == nil {
		logger = zap.NewNop()
	}
	bag := schemas.CredentialBag{}

	if path == "" {
		return bag
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Could not read credentials file, probing unauthenticated",
			zap.String("path", path), zap.Error(err))
		return bag
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("Malformed credentials file, probing unauthenticated",
			zap.String("path", path), zap.Error(err))
		return bag
	}

	for k, v := range raw {
		switch value := v.(type) {
		case string:
			bag[k] = value
		case float64, bool:
			bag[k] = fmt.Sprint(value)
		default:
			logger.Warn("Skipping non-scalar credential value", zap.String("key", k))
		}
	}
	return bag
}
