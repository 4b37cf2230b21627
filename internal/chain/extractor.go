package chain

import (
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"
)

// Extract reads a value from a decoded JSON document using a JMESPath
// expression and returns it as a string
func Extract(data any, expr string) (string, error) {
	result, err := jmespath.Search(expr, data)
	if err != nil {
		return "", fmt.Errorf("failed to extract %s: %w", expr, err)
	}

	// Convert result to string
	switch v := result.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%g", v), nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case nil:
		return "", fmt.Errorf("%s returned null", expr)
	default:
		// For complex types, marshal to JSON
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%s: failed to convert extracted value to string: %w", expr, err)
		}
		return string(jsonBytes), nil
	}
}

// Lookup is Extract for optional fields: missing, null and invalid
// expressions all yield ""
func Lookup(data any, expr string) string {
	if data == nil {
		return ""
	}
	v, err := Extract(data, expr)
	if err != nil {
		return ""
	}
	return v
}

// Count evaluates expr and returns the length of the resulting array, or 0
func Count(data any, expr string) int {
	if data == nil {
		return 0
	}
	result, err := jmespath.Search(expr, data)
	if err != nil {
		return 0
	}
	items, ok := result.([]any)
	if !ok {
		return 0
	}
	return len(items)
}
