package task

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// outputFilter applies a JQ expression to a task's structured output.
// The expression is parsed and compiled at construction so syntax errors
// surface at load time rather than mid-run.
type outputFilter struct {
	expression string
	code       *gojq.Code
}

// newOutputFilter compiles the optional "output_filter" parameter.
// Returns nil when the parameter is absent.
func newOutputFilter(params map[string]any) (*outputFilter, error) {
	expression := stringParam(params, "output_filter")
	if expression == "" {
		return nil, nil
	}

	parsed, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: output_filter %q: %v", ErrInvalidParameters, expression, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: output_filter %q: %v", ErrInvalidParameters, expression, err)
	}

	return &outputFilter{expression: expression, code: code}, nil
}

// Apply runs the compiled expression over v and returns the filtered
// value: nil for no results, the single value for one, a slice otherwise.
func (f *outputFilter) Apply(v any) (any, error) {
	normalized, err := normalizeJSON(v)
	if err != nil {
		return nil, fmt.Errorf("output_filter: normalize input: %w", err)
	}

	iter := f.code.Run(normalized)
	var results []any
	for {
		item, ok := iter.Next()
		if !ok {
			break
		}
		if itemErr, isErr := item.(error); isErr {
			return nil, fmt.Errorf("output_filter %q: %w", f.expression, itemErr)
		}
		results = append(results, item)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// normalizeJSON converts v into the JSON-compatible types gojq operates
// on via a marshal/unmarshal round-trip.
func normalizeJSON(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result any
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, err
	}
	return result, nil
}
