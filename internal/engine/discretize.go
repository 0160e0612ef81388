package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/promptseq/promptseq/internal/observability"
)

// DiscretizeSentinel fills output names the parser could not assign.
const DiscretizeSentinel = "Error: Value not found or parsed."

// Discretize maps raw LLM text onto the requested output names. Parsing
// tries, in order: a JSON object keyed by name, a JSON array assigned
// positionally, key:value lines, and a whole-text fallback when exactly one
// name was requested. Names that survive every stage get the sentinel value.
// Every requested name is present in the result.
func Discretize(ctx context.Context, text string, names []string, logger *observability.Logger) map[string]string {
	out := make(map[string]string, len(names))
	if len(names) == 0 {
		return out
	}

	assigned := make(map[string]bool, len(names))
	trimmed := strings.TrimSpace(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		for _, name := range names {
			if v, ok := obj[name]; ok {
				out[name] = Stringify(v)
				assigned[name] = true
			}
		}
	} else {
		var arr []any
		if err := json.Unmarshal([]byte(trimmed), &arr); err == nil && len(arr) == len(names) {
			for i, name := range names {
				out[name] = Stringify(arr[i])
				assigned[name] = true
			}
		}
	}

	if !allAssigned(names, assigned) {
		for _, line := range strings.Split(text, "\n") {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			if !assigned[key] && nameRequested(names, key) {
				out[key] = strings.TrimSpace(value)
				assigned[key] = true
			}
		}
	}

	if len(names) == 1 && !assigned[names[0]] {
		out[names[0]] = trimmed
		assigned[names[0]] = true
	}

	for _, name := range names {
		if !assigned[name] {
			if logger != nil {
				logger.Warn(ctx, "discretization could not assign output name", "name", name)
			}
			out[name] = DiscretizeSentinel
		}
	}
	return out
}

func allAssigned(names []string, assigned map[string]bool) bool {
	for _, name := range names {
		if !assigned[name] {
			return false
		}
	}
	return true
}

func nameRequested(names []string, key string) bool {
	for _, name := range names {
		if name == key {
			return true
		}
	}
	return false
}
