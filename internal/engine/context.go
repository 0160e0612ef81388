package engine

import (
	"encoding/json"
	"fmt"

	"github.com/promptseq/promptseq/pkg/models"
)

// BuildContext constructs the flat name-to-value mapping a run starts with:
//  1. every GLOBAL variable's value
//  2. every INPUT variable's default (nil when absent)
//  3. every global list of the owner, as an ordered []string
//  4. input overrides, wholesale
//
// Later steps overwrite earlier ones: a global list shadows a same-named
// GLOBAL variable, and overrides win over everything.
func BuildContext(seq *models.Sequence, lists []*models.GlobalList, overrides json.RawMessage) (map[string]any, error) {
	ctx := map[string]any{}

	for _, v := range seq.Variables {
		switch v.Type {
		case models.VariableGlobal:
			if value, ok := v.GlobalValue(); ok {
				ctx[v.Name] = value
			}
		case models.VariableInput:
			if def, ok := v.InputDefault(); ok {
				ctx[v.Name] = def
			} else {
				ctx[v.Name] = nil
			}
		}
	}

	for _, list := range lists {
		values := list.Values()
		entries := make([]any, len(values))
		for i, v := range values {
			entries[i] = v
		}
		ctx[list.Name] = entries
	}

	if len(overrides) > 0 {
		var overlay map[string]any
		if err := json.Unmarshal(overrides, &overlay); err != nil {
			return nil, fmt.Errorf("decode input overrides: %w", err)
		}
		for k, v := range overlay {
			ctx[k] = v
		}
	}

	return ctx, nil
}

// asList coerces a context value into an ordered slice. Values entered the
// context either as []any (overrides, global lists) or []string.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
