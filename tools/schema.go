// ABOUTME: Builds JSON Schema objects from tool parameter lists.
// ABOUTME: Every parameter is required and unknown properties are rejected.

package tools

import "fmt"

func buildSchema(params []Param) (map[string]any, error) {
	properties := make(map[string]any, len(params))
	required := make([]any, 0, len(params))
	for _, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("parameter name must not be empty")
		}
		if _, dup := properties[p.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		switch p.Type {
		case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		default:
			return nil, fmt.Errorf("parameter %q has unsupported type %q", p.Name, p.Type)
		}
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		required = append(required, p.Name)
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

// cloneSchema deep-copies the nested maps and slices of a schema so callers
// cannot mutate the registry's copy.
func cloneSchema(v map[string]any) map[string]any {
	out := make(map[string]any, len(v))
	for k, val := range v {
		out[k] = cloneValue(val)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneSchema(t)
	case []any:
		s := make([]any, len(t))
		for i, item := range t {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return v
	}
}
