package plugin

import (
	"fmt"
	"time"
)

// CheckRequired verifies every required parameter is present and non-nil.
// Plugins call it first from ValidateConfig.
func CheckRequired(meta Metadata, params map[string]any) error {
	for _, name := range meta.Required {
		v, ok := params[name]
		if !ok || v == nil {
			return NewConfigError(meta.Name, name, "required parameter missing")
		}
	}
	return nil
}

// StringParam reads a required string parameter.
func StringParam(pluginName string, params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", NewConfigError(pluginName, key, "required parameter missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", NewConfigError(pluginName, key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// OptionalString reads an optional string parameter with a default.
func OptionalString(pluginName string, params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", NewConfigError(pluginName, key, fmt.Sprintf("expected string, got %T", v))
	}
	return s, nil
}

// OptionalBool reads an optional bool parameter with a default.
func OptionalBool(pluginName string, params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, NewConfigError(pluginName, key, fmt.Sprintf("expected bool, got %T", v))
	}
	return b, nil
}

// OptionalInt reads an optional integer parameter with a default. YAML and
// JSON decoders disagree on integer types, so numeric widening is accepted.
func OptionalInt(pluginName string, params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, NewConfigError(pluginName, key, fmt.Sprintf("expected integer, got %T", v))
	}
}

// OptionalDuration reads an optional duration parameter with a default.
// Accepts Go duration strings ("30s") or a number of seconds.
func OptionalDuration(pluginName string, params map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, NewConfigError(pluginName, key, fmt.Sprintf("invalid duration %q", d))
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, NewConfigError(pluginName, key, fmt.Sprintf("expected duration, got %T", v))
	}
}

// OptionalStringMap reads an optional map parameter whose values are coerced
// to strings (headers, env vars).
func OptionalStringMap(pluginName string, params map[string]any, key string) (map[string]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, NewConfigError(pluginName, key, fmt.Sprintf("expected map, got %T", v))
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		out[k] = s
	}
	return out, nil
}

// OptionalStringSlice reads an optional list-of-strings parameter.
func OptionalStringSlice(pluginName string, params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, NewConfigError(pluginName, key, fmt.Sprintf("expected string items, got %T", item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, NewConfigError(pluginName, key, fmt.Sprintf("expected list, got %T", v))
	}
}
