// Package transform implements the output mapper. A mapping extracts a value
// from a plugin result by dotted path, pushes it through an ordered transform
// chain, and stores it in the run context under a target key.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/automaxhq/automax/pkg/template"
)

// Mapping declares one extraction from a plugin result into the run context.
type Mapping struct {
	// Source is a dotted path into the plugin result. Empty means the whole
	// result. Numeric segments index into lists.
	Source string `yaml:"source"`

	// Transforms is the ordered chain of directives applied to the extracted
	// value. The chain short-circuits on the first failure.
	Transforms []string `yaml:"transforms"`

	// Target is the context key the final value is stored under.
	Target string `yaml:"target" validate:"required"`
}

// Mapper applies output mappings. The resolver serves `template:` directives.
type Mapper struct {
	resolver *template.Resolver
}

// NewMapper creates a mapper backed by the given resolver.
func NewMapper(r *template.Resolver) *Mapper {
	return &Mapper{resolver: r}
}

// Apply runs every mapping against the plugin result and returns the
// target→value pairs to merge into the run context. The first failing
// mapping aborts the whole set; nothing is stored on failure.
func (m *Mapper) Apply(result any, mappings []Mapping, ctx *template.Context) (map[string]any, error) {
	out := make(map[string]any, len(mappings))
	for _, mp := range mappings {
		val, err := m.applyOne(result, mp, ctx)
		if err != nil {
			return nil, fmt.Errorf("mapping to %q: %w", mp.Target, err)
		}
		out[mp.Target] = val
	}
	return out, nil
}

func (m *Mapper) applyOne(result any, mp Mapping, ctx *template.Context) (any, error) {
	val, err := lookupPath(result, mp.Source)
	if err != nil {
		return nil, err
	}
	for _, directive := range mp.Transforms {
		val, err = m.applyDirective(val, directive, ctx)
		if err != nil {
			return nil, err
		}
	}
	return val, nil
}

func (m *Mapper) applyDirective(val any, directive string, ctx *template.Context) (any, error) {
	op, arg, _ := strings.Cut(directive, ":")
	switch op {
	case "select":
		return selectPath(val, arg, directive)
	case "filter":
		return filterItems(val, arg, directive)
	case "map":
		return mapItems(val, arg, directive)
	case "as":
		return convert(val, arg, directive)
	case "json_parse":
		return jsonParse(val, directive)
	case "json_stringify":
		return jsonStringify(val, directive)
	case "template":
		return m.resolver.EvaluateWith(arg, ctx, map[string]any{"data": val})
	default:
		return nil, newError(KindParseError, directive, fmt.Sprintf("unknown transform %q", op), nil)
	}
}

// lookupPath walks a dotted path into the value. An empty path returns the
// value itself.
func lookupPath(val any, path string) (any, error) {
	if path == "" {
		return val, nil
	}
	current := val
	for _, seg := range strings.Split(path, ".") {
		switch c := current.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, newError(KindPathNotFound, "", fmt.Sprintf("key %q not found in path %q", seg, path), nil)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, newError(KindTypeMismatch, "", fmt.Sprintf("segment %q indexes a list in path %q", seg, path), nil)
			}
			if idx < 0 || idx >= len(c) {
				return nil, newError(KindPathNotFound, "", fmt.Sprintf("index %d out of range in path %q", idx, path), nil)
			}
			current = c[idx]
		default:
			return nil, newError(KindPathNotFound, "", fmt.Sprintf("cannot descend into %T at %q in path %q", current, seg, path), nil)
		}
	}
	return current, nil
}

func selectPath(val any, arg, directive string) (any, error) {
	out, err := lookupPath(val, arg)
	if err != nil {
		var terr *Error
		if errors.As(err, &terr) {
			terr.Transform = directive
		}
		return nil, err
	}
	return out, nil
}

// filterItems keeps the list items matching the condition. Conditions are
// `field==literal`, `field!=literal`, or a bare `field` for existence.
func filterItems(val any, cond, directive string) (any, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, newError(KindTypeMismatch, directive, fmt.Sprintf("filter requires a list, got %T", val), nil)
	}

	field, literal, op, err := parseCondition(cond, directive)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, newError(KindTypeMismatch, directive, fmt.Sprintf("filter requires list items to be objects, got %T", item), nil)
		}
		fieldVal, exists := obj[field]
		switch op {
		case "exists":
			if exists {
				out = append(out, item)
			}
		case "==":
			if exists && literalEquals(fieldVal, literal) {
				out = append(out, item)
			}
		case "!=":
			if exists && !literalEquals(fieldVal, literal) {
				out = append(out, item)
			}
		}
	}
	return out, nil
}

func parseCondition(cond, directive string) (field, literal, op string, err error) {
	if cond == "" {
		return "", "", "", newError(KindParseError, directive, "empty filter condition", nil)
	}
	if f, lit, found := strings.Cut(cond, "!="); found {
		return strings.TrimSpace(f), strings.TrimSpace(lit), "!=", nil
	}
	if f, lit, found := strings.Cut(cond, "=="); found {
		return strings.TrimSpace(f), strings.TrimSpace(lit), "==", nil
	}
	if strings.ContainsAny(cond, "<>=!") {
		return "", "", "", newError(KindParseError, directive, fmt.Sprintf("unsupported filter condition %q", cond), nil)
	}
	return strings.TrimSpace(cond), "", "exists", nil
}

// literalEquals compares a field value to a condition literal. Booleans
// compare case-insensitively so `True` matches a true value, numbers compare
// numerically, everything else compares as text.
func literalEquals(val any, literal string) bool {
	switch v := val.(type) {
	case bool:
		return strings.EqualFold(literal, strconv.FormatBool(v))
	case string:
		return v == literal
	default:
		if lit, err := strconv.ParseFloat(literal, 64); err == nil {
			if num, ok := toFloat(val); ok {
				return num == lit
			}
		}
		return fmt.Sprint(v) == literal
	}
}

// mapItems projects a field out of every list item. The argument follows the
// `item.<field>` form; nested fields are allowed (`item.meta.name`).
func mapItems(val any, arg, directive string) (any, error) {
	items, ok := val.([]any)
	if !ok {
		return nil, newError(KindTypeMismatch, directive, fmt.Sprintf("map requires a list, got %T", val), nil)
	}

	path, found := strings.CutPrefix(arg, "item.")
	if !found || path == "" {
		return nil, newError(KindParseError, directive, fmt.Sprintf("map argument must be item.<field>, got %q", arg), nil)
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		projected, err := lookupPath(item, path)
		if err != nil {
			return nil, newError(KindPathNotFound, directive, fmt.Sprintf("item %d has no %q", i, path), err)
		}
		out = append(out, projected)
	}
	return out, nil
}

func convert(val any, target, directive string) (any, error) {
	switch target {
	case "str":
		return toString(val), nil

	case "int":
		if n, ok := toFloat(val); ok {
			return int(n), nil
		}
		if s, ok := val.(string); ok {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %q to int", s), err)
			}
			return n, nil
		}
		return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %T to int", val), nil)

	case "float":
		if n, ok := toFloat(val); ok {
			return n, nil
		}
		if s, ok := val.(string); ok {
			n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %q to float", s), err)
			}
			return n, nil
		}
		return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %T to float", val), nil)

	case "bool":
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
			if err != nil {
				return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %q to bool", v), err)
			}
			return b, nil
		default:
			if n, ok := toFloat(val); ok {
				return n != 0, nil
			}
			return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %T to bool", val), nil)
		}

	case "list":
		if l, ok := val.([]any); ok {
			return l, nil
		}
		return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %T to list", val), nil)

	case "dict":
		if m, ok := val.(map[string]any); ok {
			return m, nil
		}
		return nil, newError(KindConversionError, directive, fmt.Sprintf("cannot convert %T to dict", val), nil)

	default:
		return nil, newError(KindParseError, directive, fmt.Sprintf("unknown conversion target %q", target), nil)
	}
}

func jsonParse(val any, directive string) (any, error) {
	s, ok := val.(string)
	if !ok {
		return nil, newError(KindTypeMismatch, directive, fmt.Sprintf("json_parse requires a string, got %T", val), nil)
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, newError(KindParseError, directive, "invalid JSON", err)
	}
	return out, nil
}

func jsonStringify(val any, directive string) (any, error) {
	b, err := json.Marshal(val)
	if err != nil {
		return nil, newError(KindConversionError, directive, "value is not JSON-serializable", err)
	}
	return string(b), nil
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case map[string]any, []any:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
