// Package template implements the two-phase parameter resolver used by the
// step execution engine.
//
// Resolution runs two passes over every string leaf:
//
//  1. Legacy placeholder pass: `{name}` is replaced from the configuration
//     values and accumulated sub-step outputs, and `$NAME` / `${NAME}` from
//     the environment snapshot. Unresolved placeholders are left verbatim.
//  2. Expression pass: `{{ ... }}` blocks are evaluated with expr against
//     `config.*`, `context.*` and `env.*`. Any reference to an undefined
//     variable is a hard error.
//
// The legacy pass runs first, so expression blocks can reference values that
// legacy substitution already produced. Legacy substitution never rewrites
// text inside an expression block.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
)

// exprBlockRe matches a single `{{ ... }}` expression block (non-greedy).
var exprBlockRe = regexp.MustCompile(`\{\{(.*?)\}\}`)

// legacyPlaceholderRe matches a legacy `{name}` placeholder. Names are plain
// identifiers; dotted or spaced forms never belong to the legacy syntax.
var legacyPlaceholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// TemplateSuffix marks a parameter whose value must be evaluated as a full
// expression even when it carries no `{{ }}` delimiters.
const TemplateSuffix = "_template"

// Context is the layered read model visible to template resolution.
// All maps are read-only snapshots; the resolver never mutates them.
type Context struct {
	// Config is the arbitrary key/value tree from the loaded configuration,
	// exposed as `config.*` in expressions and as `{name}` legacy targets.
	Config map[string]any

	// Outputs is the merged shorthand view of prior sub-step outputs,
	// exposed as `context.*` in expressions and as `{name}` legacy targets.
	Outputs map[string]any

	// Env is the process environment snapshot, exposed as `env.*` and as
	// `$NAME` / `${NAME}` legacy targets.
	Env map[string]string
}

// Resolver renders templated values against a Context. It is stateless and
// safe for reuse across sub-steps.
type Resolver struct {
	funcs map[string]any
}

// NewResolver creates a resolver with the standard filter functions
// registered (case conversion, join/split, JSON conversion, defaulting).
func NewResolver() *Resolver {
	return &Resolver{funcs: builtinFuncs()}
}

// Resolve renders a value of arbitrary shape. Strings are resolved through
// both passes; maps and slices are walked recursively with their container
// shape preserved; every other type passes through untouched.
func (r *Resolver) Resolve(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return r.ResolveString(v, ctx)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			resolved, err := r.Resolve(val, ctx)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			resolved, err := r.Resolve(val, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case []string:
		out := make([]any, len(v))
		for i, val := range v {
			resolved, err := r.ResolveString(val, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return value, nil
	}
}

// ResolveParams renders a parameter map. Keys carrying the `_template`
// suffix are force-evaluated as full expressions and stored under the key
// with the suffix stripped.
func (r *Resolver) ResolveParams(params map[string]any, ctx *Context) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for key, val := range params {
		if s, ok := val.(string); ok && strings.HasSuffix(key, TemplateSuffix) {
			resolved, err := r.Evaluate(s, ctx)
			if err != nil {
				return nil, err
			}
			out[strings.TrimSuffix(key, TemplateSuffix)] = resolved
			continue
		}
		resolved, err := r.Resolve(val, ctx)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

// ResolveString resolves a single string leaf. When the string consists of
// exactly one expression block, the native (non-stringified) value of that
// expression is returned so non-string parameters survive templating.
func (r *Resolver) ResolveString(s string, ctx *Context) (any, error) {
	substituted := r.legacyPass(s, ctx)

	blocks := exprBlockRe.FindAllStringSubmatchIndex(substituted, -1)
	if len(blocks) == 0 {
		return substituted, nil
	}

	// A leaf that is a single expression block keeps its native type.
	if len(blocks) == 1 && blocks[0][0] == 0 && blocks[0][1] == len(substituted) {
		return r.Evaluate(substituted[blocks[0][2]:blocks[0][3]], ctx)
	}

	var b strings.Builder
	last := 0
	for _, loc := range blocks {
		b.WriteString(substituted[last:loc[0]])
		val, err := r.Evaluate(substituted[loc[2]:loc[3]], ctx)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(val))
		last = loc[1]
	}
	b.WriteString(substituted[last:])
	return b.String(), nil
}

// ResolveToString resolves a string leaf and coerces the result to a string.
// Used for step ids and descriptions, which are always textual.
func (r *Resolver) ResolveToString(s string, ctx *Context) (string, error) {
	val, err := r.ResolveString(s, ctx)
	if err != nil {
		return "", err
	}
	return stringify(val), nil
}

// Evaluate evaluates a bare expression (no delimiters) against the context.
// Undefined references fail with KindUndefinedVariable; parse failures with
// KindSyntax; filter function failures with KindFilter.
func (r *Resolver) Evaluate(src string, ctx *Context) (any, error) {
	return r.EvaluateWith(src, ctx, nil)
}

// EvaluateWith evaluates a bare expression with extra variables layered on
// top of the standard environment. The output mapper uses it to expose the
// in-flight value as `data`.
func (r *Resolver) EvaluateWith(src string, ctx *Context, extra map[string]any) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, newError(KindSyntax, src, "empty expression", nil)
	}

	env := r.exprEnv(ctx)
	for name, val := range extra {
		env[name] = val
	}

	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, newError(KindSyntax, src, "", err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, newError(KindFilter, src, "", err)
	}
	if out == nil {
		// Map-env access cannot tell a missing key from a key holding nil;
		// any nil result counts as an undefined reference.
		return nil, newError(KindUndefinedVariable, src, "expression resolved to no value", nil)
	}
	return out, nil
}

// legacyPass substitutes `{name}` placeholders from config and outputs, and
// expands `$NAME` environment references. Expression blocks are preserved
// untouched; unresolved placeholders stay verbatim.
func (r *Resolver) legacyPass(s string, ctx *Context) string {
	if !strings.ContainsAny(s, "{$") {
		return s
	}

	var b strings.Builder
	last := 0
	for _, loc := range exprBlockRe.FindAllStringIndex(s, -1) {
		b.WriteString(r.legacySegment(s[last:loc[0]], ctx))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(r.legacySegment(s[last:], ctx))
	return b.String()
}

// legacySegment applies legacy substitution to text outside expression blocks.
func (r *Resolver) legacySegment(segment string, ctx *Context) string {
	if segment == "" {
		return segment
	}

	out := legacyPlaceholderRe.ReplaceAllStringFunc(segment, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := ctx.Outputs[name]; ok {
			return stringify(v)
		}
		if v, ok := ctx.Config[name]; ok {
			return stringify(v)
		}
		// Lenient by design: leave unknown placeholders verbatim.
		return match
	})

	if strings.Contains(out, "$") {
		out = expandEnv(out, ctx.Env)
	}
	return out
}

// expandEnv expands `$NAME` and `${NAME}` from the environment snapshot.
// Unknown variables are left verbatim, matching the legacy behavior.
func expandEnv(s string, env map[string]string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "$")
		name = strings.TrimPrefix(name, "{")
		name = strings.TrimSuffix(name, "}")
		if v, ok := env[name]; ok {
			return v
		}
		return match
	})
}

var envVarRe = regexp.MustCompile(`\$(\{[A-Za-z_][A-Za-z0-9_]*\}|[A-Za-z_][A-Za-z0-9_]*)`)

// exprEnv builds the evaluation environment for a single expression.
func (r *Resolver) exprEnv(ctx *Context) map[string]any {
	env := make(map[string]any, len(r.funcs)+3)
	for name, fn := range r.funcs {
		env[name] = fn
	}
	env["config"] = ctx.Config
	env["context"] = ctx.Outputs
	// Environment variables convert to map[string]any so missing keys
	// surface as nil and fail fast instead of yielding "".
	envVars := make(map[string]any, len(ctx.Env))
	for k, v := range ctx.Env {
		envVars[k] = v
	}
	env["env"] = envVars
	return env
}

// builtinFuncs returns the custom filter functions available inside
// expression blocks, on top of expr's own string builtins (upper, lower,
// trim, split, replace, join, ...).
func builtinFuncs() map[string]any {
	return map[string]any{
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
		"default": func(val, def any) any {
			if isEmpty(val) {
				return def
			}
			return val
		},
		"coalesce": func(values ...any) any {
			for _, v := range values {
				if !isEmpty(v) {
					return v
				}
			}
			return nil
		},
		"toJSON": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("toJSON: %w", err)
			}
			return string(b), nil
		},
		"fromJSON": func(s string) (any, error) {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, fmt.Errorf("fromJSON: %w", err)
			}
			return out, nil
		},
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

// stringify renders a resolved value for embedding in surrounding text.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
