package runner

import (
	"github.com/automaxhq/automax/pkg/template"
)

// RunContext is the shared state of one run: the immutable config and env
// snapshots plus the append-only output store. It is exclusively owned and
// mutated by the engine; everything else reads snapshots.
type RunContext struct {
	config map[string]any
	env    map[string]string

	// keys preserves commit order of qualified output keys.
	keys    []string
	outputs map[string]map[string]any

	// named is the insertion-ordered shorthand view templates see as
	// `context.*`: output_key and mapping targets, later commits win.
	namedKeys []string
	named     map[string]any
}

// NewRunContext creates a run context over immutable config and env
// snapshots.
func NewRunContext(config map[string]any, env map[string]string) *RunContext {
	if config == nil {
		config = make(map[string]any)
	}
	if env == nil {
		env = make(map[string]string)
	}
	return &RunContext{
		config:  config,
		env:     env,
		outputs: make(map[string]map[string]any),
		named:   make(map[string]any),
	}
}

// Commit stores a sub-step's result under "{stepID}:{substepID}" and merges
// the named values into the shorthand view. Entries are never removed or
// overwritten within a run; committing the same qualified key twice is an
// engine bug and panics.
func (c *RunContext) Commit(stepID, substepID string, result map[string]any, named map[string]any) {
	key := stepID + ":" + substepID
	if _, exists := c.outputs[key]; exists {
		panic("runner: duplicate output commit for " + key)
	}
	c.keys = append(c.keys, key)
	c.outputs[key] = result

	for name, val := range named {
		if _, exists := c.named[name]; !exists {
			c.namedKeys = append(c.namedKeys, name)
		}
		c.named[name] = val
	}
}

// Output returns the committed result for a qualified "step:substep" key.
func (c *RunContext) Output(key string) (map[string]any, bool) {
	out, ok := c.outputs[key]
	return out, ok
}

// OutputKeys returns the qualified keys in commit order.
func (c *RunContext) OutputKeys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// TemplateContext builds the read snapshot handed to the template resolver.
// The named map is copied so resolution never observes later commits.
func (c *RunContext) TemplateContext() *template.Context {
	named := make(map[string]any, len(c.named))
	for k, v := range c.named {
		named[k] = v
	}
	return &template.Context{
		Config:  c.config,
		Outputs: named,
		Env:     c.env,
	}
}
