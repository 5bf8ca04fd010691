// Package steps defines the workflow step model: YAML definitions, structural
// validation, and the selector that restricts a run to a subset of ids.
package steps

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/automaxhq/automax/pkg/transform"
)

// RetryPolicy bounds re-execution of a failed sub-step.
type RetryPolicy struct {
	// MaxAttempts is the total invocation budget, first attempt included.
	MaxAttempts int `yaml:"max_attempts" validate:"required,min=1"`

	// Delay is the pause between attempts, in seconds.
	Delay float64 `yaml:"delay" validate:"min=0"`

	// Backoff multiplies the delay after every failed attempt. Values below
	// 1.0 are treated as 1.0 (fixed delay).
	Backoff float64 `yaml:"backoff"`

	// OnTimeout controls whether timeout failures consume the retry budget.
	// Defaults to true: timeouts are usually transient.
	OnTimeout *bool `yaml:"on_timeout"`
}

// DelayDuration returns the configured inter-attempt delay.
func (p *RetryPolicy) DelayDuration() time.Duration {
	return time.Duration(p.Delay * float64(time.Second))
}

// RetryOnTimeout reports whether timeouts should be retried.
func (p *RetryPolicy) RetryOnTimeout() bool {
	if p.OnTimeout == nil {
		return true
	}
	return *p.OnTimeout
}

// SubstepDefinition is one unit of work inside a step.
type SubstepDefinition struct {
	// ID is unique within the parent step. May contain template markup;
	// dynamic ids are rendered before execution.
	ID string `yaml:"id" validate:"required"`

	// Description is a template string rendered before execution.
	Description string `yaml:"description"`

	// Plugin is the registry key of the plugin to dispatch to.
	Plugin string `yaml:"plugin" validate:"required"`

	// Params are the templated parameters handed to the plugin after
	// resolution.
	Params map[string]any `yaml:"params"`

	// OutputKey stores the whole plugin result under a single context key.
	// Mutually exclusive with OutputMapping.
	OutputKey string `yaml:"output_key"`

	// OutputMapping extracts values from the plugin result through transform
	// chains. Accepts a single mapping or a list in YAML.
	OutputMapping MappingList `yaml:"output_mapping"`

	// Retry is the optional retry policy. Nil means a single attempt.
	Retry *RetryPolicy `yaml:"retry"`

	// FailFast controls whether an unrecovered failure halts the run.
	// Nil means the default (true).
	FailFast *bool `yaml:"fail_fast"`

	// Timeout bounds a single plugin invocation, in seconds. Zero falls back
	// to the plugin's declared default.
	Timeout float64 `yaml:"timeout" validate:"min=0"`
}

// FailFastEnabled reports the effective fail-fast setting.
func (s *SubstepDefinition) FailFastEnabled() bool {
	if s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// TimeoutDuration returns the per-invocation timeout override, zero if unset.
func (s *SubstepDefinition) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

// StepDefinition is an ordered group of sub-steps loaded from one YAML
// document.
type StepDefinition struct {
	// ID is unique across all loaded steps. May contain template markup.
	ID string `yaml:"id" validate:"required"`

	// Description is a template string rendered before execution.
	Description string `yaml:"description"`

	// Substeps execute in declaration order.
	Substeps []SubstepDefinition `yaml:"substeps" validate:"required,min=1,dive"`

	// Source is the file the step was loaded from. Not part of the YAML
	// contract; set by the loader for diagnostics.
	Source string `yaml:"-"`
}

// MappingList decodes either a single output mapping or a list of them.
type MappingList []transform.Mapping

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MappingList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var single transform.Mapping
		if err := node.Decode(&single); err != nil {
			return err
		}
		*m = MappingList{single}
		return nil
	case yaml.SequenceNode:
		var list []transform.Mapping
		if err := node.Decode(&list); err != nil {
			return err
		}
		*m = MappingList(list)
		return nil
	default:
		return fmt.Errorf("output_mapping must be a mapping or a list, got %v", node.Kind)
	}
}

var validate = validator.New()

// Validate checks one step definition: tag constraints, id uniqueness inside
// the step, and the output_key / output_mapping exclusivity rule.
func (s *StepDefinition) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("step %q: %w", s.ID, err)
	}

	seen := make(map[string]struct{}, len(s.Substeps))
	for i := range s.Substeps {
		sub := &s.Substeps[i]
		if _, dup := seen[sub.ID]; dup {
			return fmt.Errorf("step %q: duplicate substep id %q", s.ID, sub.ID)
		}
		seen[sub.ID] = struct{}{}

		if sub.OutputKey != "" && len(sub.OutputMapping) > 0 {
			return fmt.Errorf("step %q substep %q: output_key and output_mapping are mutually exclusive", s.ID, sub.ID)
		}
		for _, mp := range sub.OutputMapping {
			if mp.Target == "" {
				return fmt.Errorf("step %q substep %q: output_mapping needs a target", s.ID, sub.ID)
			}
		}
	}
	return nil
}

// ValidateAll checks a loaded step list, including cross-step id uniqueness.
func ValidateAll(defs []StepDefinition) error {
	seen := make(map[string]string, len(defs))
	for i := range defs {
		if err := defs[i].Validate(); err != nil {
			return err
		}
		if prev, dup := seen[defs[i].ID]; dup {
			return fmt.Errorf("duplicate step id %q in %s and %s", defs[i].ID, prev, defs[i].Source)
		}
		seen[defs[i].ID] = defs[i].Source
	}
	return nil
}
