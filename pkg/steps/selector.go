package steps

import (
	"fmt"
	"strings"
)

// SelectionError reports a selector token that references no loaded id.
// It is raised before any sub-step executes.
type SelectionError struct {
	// Token is the offending selector token.
	Token string

	// Message explains what did not match.
	Message string
}

// Error implements the error interface.
func (e *SelectionError) Error() string {
	return fmt.Sprintf("invalid selection %q: %s", e.Token, e.Message)
}

// Selector restricts a run to a subset of steps and sub-steps. The zero
// value selects everything.
type Selector struct {
	// steps maps a selected step id to its selected substep ids. A nil set
	// means every substep of that step.
	steps map[string]map[string]struct{}
}

// ParseSelector parses comma-separated tokens. Each token is a bare step id
// (all its sub-steps) or `step_id:substep_id` (a single sub-step). An empty
// selector string selects everything.
func ParseSelector(raw string) (*Selector, error) {
	sel := &Selector{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return sel, nil
	}

	sel.steps = make(map[string]map[string]struct{})
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, &SelectionError{Token: raw, Message: "empty token"}
		}

		stepID, substepID, hasSub := strings.Cut(token, ":")
		stepID = strings.TrimSpace(stepID)
		substepID = strings.TrimSpace(substepID)
		if stepID == "" || (hasSub && substepID == "") {
			return nil, &SelectionError{Token: token, Message: "malformed token"}
		}

		if !hasSub {
			// A bare step token selects every substep, overriding any
			// narrower token for the same step.
			sel.steps[stepID] = nil
			continue
		}
		subs, exists := sel.steps[stepID]
		if exists && subs == nil {
			// Already selected in full.
			continue
		}
		if subs == nil {
			subs = make(map[string]struct{})
			sel.steps[stepID] = subs
		}
		subs[substepID] = struct{}{}
	}
	return sel, nil
}

// All reports whether the selector selects every step.
func (s *Selector) All() bool {
	return s.steps == nil
}

// MatchesStep reports whether any sub-step of the given step is selected.
func (s *Selector) MatchesStep(stepID string) bool {
	if s.steps == nil {
		return true
	}
	_, ok := s.steps[stepID]
	return ok
}

// MatchesSubstep reports whether a specific sub-step is selected.
func (s *Selector) MatchesSubstep(stepID, substepID string) bool {
	if s.steps == nil {
		return true
	}
	subs, ok := s.steps[stepID]
	if !ok {
		return false
	}
	if subs == nil {
		return true
	}
	_, ok = subs[substepID]
	return ok
}

// Validate checks every selected id against the loaded definitions. Dynamic
// ids are matched against their raw (unrendered) form here; rendered ids are
// matched again at execution time by the engine.
func (s *Selector) Validate(defs []StepDefinition) error {
	if s.steps == nil {
		return nil
	}

	byStep := make(map[string]map[string]struct{}, len(defs))
	for i := range defs {
		subs := make(map[string]struct{}, len(defs[i].Substeps))
		for j := range defs[i].Substeps {
			subs[defs[i].Substeps[j].ID] = struct{}{}
		}
		byStep[defs[i].ID] = subs
	}

	for stepID, selected := range s.steps {
		loaded, ok := byStep[stepID]
		if !ok {
			return &SelectionError{Token: stepID, Message: "no such step"}
		}
		for substepID := range selected {
			if _, ok := loaded[substepID]; !ok {
				return &SelectionError{
					Token:   stepID + ":" + substepID,
					Message: fmt.Sprintf("step %q has no such substep", stepID),
				}
			}
		}
	}
	return nil
}
