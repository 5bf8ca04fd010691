// Package runner implements the step execution engine: it walks the ordered
// step list, resolves parameters, dispatches plugins through the registry,
// applies retry and fail-fast policy, and commits mapped outputs to the
// shared run context.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/automaxhq/automax/pkg/plugin"
	"github.com/automaxhq/automax/pkg/steps"
	"github.com/automaxhq/automax/pkg/telemetry"
	"github.com/automaxhq/automax/pkg/template"
	"github.com/automaxhq/automax/pkg/transform"
)

// backoffCap bounds the inter-attempt delay growth.
const backoffCap = time.Minute

// Options control one run.
type Options struct {
	// Selector restricts execution to a subset of ids. Nil selects all.
	Selector *steps.Selector

	// DryRun resolves templates and validates plugin params for every
	// selected sub-step without invoking execute.
	DryRun bool
}

// Engine executes step definitions. It owns the run context for the duration
// of a run; a single Engine may be reused for sequential runs.
type Engine struct {
	registry *plugin.Registry
	resolver *template.Resolver
	mapper   *transform.Mapper
	tel      *telemetry.Telemetry
	log      *telemetry.Logger

	// sleep is swapped out in tests to skip real retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an engine over a plugin registry and telemetry handle.
func New(registry *plugin.Registry, tel *telemetry.Telemetry) *Engine {
	if tel == nil {
		tel = telemetry.Noop()
	}
	resolver := template.NewResolver()
	return &Engine{
		registry: registry,
		resolver: resolver,
		mapper:   transform.NewMapper(resolver),
		tel:      tel,
		log:      tel.Logger.NewComponentLogger("engine"),
		sleep:    sleepCtx,
	}
}

// Run executes the step definitions against the given config and env
// snapshots. The selector, if any, must already be validated against defs.
// The returned report always carries every visited sub-step; err is non-nil
// only for failed runs.
func (e *Engine) Run(ctx context.Context, defs []steps.StepDefinition, config map[string]any, env map[string]string, opts Options) (*Report, error) {
	if opts.Selector == nil {
		opts.Selector = &steps.Selector{}
	}
	if err := opts.Selector.Validate(defs); err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Status:    StatusSucceeded,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
	}
	rc := NewRunContext(config, env)
	log := e.log.WithRunID(report.RunID)

	ctx, runSpan := e.tel.Tracer.StartRunSpan(ctx, report.RunID)
	defer runSpan.End()

	e.tel.Metrics.RecordRunStarted()
	e.tel.Events.PublishRunStarted(report.RunID, len(defs))
	log.Infof("run started: %d steps, dry_run=%v", len(defs), opts.DryRun)

	halted := false
	for i := range defs {
		if halted {
			break
		}
		step := &defs[i]

		stepID, err := e.resolver.ResolveToString(step.ID, rc.TemplateContext())
		if err != nil {
			// A step id that cannot render fails its first sub-step's slot.
			res := SubstepResult{
				StepID:    step.ID,
				SubstepID: firstSubstepID(step),
				State:     StateFailed,
				Err:       err,
				ErrorKind: errorKind(err),
			}
			report.record(res)
			report.Status = StatusFailed
			halted = true
			break
		}

		if !opts.Selector.MatchesStep(step.ID) && !opts.Selector.MatchesStep(stepID) {
			continue
		}

		stepCtx, stepSpan := e.tel.Tracer.StartStepSpan(ctx, stepID)
		stepLog := log.WithStepID(stepID)
		if step.Description != "" {
			desc, derr := e.resolver.ResolveToString(step.Description, rc.TemplateContext())
			if derr != nil {
				// Step descriptions fail the step just like sub-step ones do.
				report.record(SubstepResult{
					StepID:    stepID,
					SubstepID: firstSubstepID(step),
					State:     StateFailed,
					Err:       derr,
					ErrorKind: errorKind(derr),
				})
				report.Status = StatusFailed
				telemetry.RecordError(stepSpan, derr)
				stepSpan.End()
				halted = true
				break
			}
			stepLog.Debugf("step: %s", desc)
		}

		for j := range step.Substeps {
			sub := &step.Substeps[j]

			if !e.selected(opts.Selector, step.ID, stepID, sub.ID) {
				report.record(SubstepResult{
					StepID:    stepID,
					SubstepID: sub.ID,
					Plugin:    sub.Plugin,
					State:     StateSkipped,
				})
				e.tel.Events.PublishSubstepSkipped(report.RunID, stepID, sub.ID)
				continue
			}

			res := e.runSubstep(stepCtx, report.RunID, rc, stepID, sub, opts.DryRun, stepLog)
			report.record(res)

			if res.State == StateFailed {
				report.Status = StatusFailed
				e.tel.Metrics.RecordError(res.ErrorKind)
				if sub.FailFastEnabled() {
					stepLog.WithError(res.Err).Error("halting run: fail_fast sub-step failed")
					halted = true
					break
				}
				stepLog.WithError(res.Err).Warn("continuing run: fail_fast disabled")
			}
		}
		stepSpan.End()
	}

	report.Duration = time.Since(report.StartedAt)
	e.tel.Metrics.RecordRunCompleted(string(report.Status), report.Duration)
	e.tel.Events.PublishRunCompleted(report.RunID, string(report.Status), report.Duration)

	if report.Status == StatusFailed {
		first := report.FirstFailure()
		err := fmt.Errorf("run %s failed at %s (%s): %w",
			report.RunID, first.QualifiedID(), first.ErrorKind, first.Err)
		telemetry.RecordError(runSpan, err)
		log.WithError(first.Err).Errorf("run failed at %s", first.QualifiedID())
		return report, err
	}

	telemetry.RecordSuccess(runSpan)
	log.Infof("run succeeded in %s", report.Duration)
	return report, nil
}

// selected matches a sub-step against the selector using both the raw and
// the rendered step id, so selectors keep working with dynamic ids.
func (e *Engine) selected(sel *steps.Selector, rawStepID, stepID, substepID string) bool {
	return sel.MatchesSubstep(rawStepID, substepID) || sel.MatchesSubstep(stepID, substepID)
}

// runSubstep drives one sub-step through the state machine:
// Resolving, then Executing with the retry loop, then output mapping.
func (e *Engine) runSubstep(ctx context.Context, runID string, rc *RunContext, stepID string, sub *steps.SubstepDefinition, dryRun bool, stepLog *telemetry.Logger) SubstepResult {
	started := time.Now()
	res := SubstepResult{StepID: stepID, SubstepID: sub.ID, Plugin: sub.Plugin, State: StateResolving}

	fail := func(err error) SubstepResult {
		res.State = StateFailed
		res.Err = err
		res.ErrorKind = errorKind(err)
		res.Duration = time.Since(started)
		e.tel.Events.PublishSubstepFailed(runID, stepID, res.SubstepID, err.Error())
		e.tel.Metrics.RecordSubstepExecution(sub.Plugin, string(StateFailed), res.Duration)
		return res
	}

	tctx := rc.TemplateContext()

	substepID, err := e.resolver.ResolveToString(sub.ID, tctx)
	if err != nil {
		return fail(err)
	}
	res.SubstepID = substepID

	ctx, span := e.tel.Tracer.StartSubstepSpan(ctx, stepID, substepID, sub.Plugin)
	defer span.End()
	log := stepLog.WithSubstepID(substepID).WithPlugin(sub.Plugin)

	if sub.Description != "" {
		if _, err := e.resolver.ResolveToString(sub.Description, tctx); err != nil {
			telemetry.RecordError(span, err)
			return fail(err)
		}
	}

	params, err := e.resolver.ResolveParams(sub.Params, tctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fail(err)
	}

	p, err := e.registry.Get(sub.Plugin)
	if err != nil {
		telemetry.RecordError(span, err)
		return fail(err)
	}

	if err := p.ValidateConfig(params); err != nil {
		telemetry.RecordError(span, err)
		return fail(err)
	}

	if dryRun {
		res.State = StateSucceeded
		res.Duration = time.Since(started)
		log.Info("dry-run: resolved and validated")
		telemetry.RecordSuccess(span)
		return res
	}

	timeout := sub.TimeoutDuration()
	if timeout == 0 {
		timeout = p.Metadata().DefaultTimeout
	}

	e.tel.Events.PublishSubstepStarted(runID, stepID, substepID, sub.Plugin)
	res.State = StateExecuting

	result, attempts, err := e.executeWithRetry(ctx, p, params, sub, timeout, runID, stepID, substepID, log)
	res.Attempts = attempts
	if err != nil {
		telemetry.RecordError(span, err)
		var execErr *plugin.ExecError
		if errors.As(err, &execErr) {
			e.tel.Metrics.RecordPluginError(sub.Plugin, string(execErr.Class))
		}
		return fail(err)
	}

	named, err := e.mapOutputs(result, sub, rc)
	if err != nil {
		telemetry.RecordError(span, err)
		return fail(err)
	}
	rc.Commit(stepID, substepID, result, named)

	res.State = StateSucceeded
	res.Duration = time.Since(started)
	e.tel.Metrics.RecordSubstepExecution(sub.Plugin, string(StateSucceeded), res.Duration)
	e.tel.Events.PublishSubstepCompleted(runID, stepID, substepID, res.Duration)
	log.WithAttempt(attempts).Info("substep succeeded")
	telemetry.RecordSuccess(span)
	return res
}

// executeWithRetry invokes the plugin under the sub-step's retry policy.
// Exactly the budgeted number of invocations occurs in the worst case.
func (e *Engine) executeWithRetry(ctx context.Context, p plugin.Plugin, params map[string]any, sub *steps.SubstepDefinition, timeout time.Duration, runID, stepID, substepID string, log *telemetry.Logger) (map[string]any, int, error) {
	maxAttempts := 1
	if sub.Retry != nil {
		maxAttempts = sub.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.invoke(ctx, p, params, sub.Plugin, timeout, attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The run itself was cancelled; no point in further attempts.
			return nil, attempt, err
		}
		if !e.retryable(err, sub.Retry) || attempt == maxAttempts {
			return nil, attempt, err
		}

		delay := retryDelay(sub.Retry, attempt)
		log.WithAttempt(attempt).WithError(err).Warnf("retrying in %s", delay)
		e.tel.Metrics.RecordSubstepRetry(sub.Plugin)
		e.tel.Events.PublishSubstepRetrying(runID, stepID, substepID, attempt, delay)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, attempt, lastErr
		}
	}
	return nil, maxAttempts, lastErr
}

// invoke runs a single plugin call under its timeout and classifies deadline
// expiry as a timeout error.
func (e *Engine) invoke(ctx context.Context, p plugin.Plugin, params map[string]any, pluginName string, timeout time.Duration, attempt int) (map[string]any, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	callCtx, span := e.tel.Tracer.StartPluginSpan(callCtx, pluginName, attempt)
	defer span.End()

	start := time.Now()
	result, err := p.Execute(callCtx, params)
	e.tel.Metrics.RecordPluginCall(pluginName, time.Since(start))

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && !plugin.IsTimeout(err) {
			err = plugin.NewTimeoutError(fmt.Sprintf("exceeded %s timeout", timeout), err).WithPlugin(pluginName)
		}
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// retryable applies the propagation policy: only plugin-classified transient
// failures retry, timeouts only when the policy accepts them. Everything
// deterministic (template, mapping, config, unknown plugin) never reaches
// this point with a retry budget.
func (e *Engine) retryable(err error, policy *steps.RetryPolicy) bool {
	if policy == nil {
		return false
	}
	if plugin.IsTimeout(err) {
		return policy.RetryOnTimeout()
	}
	return plugin.IsTransient(err)
}

// retryDelay grows the configured delay by the backoff multiplier per
// attempt, capped at one minute.
func retryDelay(policy *steps.RetryPolicy, attempt int) time.Duration {
	delay := policy.DelayDuration()
	if policy.Backoff > 1.0 {
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * policy.Backoff)
			if delay >= backoffCap {
				return backoffCap
			}
		}
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

// mapOutputs produces the named values a sub-step contributes to the
// shorthand context view.
func (e *Engine) mapOutputs(result map[string]any, sub *steps.SubstepDefinition, rc *RunContext) (map[string]any, error) {
	if sub.OutputKey != "" {
		return map[string]any{sub.OutputKey: result}, nil
	}
	if len(sub.OutputMapping) > 0 {
		return e.mapper.Apply(result, []transform.Mapping(sub.OutputMapping), rc.TemplateContext())
	}
	return nil, nil
}

// errorKind classifies a terminal error for reporting and metrics.
func errorKind(err error) string {
	var terr *template.Error
	if errors.As(err, &terr) {
		return "template_" + string(terr.Kind)
	}
	var merr *transform.Error
	if errors.As(err, &merr) {
		return "mapping_" + string(merr.Kind)
	}
	var cerr *plugin.ConfigError
	if errors.As(err, &cerr) {
		return "config"
	}
	if errors.Is(err, plugin.ErrUnknownPlugin) {
		return "unknown_plugin"
	}
	var execErr *plugin.ExecError
	if errors.As(err, &execErr) {
		return string(execErr.Class)
	}
	var serr *steps.SelectionError
	if errors.As(err, &serr) {
		return "selection"
	}
	return "unknown"
}

func firstSubstepID(step *steps.StepDefinition) string {
	if len(step.Substeps) > 0 {
		return step.Substeps[0].ID
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
