package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/automaxhq/automax/pkg/plugin"
	"github.com/automaxhq/automax/pkg/steps"
	"github.com/automaxhq/automax/pkg/telemetry"
	"github.com/automaxhq/automax/pkg/transform"
)

// scriptedPlugin replays a canned sequence of outcomes and records every
// invocation.
type scriptedPlugin struct {
	name     string
	outcomes []error
	results  []map[string]any
	calls    []map[string]any
}

func (s *scriptedPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: s.name, DefaultTimeout: time.Minute}
}

func (s *scriptedPlugin) ValidateConfig(params map[string]any) error {
	if bad, ok := params["invalid"]; ok && bad == true {
		return plugin.NewConfigError(s.name, "invalid", "rejected by plugin")
	}
	return nil
}

func (s *scriptedPlugin) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	call := len(s.calls)
	s.calls = append(s.calls, params)

	if call < len(s.outcomes) && s.outcomes[call] != nil {
		return nil, s.outcomes[call]
	}
	if call < len(s.results) && s.results[call] != nil {
		return s.results[call], nil
	}
	return map[string]any{"call": call}, nil
}

func newTestEngine(t *testing.T, plugins ...*scriptedPlugin) (*Engine, *plugin.Registry) {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			t.Fatalf("registering %s: %v", p.name, err)
		}
	}
	eng := New(reg, telemetry.Noop())
	eng.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return eng, reg
}

func singleStep(subs ...steps.SubstepDefinition) []steps.StepDefinition {
	return []steps.StepDefinition{{ID: "main", Substeps: subs}}
}

func TestRunCommitsOutputsInOrder(t *testing.T) {
	p := &scriptedPlugin{
		name: "probe",
		results: []map[string]any{
			{"value": "first"},
			{"value": "second"},
		},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(
		steps.SubstepDefinition{ID: "a", Plugin: "probe", OutputKey: "a_out"},
		steps.SubstepDefinition{ID: "b", Plugin: "probe", Params: map[string]any{
			"prev": "{{ context.a_out.value }}",
		}},
	)

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Status != StatusSucceeded {
		t.Errorf("status: %s", report.Status)
	}
	if len(p.calls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(p.calls))
	}
	// Sub-step b must observe a's committed output, never its own or later.
	if p.calls[1]["prev"] != "first" {
		t.Errorf("ordering violated: second call saw %v", p.calls[1]["prev"])
	}
}

func TestFailFastHaltsRun(t *testing.T) {
	p := &scriptedPlugin{
		name: "probe",
		outcomes: []error{
			nil,
			plugin.NewFatalError("exit status 1", nil),
			nil,
		},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(
		steps.SubstepDefinition{ID: "a", Plugin: "probe", OutputKey: "a_out"},
		steps.SubstepDefinition{ID: "b", Plugin: "probe"},
		steps.SubstepDefinition{ID: "c", Plugin: "probe"},
	)

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected run failure")
	}
	if len(p.calls) != 2 {
		t.Errorf("third substep must never execute, got %d calls", len(p.calls))
	}
	if len(report.Results) != 2 {
		t.Errorf("expected 2 visited substeps, got %d", len(report.Results))
	}

	first := report.FirstFailure()
	if first == nil || first.SubstepID != "b" {
		t.Fatalf("first failure: %+v", first)
	}
	if first.ErrorKind != "fatal" {
		t.Errorf("error kind: %s", first.ErrorKind)
	}
}

func TestFailFastFalseCollectsFailures(t *testing.T) {
	p := &scriptedPlugin{
		name: "probe",
		outcomes: []error{
			plugin.NewFatalError("boom", nil),
			nil,
		},
	}
	eng, _ := newTestEngine(t, p)

	off := false
	defs := singleStep(
		steps.SubstepDefinition{ID: "a", Plugin: "probe", FailFast: &off},
		steps.SubstepDefinition{ID: "b", Plugin: "probe"},
	)

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected run failure to surface at the end")
	}
	if len(p.calls) != 2 {
		t.Errorf("second substep should still run, got %d calls", len(p.calls))
	}
	if len(report.Failures()) != 1 {
		t.Errorf("expected 1 recorded failure, got %d", len(report.Failures()))
	}
	if report.Results[1].State != StateSucceeded {
		t.Errorf("second substep: %s", report.Results[1].State)
	}
}

func TestRetryBudget(t *testing.T) {
	p := &scriptedPlugin{
		name: "flaky",
		outcomes: []error{
			plugin.NewTransientError("connection refused", nil),
			plugin.NewTransientError("connection refused", nil),
			nil,
		},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "flaky",
		Retry:  &steps.RetryPolicy{MaxAttempts: 3, Delay: 0.01},
	})

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.calls) != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", len(p.calls))
	}
	if report.Results[0].State != StateSucceeded || report.Results[0].Attempts != 3 {
		t.Errorf("result: %+v", report.Results[0])
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	p := &scriptedPlugin{
		name: "flaky",
		outcomes: []error{
			plugin.NewTransientError("refused", nil),
			plugin.NewTransientError("refused", nil),
			plugin.NewTransientError("refused", nil),
			nil, // would succeed, but the budget is spent
		},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "flaky",
		Retry:  &steps.RetryPolicy{MaxAttempts: 3, Delay: 0.01},
	})

	_, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected failure after budget exhaustion")
	}
	if len(p.calls) != 3 {
		t.Errorf("expected exactly 3 invocations, got %d", len(p.calls))
	}
}

func TestFatalErrorNeverRetried(t *testing.T) {
	p := &scriptedPlugin{
		name:     "broken",
		outcomes: []error{plugin.NewFatalError("bad credentials", nil)},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "broken",
		Retry:  &steps.RetryPolicy{MaxAttempts: 5, Delay: 0.01},
	})

	_, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(p.calls) != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", len(p.calls))
	}
}

func TestTimeoutRetryPolicy(t *testing.T) {
	p := &scriptedPlugin{
		name: "slow",
		outcomes: []error{
			plugin.NewTimeoutError("exceeded 1s timeout", nil),
			nil,
		},
	}
	eng, _ := newTestEngine(t, p)

	// on_timeout defaults to true: the timeout consumes a retry.
	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "slow",
		Retry:  &steps.RetryPolicy{MaxAttempts: 2, Delay: 0.01},
	})
	if _, err := eng.Run(context.Background(), defs, nil, nil, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.calls) != 2 {
		t.Errorf("expected retry on timeout, got %d calls", len(p.calls))
	}

	// With on_timeout false the first timeout is terminal.
	p2 := &scriptedPlugin{
		name:     "slow2",
		outcomes: []error{plugin.NewTimeoutError("exceeded 1s timeout", nil), nil},
	}
	eng2, _ := newTestEngine(t, p2)
	noTimeoutRetry := false
	defs2 := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "slow2",
		Retry:  &steps.RetryPolicy{MaxAttempts: 2, Delay: 0.01, OnTimeout: &noTimeoutRetry},
	})
	if _, err := eng2.Run(context.Background(), defs2, nil, nil, Options{}); err == nil {
		t.Fatal("expected terminal timeout failure")
	}
	if len(p2.calls) != 1 {
		t.Errorf("timeout must not retry when disabled, got %d calls", len(p2.calls))
	}
}

func TestUnknownPluginFatal(t *testing.T) {
	eng, _ := newTestEngine(t)

	defs := singleStep(steps.SubstepDefinition{ID: "a", Plugin: "no_such"})
	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, plugin.ErrUnknownPlugin) {
		t.Errorf("expected ErrUnknownPlugin in chain, got %v", err)
	}
	if report.FirstFailure().ErrorKind != "unknown_plugin" {
		t.Errorf("kind: %s", report.FirstFailure().ErrorKind)
	}
}

func TestConfigErrorDeterministic(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "probe",
		Params: map[string]any{"invalid": true},
		Retry:  &steps.RetryPolicy{MaxAttempts: 3, Delay: 0.01},
	})

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(p.calls) != 0 {
		t.Errorf("execute must never run on config rejection, got %d calls", len(p.calls))
	}
	if report.FirstFailure().ErrorKind != "config" {
		t.Errorf("kind: %s", report.FirstFailure().ErrorKind)
	}
}

func TestTemplateErrorFailsWithoutExecution(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "probe",
		Params: map[string]any{"ref": "{{ context.never_set }}"},
	})

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(p.calls) != 0 {
		t.Error("execute must never run on template failure")
	}
	if report.FirstFailure().ErrorKind != "template_undefined_variable" {
		t.Errorf("kind: %s", report.FirstFailure().ErrorKind)
	}
}

func TestDryRunSkipsExecution(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(
		steps.SubstepDefinition{ID: "a", Plugin: "probe", Params: map[string]any{"x": "{{ config.app }}"}},
		steps.SubstepDefinition{ID: "b", Plugin: "probe"},
	)

	report, err := eng.Run(context.Background(), defs, map[string]any{"app": "demo"}, nil, Options{DryRun: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.calls) != 0 {
		t.Errorf("dry-run must not invoke execute, got %d calls", len(p.calls))
	}
	if !report.DryRun || report.Status != StatusSucceeded {
		t.Errorf("report: %+v", report)
	}
}

func TestSelectorSkipsDeselected(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := []steps.StepDefinition{
		{ID: "prepare", Substeps: []steps.SubstepDefinition{{ID: "x", Plugin: "probe"}}},
		{ID: "deploy", Substeps: []steps.SubstepDefinition{
			{ID: "upload", Plugin: "probe"},
			{ID: "restart", Plugin: "probe"},
		}},
	}

	sel, err := steps.ParseSelector("deploy:restart")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{Selector: sel})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.calls) != 1 {
		t.Errorf("expected only the selected substep to run, got %d calls", len(p.calls))
	}
	skipped := 0
	for _, r := range report.Results {
		if r.State == StateSkipped {
			skipped++
		}
	}
	if skipped != 1 {
		t.Errorf("expected 1 recorded skip inside the selected step, got %d", skipped)
	}
}

func TestSelectorValidatedBeforeExecution(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{ID: "a", Plugin: "probe"})
	sel, err := steps.ParseSelector("main:missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = eng.Run(context.Background(), defs, nil, nil, Options{Selector: sel})
	var serr *steps.SelectionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SelectionError, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Error("nothing may execute on selection error")
	}
}

func TestOutputMappingApplied(t *testing.T) {
	p := &scriptedPlugin{
		name: "probe",
		results: []map[string]any{
			{"rows": []any{
				map[string]any{"name": "a", "active": true},
				map[string]any{"name": "b", "active": false},
			}},
			nil,
		},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(
		steps.SubstepDefinition{
			ID:     "query",
			Plugin: "probe",
			OutputMapping: steps.MappingList{{
				Source:     "rows",
				Transforms: []string{"filter:active==True", "map:item.name", "as:list"},
				Target:     "active_names",
			}},
		},
		steps.SubstepDefinition{
			ID:     "use",
			Plugin: "probe",
			Params: map[string]any{"names": "{{ context.active_names }}"},
		},
	)

	_, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names, ok := p.calls[1]["names"].([]any)
	if !ok || len(names) != 1 || names[0] != "a" {
		t.Errorf("mapped output not visible downstream: %v", p.calls[1]["names"])
	}
}

func TestMappingErrorFailsSubstep(t *testing.T) {
	p := &scriptedPlugin{
		name:    "probe",
		results: []map[string]any{{"ok": true}},
	}
	eng, _ := newTestEngine(t, p)

	defs := singleStep(steps.SubstepDefinition{
		ID:     "a",
		Plugin: "probe",
		OutputMapping: steps.MappingList{{
			Source: "missing.path",
			Target: "x",
		}},
	})

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected failure")
	}
	if report.FirstFailure().ErrorKind != "mapping_path_not_found" {
		t.Errorf("kind: %s", report.FirstFailure().ErrorKind)
	}

	var merr *transform.Error
	if !errors.As(err, &merr) {
		t.Errorf("expected transform error in chain, got %v", err)
	}
}

func TestDynamicIDsRendered(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := []steps.StepDefinition{{
		ID: "deploy-{{ config.env }}",
		Substeps: []steps.SubstepDefinition{
			{ID: "restart-{{ config.env }}", Plugin: "probe", OutputKey: "out"},
		},
	}}

	report, err := eng.Run(context.Background(), defs, map[string]any{"env": "prod"}, nil, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Results[0].QualifiedID() != "deploy-prod:restart-prod" {
		t.Errorf("rendered ids: %s", report.Results[0].QualifiedID())
	}
}

func TestRunContextAppendOnly(t *testing.T) {
	rc := NewRunContext(map[string]any{"a": 1}, nil)
	rc.Commit("s", "one", map[string]any{"v": 1}, map[string]any{"first": 1})
	rc.Commit("s", "two", map[string]any{"v": 2}, map[string]any{"second": 2})

	keys := rc.OutputKeys()
	if len(keys) != 2 || keys[0] != "s:one" || keys[1] != "s:two" {
		t.Errorf("keys: %v", keys)
	}

	tctx := rc.TemplateContext()
	if tctx.Outputs["first"] != 1 || tctx.Outputs["second"] != 2 {
		t.Errorf("merged view: %v", tctx.Outputs)
	}

	// The snapshot must not observe later commits.
	rc.Commit("s", "three", map[string]any{"v": 3}, map[string]any{"third": 3})
	if _, leaked := tctx.Outputs["third"]; leaked {
		t.Error("snapshot observed a later commit")
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate commit must panic")
		}
	}()
	rc.Commit("s", "one", nil, nil)
}

func TestRetryDelayBackoffCapped(t *testing.T) {
	policy := &steps.RetryPolicy{MaxAttempts: 10, Delay: 1, Backoff: 10}

	if d := retryDelay(policy, 1); d != time.Second {
		t.Errorf("first delay: %v", d)
	}
	if d := retryDelay(policy, 2); d != 10*time.Second {
		t.Errorf("second delay: %v", d)
	}
	if d := retryDelay(policy, 5); d != time.Minute {
		t.Errorf("capped delay: %v", d)
	}
}

func TestStepDescriptionRenderFailureHaltsRun(t *testing.T) {
	p := &scriptedPlugin{name: "probe"}
	eng, _ := newTestEngine(t, p)

	defs := []steps.StepDefinition{
		{
			ID:          "deploy",
			Description: "deploying {{ context.missing }}",
			Substeps:    []steps.SubstepDefinition{{ID: "upload", Plugin: "probe"}},
		},
		{
			ID:       "verify",
			Substeps: []steps.SubstepDefinition{{ID: "health", Plugin: "probe"}},
		},
	}

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected run failure")
	}
	if len(p.calls) != 0 {
		t.Errorf("no substep may execute, got %d calls", len(p.calls))
	}

	first := report.FirstFailure()
	if first == nil || first.StepID != "deploy" || first.SubstepID != "upload" {
		t.Fatalf("first failure: %+v", first)
	}
	if first.ErrorKind != "template_undefined_variable" {
		t.Errorf("error kind: %s", first.ErrorKind)
	}
}

// blockingPlugin holds until its context expires, then surfaces the raw
// context error without classifying it.
type blockingPlugin struct{}

func (b *blockingPlugin) Metadata() plugin.Metadata {
	return plugin.Metadata{Name: "blocker", DefaultTimeout: time.Minute}
}

func (b *blockingPlugin) ValidateConfig(params map[string]any) error { return nil }

func (b *blockingPlugin) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDeadlineExpiryClassifiedAsTimeout(t *testing.T) {
	reg := plugin.NewRegistry()
	if err := reg.Register(&blockingPlugin{}); err != nil {
		t.Fatal(err)
	}
	eng := New(reg, telemetry.Noop())
	eng.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	defs := singleStep(steps.SubstepDefinition{
		ID:      "hang",
		Plugin:  "blocker",
		Timeout: 0.05,
	})

	report, err := eng.Run(context.Background(), defs, nil, nil, Options{})
	if err == nil {
		t.Fatal("expected run failure")
	}

	first := report.FirstFailure()
	if first == nil || first.Attempts != 1 {
		t.Fatalf("first failure: %+v", first)
	}
	if first.ErrorKind != "timeout" {
		t.Errorf("error kind: %s", first.ErrorKind)
	}
	if !plugin.IsTimeout(first.Err) {
		t.Errorf("terminal error not timeout-classified: %v", first.Err)
	}
}

func TestFailedRunSpanStatusIsError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tel := telemetry.Noop()
	tel.Tracer = telemetry.NewTracerWithProvider(provider, "engine-test")

	p := &scriptedPlugin{
		name:     "probe",
		outcomes: []error{plugin.NewFatalError("boom", nil)},
	}
	reg := plugin.NewRegistry()
	if err := reg.Register(p); err != nil {
		t.Fatal(err)
	}
	eng := New(reg, tel)
	eng.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	defs := singleStep(steps.SubstepDefinition{ID: "a", Plugin: "probe"})
	if _, err := eng.Run(context.Background(), defs, nil, nil, Options{}); err == nil {
		t.Fatal("expected run failure")
	}

	var runSpan sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "run.execute" {
			runSpan = span
		}
	}
	if runSpan == nil {
		t.Fatal("run span never ended")
	}
	if runSpan.Status().Code != codes.Error {
		t.Errorf("run span status: %v", runSpan.Status().Code)
	}
}
