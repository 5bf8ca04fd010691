package telemetry

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	bad := DefaultConfig()
	bad.Logging.Level = "shout"
	if err := bad.Validate(); err == nil {
		t.Error("expected invalid log level to fail")
	}

	bad = DefaultConfig()
	bad.Tracing.Enabled = true
	bad.Tracing.Exporter = "carrier-pigeon"
	if err := bad.Validate(); err == nil {
		t.Error("expected invalid exporter to fail")
	}

	bad = DefaultConfig()
	bad.Tracing.SamplingRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected out-of-range sampling rate to fail")
	}
}

func TestNoopTelemetry(t *testing.T) {
	tel := Noop()
	if tel.Logger == nil || tel.Tracer == nil || tel.Metrics == nil || tel.Events == nil {
		t.Fatal("noop telemetry must provide every subsystem")
	}

	// None of these should panic on the no-op instance.
	tel.Metrics.RecordRunStarted()
	tel.Metrics.RecordRunCompleted("succeeded", time.Second)
	tel.Metrics.RecordSubstepExecution("local_command", "succeeded", time.Millisecond)
	tel.Metrics.RecordPluginError("local_command", "fatal")
	tel.Events.PublishRunStarted("run-1", 3)

	if events := tel.Events.History(); len(events) != 0 {
		t.Errorf("disabled publisher should record nothing, got %d events", len(events))
	}
}

func TestEventPublisherDeliversInOrder(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})

	var got []string
	ep.Subscribe(func(e Event) {
		got = append(got, e.Type)
	})

	ep.PublishSubstepStarted("r", "s", "a", "local_command")
	ep.PublishSubstepCompleted("r", "s", "a", time.Second)
	ep.PublishRunCompleted("r", "succeeded", time.Second)

	want := []string{EventTypeSubstepStarted, EventTypeSubstepCompleted, EventTypeRunCompleted}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	for _, e := range ep.History() {
		if e.ID == "" || e.Timestamp.IsZero() {
			t.Error("published events must carry an id and timestamp")
		}
	}
}

func TestEventHistoryBounded(t *testing.T) {
	ep := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 2})

	ep.PublishSubstepStarted("r", "s", "a", "p")
	ep.PublishSubstepStarted("r", "s", "b", "p")
	ep.PublishSubstepStarted("r", "s", "c", "p")

	history := ep.History()
	if len(history) != 2 {
		t.Fatalf("expected history capped at 2, got %d", len(history))
	}
	if history[1].SubstepID != "c" {
		t.Errorf("expected newest event retained, got %+v", history[1])
	}
}

func TestComponentLoggerDoesNotPanic(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "fatal", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	child := logger.NewComponentLogger("engine").
		WithRunID("run-1").
		WithStepID("deploy").
		WithSubstepID("restart").
		WithPlugin("ssh_command").
		WithAttempt(2)
	child.Info("suppressed at fatal level")
}
