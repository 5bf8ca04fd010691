package steps

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const deployStep = `
id: deploy
description: Deploy {{ config.app }}
substeps:
  - id: upload
    description: Upload the bundle
    plugin: ssh_copy
    params:
      host: "{host}"
      local_path: ./bundle.tgz
      remote_path: /opt/app/bundle.tgz
    output_key: upload_result
  - id: restart
    plugin: ssh_command
    params:
      host: "{host}"
      command: systemctl restart app
    retry:
      max_attempts: 3
      delay: 2
      backoff: 2.0
    fail_fast: false
    output_mapping:
      source: stdout
      transforms: ["as:str"]
      target: restart_output
`

func writeStep(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing step file: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeStep(t, dir, "01_deploy.yaml", deployStep)

	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if def.ID != "deploy" {
		t.Errorf("id: got %q", def.ID)
	}
	if len(def.Substeps) != 2 {
		t.Fatalf("expected 2 substeps, got %d", len(def.Substeps))
	}

	upload := def.Substeps[0]
	if upload.Plugin != "ssh_copy" || upload.OutputKey != "upload_result" {
		t.Errorf("upload substep mismatched: %+v", upload)
	}
	if !upload.FailFastEnabled() {
		t.Error("fail_fast should default to true")
	}

	restart := def.Substeps[1]
	if restart.FailFastEnabled() {
		t.Error("explicit fail_fast: false should stick")
	}
	if restart.Retry == nil || restart.Retry.MaxAttempts != 3 {
		t.Errorf("retry policy mismatched: %+v", restart.Retry)
	}
	if restart.Retry.DelayDuration().Seconds() != 2 {
		t.Errorf("delay: got %v", restart.Retry.DelayDuration())
	}
	if !restart.Retry.RetryOnTimeout() {
		t.Error("on_timeout should default to true")
	}
	if len(restart.OutputMapping) != 1 || restart.OutputMapping[0].Target != "restart_output" {
		t.Errorf("output mapping mismatched: %+v", restart.OutputMapping)
	}
}

func TestLoadDirOrdersByFilename(t *testing.T) {
	dir := t.TempDir()
	writeStep(t, dir, "02_second.yaml", "id: second\nsubsteps:\n  - id: a\n    plugin: local_command\n")
	writeStep(t, dir, "01_first.yaml", "id: first\nsubsteps:\n  - id: a\n    plugin: local_command\n")
	writeStep(t, dir, "notes.txt", "not a step")

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(defs))
	}
	if defs[0].ID != "first" || defs[1].ID != "second" {
		t.Errorf("wrong order: %s, %s", defs[0].ID, defs[1].ID)
	}
}

func TestLoadDirEmptyFails(t *testing.T) {
	if _, err := LoadDir(t.TempDir()); err == nil {
		t.Error("expected error for empty steps directory")
	}
}

func TestValidateRejectsMissingPlugin(t *testing.T) {
	dir := t.TempDir()
	path := writeStep(t, dir, "bad.yaml", "id: bad\nsubsteps:\n  - id: a\n    description: no plugin\n")

	if _, err := LoadFile(path); err == nil {
		t.Error("expected validation error for missing plugin")
	}
}

func TestValidateRejectsOutputKeyWithMapping(t *testing.T) {
	dir := t.TempDir()
	path := writeStep(t, dir, "bad.yaml", `
id: bad
substeps:
  - id: a
    plugin: local_command
    output_key: whole
    output_mapping:
      source: stdout
      target: part
`)

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for output_key alongside output_mapping")
	}
}

func TestValidateRejectsDuplicateSubstepIDs(t *testing.T) {
	dir := t.TempDir()
	path := writeStep(t, dir, "bad.yaml", `
id: bad
substeps:
  - id: a
    plugin: local_command
  - id: a
    plugin: local_command
`)

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for duplicate substep ids")
	}
}

func TestValidateAllRejectsDuplicateStepIDs(t *testing.T) {
	dir := t.TempDir()
	writeStep(t, dir, "01.yaml", "id: same\nsubsteps:\n  - id: a\n    plugin: local_command\n")
	writeStep(t, dir, "02.yaml", "id: same\nsubsteps:\n  - id: a\n    plugin: local_command\n")

	if _, err := LoadDir(dir); err == nil {
		t.Error("expected error for duplicate step ids across files")
	}
}

func TestOutputMappingListForm(t *testing.T) {
	dir := t.TempDir()
	path := writeStep(t, dir, "list.yaml", `
id: list
substeps:
  - id: a
    plugin: http_request
    output_mapping:
      - source: body
        transforms: ["json_parse"]
        target: parsed
      - source: status_code
        target: status
`)

	def, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(def.Substeps[0].OutputMapping) != 2 {
		t.Errorf("expected 2 mappings, got %d", len(def.Substeps[0].OutputMapping))
	}
}

func testDefs() []StepDefinition {
	return []StepDefinition{
		{ID: "prepare", Substeps: []SubstepDefinition{{ID: "mkdirs", Plugin: "local_command"}}},
		{ID: "deploy", Substeps: []SubstepDefinition{
			{ID: "upload", Plugin: "ssh_copy"},
			{ID: "restart", Plugin: "ssh_command"},
		}},
	}
}

func TestSelectorEmptySelectsAll(t *testing.T) {
	sel, err := ParseSelector("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sel.All() {
		t.Error("empty selector should select everything")
	}
	if !sel.MatchesSubstep("deploy", "restart") {
		t.Error("empty selector should match any substep")
	}
}

func TestSelectorStepAndSubstepTokens(t *testing.T) {
	sel, err := ParseSelector("prepare, deploy:restart")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sel.Validate(testDefs()); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	if !sel.MatchesSubstep("prepare", "mkdirs") {
		t.Error("bare step token should match all its substeps")
	}
	if !sel.MatchesSubstep("deploy", "restart") {
		t.Error("step:substep token should match")
	}
	if sel.MatchesSubstep("deploy", "upload") {
		t.Error("unselected substep should not match")
	}
	if sel.MatchesStep("cleanup") {
		t.Error("unselected step should not match")
	}
}

func TestSelectorValidationFailsBeforeExecution(t *testing.T) {
	sel, err := ParseSelector("deploy:missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = sel.Validate(testDefs())
	if err == nil {
		t.Fatal("expected SelectionError")
	}
	var serr *SelectionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SelectionError, got %T", err)
	}
	if serr.Token != "deploy:missing" {
		t.Errorf("token: got %q", serr.Token)
	}

	sel, _ = ParseSelector("nope")
	if err := sel.Validate(testDefs()); err == nil {
		t.Error("expected SelectionError for unknown step")
	}
}

func TestSelectorMalformedTokens(t *testing.T) {
	for _, raw := range []string{",", "a:,b", ":sub", "a:"} {
		if _, err := ParseSelector(raw); err == nil {
			t.Errorf("%q: expected parse error", raw)
		}
	}
}

func TestSelectorBareStepOverridesNarrowToken(t *testing.T) {
	sel, err := ParseSelector("deploy:upload, deploy")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sel.MatchesSubstep("deploy", "restart") {
		t.Error("bare step token should widen the selection")
	}

	sel, err = ParseSelector("deploy, deploy:upload")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sel.MatchesSubstep("deploy", "restart") {
		t.Error("narrow token after a bare step token must not shrink it")
	}
}
