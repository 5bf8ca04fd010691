// Package plugins holds the built-in plugin implementations and the registry
// constructor wiring them together.
package plugins

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// LocalCommand executes a command on the local host.
type LocalCommand struct{}

// Metadata implements plugin.Plugin.
func (p *LocalCommand) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "local_command",
		Description:    "Execute a command on the local host",
		Required:       []string{"command"},
		Optional:       []string{"shell", "cwd", "env", "stdin", "ignore_exit_code"},
		DefaultTimeout: 5 * time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *LocalCommand) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := plugin.StringParam("local_command", params, "command"); err != nil {
		return err
	}
	if _, err := plugin.OptionalBool("local_command", params, "shell", true); err != nil {
		return err
	}
	_, err := plugin.OptionalStringMap("local_command", params, "env")
	return err
}

// Execute implements plugin.Plugin.
func (p *LocalCommand) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	command, err := plugin.StringParam("local_command", params, "command")
	if err != nil {
		return nil, err
	}
	shell, err := plugin.OptionalBool("local_command", params, "shell", true)
	if err != nil {
		return nil, err
	}
	cwd, err := plugin.OptionalString("local_command", params, "cwd", "")
	if err != nil {
		return nil, err
	}
	stdin, err := plugin.OptionalString("local_command", params, "stdin", "")
	if err != nil {
		return nil, err
	}
	env, err := plugin.OptionalStringMap("local_command", params, "env")
	if err != nil {
		return nil, err
	}
	ignoreExit, err := plugin.OptionalBool("local_command", params, "ignore_exit_code", false)
	if err != nil {
		return nil, err
	}

	var cmd *exec.Cmd
	if shell {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	} else {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return nil, plugin.NewConfigError("local_command", "command", "empty command")
		}
		cmd = exec.CommandContext(ctx, fields[0], fields[1:]...)
	}

	cmd.Dir = cwd
	if stdin != "" {
		cmd.Stdin = bytes.NewBufferString(stdin)
	}
	if len(env) > 0 {
		cmd.Env = cmd.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() == context.DeadlineExceeded:
			return nil, plugin.NewTimeoutError("command timed out", runErr).WithPlugin("local_command")
		case errors.As(runErr, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return nil, plugin.NewFatalError("starting command", runErr).WithPlugin("local_command")
		}
	}

	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
		"success":   exitCode == 0,
	}
	if exitCode != 0 && !ignoreExit {
		return nil, plugin.NewFatalError(
			fmt.Sprintf("exit status %d: %s", exitCode, strings.TrimSpace(stderr.String())), nil,
		).WithPlugin("local_command")
	}
	return result, nil
}
