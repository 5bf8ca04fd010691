package plugins

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/config"
	"github.com/automaxhq/automax/pkg/plugin"
	"github.com/automaxhq/automax/pkg/transports/ssh"
)

// SSHCommand executes a command on a remote host over SSH.
type SSHCommand struct {
	defaults config.SSHDefaults
}

// NewSSHCommand creates the plugin with connection defaults from the
// runner configuration.
func NewSSHCommand(defaults config.SSHDefaults) *SSHCommand {
	return &SSHCommand{defaults: defaults}
}

// Metadata implements plugin.Plugin.
func (p *SSHCommand) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "ssh_command",
		Description: "Execute a command on a remote host over SSH",
		Required:    []string{"host", "command"},
		Optional: []string{
			"user", "port", "password", "key_file", "key_passphrase",
			"known_hosts_file", "stdin", "ignore_exit_code",
		},
		DefaultTimeout: 5 * time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *SSHCommand) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := plugin.StringParam("ssh_command", params, "host"); err != nil {
		return err
	}
	if _, err := plugin.StringParam("ssh_command", params, "command"); err != nil {
		return err
	}
	_, err := plugin.OptionalInt("ssh_command", params, "port", 0)
	return err
}

// Execute implements plugin.Plugin.
func (p *SSHCommand) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	command, err := plugin.StringParam("ssh_command", params, "command")
	if err != nil {
		return nil, err
	}
	stdin, err := plugin.OptionalString("ssh_command", params, "stdin", "")
	if err != nil {
		return nil, err
	}
	ignoreExit, err := plugin.OptionalBool("ssh_command", params, "ignore_exit_code", false)
	if err != nil {
		return nil, err
	}

	cfg, err := sshConfig("ssh_command", params, p.defaults)
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial(ctx, cfg)
	if err != nil {
		return nil, classifyTransport("ssh_command", err)
	}
	defer client.Close()

	res, err := client.Run(ctx, command, stdin)
	if err != nil {
		return nil, classifyTransport("ssh_command", err)
	}

	result := map[string]any{
		"stdout":    res.Stdout,
		"stderr":    res.Stderr,
		"exit_code": res.ExitCode,
		"success":   res.ExitCode == 0,
	}
	if res.ExitCode != 0 && !ignoreExit {
		return nil, plugin.NewFatalError(
			fmt.Sprintf("exit status %d on %s: %s", res.ExitCode, cfg.Host, strings.TrimSpace(res.Stderr)), nil,
		).WithPlugin("ssh_command")
	}
	return result, nil
}

// sshConfig builds a transport config from plugin params layered over the
// runner-wide SSH defaults.
func sshConfig(name string, params map[string]any, defaults config.SSHDefaults) (*ssh.Config, error) {
	host, err := plugin.StringParam(name, params, "host")
	if err != nil {
		return nil, err
	}
	user, err := plugin.OptionalString(name, params, "user", defaults.User)
	if err != nil {
		return nil, err
	}
	port, err := plugin.OptionalInt(name, params, "port", defaults.Port)
	if err != nil {
		return nil, err
	}
	password, err := plugin.OptionalString(name, params, "password", "")
	if err != nil {
		return nil, err
	}
	keyFile, err := plugin.OptionalString(name, params, "key_file", defaults.KeyFile)
	if err != nil {
		return nil, err
	}
	passphrase, err := plugin.OptionalString(name, params, "key_passphrase", "")
	if err != nil {
		return nil, err
	}
	knownHosts, err := plugin.OptionalString(name, params, "known_hosts_file", defaults.KnownHostsFile)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.Config{
		Host:                 host,
		Port:                 port,
		User:                 user,
		Password:             password,
		PrivateKeyPath:       keyFile,
		PrivateKeyPassphrase: passphrase,
		KnownHostsPath:       knownHosts,
		ConnectTimeout:       defaults.ConnectTimeout,
	}
	if password != "" {
		cfg.AuthMethod = ssh.AuthMethodPassword
	} else {
		cfg.AuthMethod = ssh.AuthMethodKey
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return cfg, nil
}

// classifyTransport maps transport failures onto execution error classes.
func classifyTransport(name string, err error) error {
	if terr, ok := err.(*ssh.TransportError); ok && terr.Temporary() {
		return plugin.NewTransientError(terr.Error(), terr).WithPlugin(name)
	}
	return plugin.NewFatalError(err.Error(), err).WithPlugin(name)
}
