package plugins

import (
	"context"
	"time"

	"github.com/automaxhq/automax/pkg/config"
	"github.com/automaxhq/automax/pkg/plugin"
	"github.com/automaxhq/automax/pkg/transports/ssh"
)

// SSHCopy transfers a file to or from a remote host over SFTP.
type SSHCopy struct {
	defaults config.SSHDefaults
}

// NewSSHCopy creates the plugin with connection defaults from the
// runner configuration.
func NewSSHCopy(defaults config.SSHDefaults) *SSHCopy {
	return &SSHCopy{defaults: defaults}
}

// Metadata implements plugin.Plugin.
func (p *SSHCopy) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "ssh_copy",
		Description: "Copy a file to or from a remote host over SFTP",
		Required:    []string{"host", "local_path", "remote_path"},
		Optional: []string{
			"direction", "user", "port", "password", "key_file",
			"key_passphrase", "known_hosts_file",
		},
		DefaultTimeout: 10 * time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *SSHCopy) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	direction, err := plugin.OptionalString("ssh_copy", params, "direction", "upload")
	if err != nil {
		return err
	}
	if direction != "upload" && direction != "download" {
		return plugin.NewConfigError("ssh_copy", "direction", "must be upload or download")
	}
	return nil
}

// Execute implements plugin.Plugin.
func (p *SSHCopy) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	localPath, err := plugin.StringParam("ssh_copy", params, "local_path")
	if err != nil {
		return nil, err
	}
	remotePath, err := plugin.StringParam("ssh_copy", params, "remote_path")
	if err != nil {
		return nil, err
	}
	direction, err := plugin.OptionalString("ssh_copy", params, "direction", "upload")
	if err != nil {
		return nil, err
	}

	cfg, err := sshConfig("ssh_copy", params, p.defaults)
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial(ctx, cfg)
	if err != nil {
		return nil, classifyTransport("ssh_copy", err)
	}
	defer client.Close()

	var bytesCopied int64
	if direction == "download" {
		bytesCopied, err = client.Download(ctx, remotePath, localPath)
	} else {
		bytesCopied, err = client.Upload(ctx, localPath, remotePath)
	}
	if err != nil {
		return nil, classifyTransport("ssh_copy", err)
	}

	return map[string]any{
		"direction":   direction,
		"local_path":  localPath,
		"remote_path": remotePath,
		"bytes":       bytesCopied,
	}, nil
}
