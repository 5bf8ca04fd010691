package plugins

import (
	"github.com/automaxhq/automax/pkg/config"
	"github.com/automaxhq/automax/pkg/plugin"
)

// NewRegistry builds a registry with every built-in plugin registered.
func NewRegistry(sshDefaults config.SSHDefaults) (*plugin.Registry, error) {
	registry := plugin.NewRegistry()

	builtins := []plugin.Plugin{
		&LocalCommand{},
		NewSSHCommand(sshDefaults),
		NewSSHCopy(sshDefaults),
		NewHTTPRequest(nil),
		&ReadFile{},
		&WriteFile{},
		&CompressFile{},
		&UncompressFile{},
		&CheckTCPConnection{},
		&CheckNetworkConnection{},
		&CheckICMPConnection{},
		&DatabaseQuery{},
		&SendEmail{},
		NewVaultSecret(nil),
		NewAWSSecretsManager(nil),
		NewAzureKeyVault(nil),
		NewGoogleSecretManager(nil),
		&AMQPPublish{},
	}
	for _, p := range builtins {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
