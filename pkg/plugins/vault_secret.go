package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// VaultSecret reads a secret from the HashiCorp Vault KV v2 engine.
type VaultSecret struct {
	client *http.Client
}

// NewVaultSecret creates the plugin. A nil client uses http.DefaultClient.
func NewVaultSecret(client *http.Client) *VaultSecret {
	if client == nil {
		client = http.DefaultClient
	}
	return &VaultSecret{client: client}
}

// Metadata implements plugin.Plugin.
func (p *VaultSecret) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "vault_secret",
		Description:    "Read a secret from Vault KV v2",
		Required:       []string{"path"},
		Optional:       []string{"address", "token", "mount", "key"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *VaultSecret) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	_, err := plugin.StringParam("vault_secret", params, "path")
	return err
}

// Execute implements plugin.Plugin.
func (p *VaultSecret) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	path, err := plugin.StringParam("vault_secret", params, "path")
	if err != nil {
		return nil, err
	}
	address, err := plugin.OptionalString("vault_secret", params, "address", os.Getenv("VAULT_ADDR"))
	if err != nil {
		return nil, err
	}
	token, err := plugin.OptionalString("vault_secret", params, "token", os.Getenv("VAULT_TOKEN"))
	if err != nil {
		return nil, err
	}
	mount, err := plugin.OptionalString("vault_secret", params, "mount", "secret")
	if err != nil {
		return nil, err
	}
	key, err := plugin.OptionalString("vault_secret", params, "key", "")
	if err != nil {
		return nil, err
	}
	if address == "" {
		return nil, plugin.NewConfigError("vault_secret", "address", "no address given and VAULT_ADDR is unset")
	}
	if token == "" {
		return nil, plugin.NewConfigError("vault_secret", "token", "no token given and VAULT_TOKEN is unset")
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimSuffix(address, "/"), mount, strings.TrimPrefix(path, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, plugin.NewConfigError("vault_secret", "address", err.Error())
	}
	req.Header.Set("X-Vault-Token", token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, plugin.NewTransientError("contacting vault", err).WithPlugin("vault_secret")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewTransientError("reading vault response", err).WithPlugin("vault_secret")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusForbidden:
		return nil, plugin.NewFatalError("vault denied access", nil).WithPlugin("vault_secret")
	case resp.StatusCode == http.StatusNotFound:
		return nil, plugin.NewFatalError(fmt.Sprintf("secret %s/%s not found", mount, path), nil).WithPlugin("vault_secret")
	case resp.StatusCode >= 500:
		return nil, plugin.NewTransientError(fmt.Sprintf("vault returned %d", resp.StatusCode), nil).WithPlugin("vault_secret")
	default:
		return nil, plugin.NewFatalError(fmt.Sprintf("vault returned %d", resp.StatusCode), nil).WithPlugin("vault_secret")
	}

	var payload struct {
		Data struct {
			Data     map[string]any `json:"data"`
			Metadata map[string]any `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, plugin.NewFatalError("decoding vault response", err).WithPlugin("vault_secret")
	}

	if key != "" {
		value, ok := payload.Data.Data[key]
		if !ok {
			return nil, plugin.NewFatalError(fmt.Sprintf("key %q not present in secret", key), nil).WithPlugin("vault_secret")
		}
		return map[string]any{"value": value}, nil
	}
	return map[string]any{
		"data":     payload.Data.Data,
		"metadata": payload.Data.Metadata,
	}, nil
}
