package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

// AzureKeyVault reads a secret from Azure Key Vault over its REST API.
type AzureKeyVault struct {
	client *http.Client
}

// NewAzureKeyVault creates the plugin. A nil client uses http.DefaultClient.
func NewAzureKeyVault(client *http.Client) *AzureKeyVault {
	if client == nil {
		client = http.DefaultClient
	}
	return &AzureKeyVault{client: client}
}

// Metadata implements plugin.Plugin.
func (p *AzureKeyVault) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "azure_key_vault",
		Description:    "Read a secret from Azure Key Vault",
		Required:       []string{"vault_url", "secret_name"},
		Optional:       []string{"token", "secret_version", "api_version"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *AzureKeyVault) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	vaultURL, err := plugin.StringParam("azure_key_vault", params, "vault_url")
	if err != nil {
		return err
	}
	u, err := url.Parse(vaultURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return plugin.NewConfigError("azure_key_vault", "vault_url", fmt.Sprintf("not a valid URL: %q", vaultURL))
	}
	_, err = plugin.StringParam("azure_key_vault", params, "secret_name")
	return err
}

// Execute implements plugin.Plugin.
func (p *AzureKeyVault) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	vaultURL, err := plugin.StringParam("azure_key_vault", params, "vault_url")
	if err != nil {
		return nil, err
	}
	secretName, err := plugin.StringParam("azure_key_vault", params, "secret_name")
	if err != nil {
		return nil, err
	}
	token, err := plugin.OptionalString("azure_key_vault", params, "token", os.Getenv("AZURE_ACCESS_TOKEN"))
	if err != nil {
		return nil, err
	}
	version, err := plugin.OptionalString("azure_key_vault", params, "secret_version", "")
	if err != nil {
		return nil, err
	}
	apiVersion, err := plugin.OptionalString("azure_key_vault", params, "api_version", "7.4")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, plugin.NewConfigError("azure_key_vault", "token", "no token given and AZURE_ACCESS_TOKEN is unset")
	}

	endpoint := fmt.Sprintf("%s/secrets/%s", strings.TrimSuffix(vaultURL, "/"), url.PathEscape(secretName))
	if version != "" {
		endpoint += "/" + url.PathEscape(version)
	}
	endpoint += "?api-version=" + url.QueryEscape(apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, plugin.NewConfigError("azure_key_vault", "vault_url", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, plugin.NewTransientError("contacting key vault", err).WithPlugin("azure_key_vault")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewTransientError("reading key vault response", err).WithPlugin("azure_key_vault")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, plugin.NewFatalError("key vault denied access", nil).WithPlugin("azure_key_vault")
	case resp.StatusCode == http.StatusNotFound:
		return nil, plugin.NewFatalError(fmt.Sprintf("secret %s not found", secretName), nil).WithPlugin("azure_key_vault")
	case resp.StatusCode >= 500:
		return nil, plugin.NewTransientError(fmt.Sprintf("key vault returned %d", resp.StatusCode), nil).WithPlugin("azure_key_vault")
	default:
		return nil, plugin.NewFatalError(fmt.Sprintf("key vault returned %d", resp.StatusCode), nil).WithPlugin("azure_key_vault")
	}

	var payload struct {
		Value string `json:"value"`
		ID    string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, plugin.NewFatalError("decoding key vault response", err).WithPlugin("azure_key_vault")
	}

	return map[string]any{
		"value": payload.Value,
		"id":    payload.ID,
	}, nil
}
