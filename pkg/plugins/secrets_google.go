package plugins

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"
)

const googleSecretManagerEndpoint = "https://secretmanager.googleapis.com"

// GoogleSecretManager reads a secret version from Google Secret Manager over
// its REST API.
type GoogleSecretManager struct {
	client *http.Client
}

// NewGoogleSecretManager creates the plugin. A nil client uses
// http.DefaultClient.
func NewGoogleSecretManager(client *http.Client) *GoogleSecretManager {
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleSecretManager{client: client}
}

// Metadata implements plugin.Plugin.
func (p *GoogleSecretManager) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "google_secret_manager",
		Description:    "Read a secret from Google Secret Manager",
		Required:       []string{"secret_id"},
		Optional:       []string{"project_id", "version", "token", "endpoint"},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *GoogleSecretManager) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	_, err := plugin.StringParam("google_secret_manager", params, "secret_id")
	return err
}

// Execute implements plugin.Plugin.
func (p *GoogleSecretManager) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	secretID, err := plugin.StringParam("google_secret_manager", params, "secret_id")
	if err != nil {
		return nil, err
	}
	projectID, err := plugin.OptionalString("google_secret_manager", params, "project_id", os.Getenv("GOOGLE_CLOUD_PROJECT"))
	if err != nil {
		return nil, err
	}
	version, err := plugin.OptionalString("google_secret_manager", params, "version", "latest")
	if err != nil {
		return nil, err
	}
	token, err := plugin.OptionalString("google_secret_manager", params, "token", os.Getenv("GOOGLE_OAUTH_ACCESS_TOKEN"))
	if err != nil {
		return nil, err
	}
	endpoint, err := plugin.OptionalString("google_secret_manager", params, "endpoint", googleSecretManagerEndpoint)
	if err != nil {
		return nil, err
	}
	if projectID == "" {
		return nil, plugin.NewConfigError("google_secret_manager", "project_id",
			"no project_id given and GOOGLE_CLOUD_PROJECT is unset")
	}
	if token == "" {
		return nil, plugin.NewConfigError("google_secret_manager", "token",
			"no token given and GOOGLE_OAUTH_ACCESS_TOKEN is unset")
	}

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretID, version)
	url := fmt.Sprintf("%s/v1/%s:access", strings.TrimSuffix(endpoint, "/"), name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, plugin.NewConfigError("google_secret_manager", "endpoint", err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, plugin.NewTransientError("contacting secret manager", err).WithPlugin("google_secret_manager")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, plugin.NewTransientError("reading secret manager response", err).WithPlugin("google_secret_manager")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, plugin.NewFatalError("secret manager denied access", nil).WithPlugin("google_secret_manager")
	case resp.StatusCode == http.StatusNotFound:
		return nil, plugin.NewFatalError(fmt.Sprintf("secret version %s not found", name), nil).WithPlugin("google_secret_manager")
	case resp.StatusCode >= 500:
		return nil, plugin.NewTransientError(fmt.Sprintf("secret manager returned %d", resp.StatusCode), nil).WithPlugin("google_secret_manager")
	default:
		return nil, plugin.NewFatalError(fmt.Sprintf("secret manager returned %d", resp.StatusCode), nil).WithPlugin("google_secret_manager")
	}

	var payload struct {
		Name    string `json:"name"`
		Payload struct {
			Data string `json:"data"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, plugin.NewFatalError("decoding secret manager response", err).WithPlugin("google_secret_manager")
	}

	data, err := base64.StdEncoding.DecodeString(payload.Payload.Data)
	if err != nil {
		return nil, plugin.NewFatalError("decoding secret payload", err).WithPlugin("google_secret_manager")
	}

	return map[string]any{
		"value": string(data),
		"name":  payload.Name,
	}, nil
}
