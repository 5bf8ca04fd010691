package plugins

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/automaxhq/automax/pkg/plugin"
)

type fakeSecretsManager struct {
	out       *secretsmanager.GetSecretValueOutput
	err       error
	lastInput *secretsmanager.GetSecretValueInput
}

func (f *fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.lastInput = in
	return f.out, f.err
}

func TestAWSSecretsManagerJSONSecret(t *testing.T) {
	fake := &fakeSecretsManager{
		out: &secretsmanager.GetSecretValueOutput{
			SecretString: aws.String(`{"user":"ops","password":"hunter2"}`),
		},
	}
	p := NewAWSSecretsManager(fake)

	result, err := p.Execute(context.Background(), map[string]any{
		"secret_id": "prod/db",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, ok := result["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data map, got %T", result["data"])
	}
	if data["password"] != "hunter2" {
		t.Errorf("password: %v", data["password"])
	}
	if got := aws.ToString(fake.lastInput.SecretId); got != "prod/db" {
		t.Errorf("secret id sent: %q", got)
	}
	if got := aws.ToString(fake.lastInput.VersionStage); got != "AWSCURRENT" {
		t.Errorf("version stage sent: %q", got)
	}
}

func TestAWSSecretsManagerKeyLookup(t *testing.T) {
	fake := &fakeSecretsManager{
		out: &secretsmanager.GetSecretValueOutput{
			SecretString: aws.String(`{"token":"abc"}`),
		},
	}
	p := NewAWSSecretsManager(fake)

	result, err := p.Execute(context.Background(), map[string]any{
		"secret_id": "prod/api",
		"key":       "token",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["value"] != "abc" {
		t.Errorf("value: %v", result["value"])
	}

	_, err = p.Execute(context.Background(), map[string]any{
		"secret_id": "prod/api",
		"key":       "absent",
	})
	if !plugin.IsFatal(err) {
		t.Fatalf("expected fatal error for missing key, got %v", err)
	}
}

func TestAWSSecretsManagerPlainSecret(t *testing.T) {
	fake := &fakeSecretsManager{
		out: &secretsmanager.GetSecretValueOutput{
			SecretString: aws.String("not-json"),
		},
	}
	p := NewAWSSecretsManager(fake)

	result, err := p.Execute(context.Background(), map[string]any{
		"secret_id": "prod/raw",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["value"] != "not-json" {
		t.Errorf("value: %v", result["value"])
	}
}

func TestAWSSecretsManagerErrorClassification(t *testing.T) {
	p := NewAWSSecretsManager(&fakeSecretsManager{
		err: &types.ResourceNotFoundException{Message: aws.String("no such secret")},
	})
	_, err := p.Execute(context.Background(), map[string]any{"secret_id": "gone"})
	if !plugin.IsFatal(err) {
		t.Fatalf("expected fatal error for missing secret, got %v", err)
	}

	p = NewAWSSecretsManager(&fakeSecretsManager{
		err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "nope"},
	})
	_, err = p.Execute(context.Background(), map[string]any{"secret_id": "locked"})
	if !plugin.IsFatal(err) {
		t.Fatalf("expected fatal error for denied access, got %v", err)
	}

	p = NewAWSSecretsManager(&fakeSecretsManager{
		err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
	})
	_, err = p.Execute(context.Background(), map[string]any{"secret_id": "busy"})
	if !plugin.IsTransient(err) {
		t.Fatalf("expected transient error for throttling, got %v", err)
	}
}

func TestAWSSecretsManagerValidateConfig(t *testing.T) {
	p := NewAWSSecretsManager(&fakeSecretsManager{})

	if err := p.ValidateConfig(map[string]any{"secret_id": "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := p.ValidateConfig(map[string]any{}); err == nil {
		t.Error("expected error for missing secret_id")
	}
	if err := p.ValidateConfig(map[string]any{
		"secret_id": "x", "access_key_id": "AKIA...",
	}); err == nil {
		t.Error("expected error for access key without secret key")
	}
}

func TestAzureKeyVaultReadsSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/secrets/db-password" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "7.4" {
			t.Errorf("api-version: %s", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization: %s", r.Header.Get("Authorization"))
		}
		fmt.Fprintf(w, `{"value":"s3cret","id":"%s/secrets/db-password/v1"}`, r.Host)
	}))
	defer srv.Close()

	p := NewAzureKeyVault(srv.Client())
	result, err := p.Execute(context.Background(), map[string]any{
		"vault_url":   srv.URL,
		"secret_name": "db-password",
		"token":       "tok",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["value"] != "s3cret" {
		t.Errorf("value: %v", result["value"])
	}
}

func TestAzureKeyVaultErrorClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		p := NewAzureKeyVault(srv.Client())
		_, err := p.Execute(context.Background(), map[string]any{
			"vault_url":   srv.URL,
			"secret_name": "x",
			"token":       "tok",
		})
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if tc.transient && !plugin.IsTransient(err) {
			t.Errorf("status %d: expected transient, got %v", tc.status, err)
		}
		if !tc.transient && !plugin.IsFatal(err) {
			t.Errorf("status %d: expected fatal, got %v", tc.status, err)
		}
	}
}

func TestAzureKeyVaultValidateConfig(t *testing.T) {
	p := NewAzureKeyVault(nil)

	if err := p.ValidateConfig(map[string]any{
		"vault_url": "https://acme.vault.azure.net", "secret_name": "x",
	}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := p.ValidateConfig(map[string]any{
		"vault_url": "not a url", "secret_name": "x",
	}); err == nil {
		t.Error("expected error for invalid vault_url")
	}
	if err := p.ValidateConfig(map[string]any{"vault_url": "https://acme.vault.azure.net"}); err == nil {
		t.Error("expected error for missing secret_name")
	}
}

func TestGoogleSecretManagerReadsSecret(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("hunter2"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/v1/projects/acme/secrets/db-password/versions/latest:access"
		if r.URL.Path != want {
			t.Errorf("path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("authorization: %s", r.Header.Get("Authorization"))
		}
		fmt.Fprintf(w, `{"name":"projects/acme/secrets/db-password/versions/3","payload":{"data":"%s"}}`, payload)
	}))
	defer srv.Close()

	p := NewGoogleSecretManager(srv.Client())
	result, err := p.Execute(context.Background(), map[string]any{
		"secret_id":  "db-password",
		"project_id": "acme",
		"token":      "tok",
		"endpoint":   srv.URL,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["value"] != "hunter2" {
		t.Errorf("value: %v", result["value"])
	}
	if result["name"] != "projects/acme/secrets/db-password/versions/3" {
		t.Errorf("name: %v", result["name"])
	}
}

func TestGoogleSecretManagerNotFoundFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewGoogleSecretManager(srv.Client())
	_, err := p.Execute(context.Background(), map[string]any{
		"secret_id":  "gone",
		"project_id": "acme",
		"token":      "tok",
		"endpoint":   srv.URL,
	})
	if !plugin.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestGoogleSecretManagerRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GOOGLE_OAUTH_ACCESS_TOKEN", "tok")

	p := NewGoogleSecretManager(nil)
	_, err := p.Execute(context.Background(), map[string]any{"secret_id": "x"})

	var cerr *plugin.ConfigError
	if !errors.As(err, &cerr) || cerr.Param != "project_id" {
		t.Fatalf("expected project_id config error, got %v", err)
	}
}
