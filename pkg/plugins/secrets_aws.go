package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/automaxhq/automax/pkg/plugin"
)

// secretsManagerAPI is the slice of the Secrets Manager client the plugin
// uses.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager reads a secret from AWS Secrets Manager.
type AWSSecretsManager struct {
	client secretsManagerAPI
}

// NewAWSSecretsManager creates the plugin. A nil client builds one per call
// from the default AWS credential chain and the region param.
func NewAWSSecretsManager(client secretsManagerAPI) *AWSSecretsManager {
	return &AWSSecretsManager{client: client}
}

// Metadata implements plugin.Plugin.
func (p *AWSSecretsManager) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:        "aws_secrets_manager",
		Description: "Read a secret from AWS Secrets Manager",
		Required:    []string{"secret_id"},
		Optional: []string{
			"region", "access_key_id", "secret_access_key", "version_stage", "key",
		},
		DefaultTimeout: 30 * time.Second,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *AWSSecretsManager) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	if _, err := plugin.StringParam("aws_secrets_manager", params, "secret_id"); err != nil {
		return err
	}
	accessKey, err := plugin.OptionalString("aws_secrets_manager", params, "access_key_id", "")
	if err != nil {
		return err
	}
	secretKey, err := plugin.OptionalString("aws_secrets_manager", params, "secret_access_key", "")
	if err != nil {
		return err
	}
	if (accessKey == "") != (secretKey == "") {
		return plugin.NewConfigError("aws_secrets_manager", "access_key_id",
			"access_key_id and secret_access_key must be set together")
	}
	return nil
}

// Execute implements plugin.Plugin.
func (p *AWSSecretsManager) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	secretID, err := plugin.StringParam("aws_secrets_manager", params, "secret_id")
	if err != nil {
		return nil, err
	}
	region, err := plugin.OptionalString("aws_secrets_manager", params, "region", "us-east-1")
	if err != nil {
		return nil, err
	}
	versionStage, err := plugin.OptionalString("aws_secrets_manager", params, "version_stage", "AWSCURRENT")
	if err != nil {
		return nil, err
	}
	key, err := plugin.OptionalString("aws_secrets_manager", params, "key", "")
	if err != nil {
		return nil, err
	}

	client := p.client
	if client == nil {
		client, err = p.buildClient(ctx, params, region)
		if err != nil {
			return nil, err
		}
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretID),
		VersionStage: aws.String(versionStage),
	})
	if err != nil {
		return nil, classifyAWSError(secretID, err)
	}

	secretString := aws.ToString(out.SecretString)
	if secretString == "" && len(out.SecretBinary) > 0 {
		secretString = string(out.SecretBinary)
	}

	var data map[string]any
	if json.Unmarshal([]byte(secretString), &data) == nil && data != nil {
		if key != "" {
			value, ok := data[key]
			if !ok {
				return nil, plugin.NewFatalError(fmt.Sprintf("key %q not present in secret", key), nil).WithPlugin("aws_secrets_manager")
			}
			return map[string]any{"value": value}, nil
		}
		return map[string]any{"data": data}, nil
	}
	if key != "" {
		return nil, plugin.NewFatalError("secret is not a JSON object, key lookup impossible", nil).WithPlugin("aws_secrets_manager")
	}
	return map[string]any{"value": secretString}, nil
}

func (p *AWSSecretsManager) buildClient(ctx context.Context, params map[string]any, region string) (secretsManagerAPI, error) {
	accessKey, err := plugin.OptionalString("aws_secrets_manager", params, "access_key_id", "")
	if err != nil {
		return nil, err
	}
	secretKey, err := plugin.OptionalString("aws_secrets_manager", params, "secret_access_key", "")
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, plugin.NewFatalError("loading aws configuration", err).WithPlugin("aws_secrets_manager")
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// classifyAWSError maps API failures onto execution error classes. Missing
// secrets and credential problems are deterministic; the rest is worth a
// retry.
func classifyAWSError(secretID string, err error) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return plugin.NewFatalError(fmt.Sprintf("secret %s not found", secretID), err).WithPlugin("aws_secrets_manager")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException":
			return plugin.NewFatalError("access denied", err).WithPlugin("aws_secrets_manager")
		}
	}
	return plugin.NewTransientError("reading secret", err).WithPlugin("aws_secrets_manager")
}
