package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretManager retrieves sensitive values (auth password, XSIAM API
// credentials) from a backing store.
type SecretManager interface {
	GetSecret(key string) (string, error)
	GetAuthPassword() (string, error)
	GetXSIAMAPIKey() (string, error)
	GetXSIAMAPIKeyID() (string, error)
}

// EnvSecretManager uses environment variables (default).
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "XMIGRATE_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

func (e *EnvSecretManager) GetAuthPassword() (string, error) {
	return e.GetSecret("AUTH_PASSWORD")
}

func (e *EnvSecretManager) GetXSIAMAPIKey() (string, error) {
	return e.GetSecret("XSIAM_API_KEY")
}

func (e *EnvSecretManager) GetXSIAMAPIKeyID() (string, error) {
	return e.GetSecret("XSIAM_API_KEY_ID")
}

// VaultSecretManager retrieves secrets from HashiCorp Vault.
type VaultSecretManager struct {
	config *Config
	client *api.Client
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else {
		// Try to get token from environment
		token := os.Getenv("VAULT_TOKEN")
		if token != "" {
			client.SetToken(token)
		}
	}

	return &VaultSecretManager{config: config, client: client}, nil
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	path := v.config.Secrets.Vault.Path
	if path == "" {
		path = "secret/xmigrate"
	}

	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return "", fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("secret not found at path %s", path)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

func (v *VaultSecretManager) GetAuthPassword() (string, error) {
	return v.GetSecret("auth_password")
}

func (v *VaultSecretManager) GetXSIAMAPIKey() (string, error) {
	return v.GetSecret("xsiam_api_key")
}

func (v *VaultSecretManager) GetXSIAMAPIKeyID() (string, error) {
	return v.GetSecret("xsiam_api_key_id")
}

// AWSSecretManager retrieves secrets from AWS Secrets Manager.
type AWSSecretManager struct {
	config *Config
	client *secretsmanager.SecretsManager
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	var sess *session.Session
	var err error

	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		sess, err = session.NewSession(&aws.Config{
			Region: aws.String(config.Secrets.AWS.Region),
			Credentials: credentials.NewStaticCredentials(
				config.Secrets.AWS.AccessKey,
				config.Secrets.AWS.SecretKey,
				"",
			),
		})
	} else {
		sess, err = session.NewSession(&aws.Config{
			Region: aws.String(config.Secrets.AWS.Region),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &AWSSecretManager{config: config, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	secretID := a.config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "xmigrate/secrets"
	}

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	}
	result, err := a.client.GetSecretValue(input)
	if err != nil {
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return "", fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}

	value, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

func (a *AWSSecretManager) GetAuthPassword() (string, error) {
	return a.GetSecret("auth_password")
}

func (a *AWSSecretManager) GetXSIAMAPIKey() (string, error) {
	return a.GetSecret("xsiam_api_key")
}

func (a *AWSSecretManager) GetXSIAMAPIKeyID() (string, error) {
	return a.GetSecret("xsiam_api_key_id")
}

// NewSecretManager creates the secret manager named by the configuration.
func NewSecretManager(config *Config) (SecretManager, error) {
	provider := config.Secrets.Provider
	if provider == "" {
		provider = "env"
	}

	switch provider {
	case "env":
		return &EnvSecretManager{}, nil
	case "vault":
		return NewVaultSecretManager(config)
	case "aws":
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", provider)
	}
}

// LoadSecrets overlays secret values onto the config. Each secret is
// optional: a value already present in the config wins, and a missing
// secret only fails the load when the feature that needs it is enabled.
func LoadSecrets(config *Config) error {
	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}

	if config.Auth.Enabled && config.Auth.Password == "" && config.Auth.HashedPassword == "" {
		password, err := manager.GetAuthPassword()
		if err != nil {
			return fmt.Errorf("failed to load auth password: %w", err)
		}
		config.Auth.Password = password
	}

	if config.XSIAM.FQDN != "" && config.XSIAM.APIKey == "" {
		apiKey, err := manager.GetXSIAMAPIKey()
		if err != nil {
			return fmt.Errorf("failed to load XSIAM API key: %w", err)
		}
		config.XSIAM.APIKey = apiKey

		keyID, err := manager.GetXSIAMAPIKeyID()
		if err != nil {
			return fmt.Errorf("failed to load XSIAM API key ID: %w", err)
		}
		config.XSIAM.APIKeyID = keyID
	}

	return nil
}
