package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretManager(t *testing.T) {
	t.Setenv("XMIGRATE_XSIAM_API_KEY", "key-from-env")

	mgr := &EnvSecretManager{}
	value, err := mgr.GetXSIAMAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", value)

	_, err = mgr.GetSecret("DOES_NOT_EXIST")
	assert.Error(t, err)
}

func TestNewSecretManagerProviders(t *testing.T) {
	cfg := &Config{}
	mgr, err := NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, mgr)

	cfg.Secrets.Provider = "env"
	mgr, err = NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, mgr)

	cfg.Secrets.Provider = "gcp"
	_, err = NewSecretManager(cfg)
	assert.Error(t, err)
}

func TestLoadSecretsOverlaysXSIAMCredentials(t *testing.T) {
	t.Setenv("XMIGRATE_XSIAM_API_KEY", "key-from-env")
	t.Setenv("XMIGRATE_XSIAM_API_KEY_ID", "7")

	cfg := &Config{}
	cfg.XSIAM.FQDN = "tenant.xdr.us"
	require.NoError(t, LoadSecrets(cfg))
	assert.Equal(t, "key-from-env", cfg.XSIAM.APIKey)
	assert.Equal(t, "7", cfg.XSIAM.APIKeyID)
}

func TestLoadSecretsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.XSIAM.FQDN = "tenant.xdr.us"
	cfg.XSIAM.APIKey = "explicit"
	cfg.XSIAM.APIKeyID = "1"

	// No env vars needed: the explicit key short-circuits the lookup.
	require.NoError(t, LoadSecrets(cfg))
	assert.Equal(t, "explicit", cfg.XSIAM.APIKey)
}

func TestLoadSecretsAuthPassword(t *testing.T) {
	t.Setenv("XMIGRATE_AUTH_PASSWORD", "from-secret-store")

	cfg := &Config{}
	cfg.Auth.Enabled = true
	require.NoError(t, LoadSecrets(cfg))
	assert.Equal(t, "from-secret-store", cfg.Auth.Password)
}
