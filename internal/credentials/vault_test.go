package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/logger"
)

func testVaultConfig(t *testing.T) config.CredentialsConfig {
	t.Helper()
	t.Setenv("IDENTRA_TEST_VAULT_KEY", "correct horse battery staple")
	return config.CredentialsConfig{
		VaultPath:    filepath.Join(t.TempDir(), "credentials.vault"),
		MasterKeyEnv: "IDENTRA_TEST_VAULT_KEY",
	}
}

func testVaultLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func TestVaultRoundTrip(t *testing.T) {
	cfg := testVaultConfig(t)
	log := testVaultLogger(t)

	v, err := Open(cfg, log)
	require.NoError(t, err)

	v.Set("okta.api_token", "sekret-token")
	v.Set("aws.access_key", "AKIAEXAMPLE")
	require.NoError(t, v.Save())

	reopened, err := Open(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "sekret-token", reopened.Get("okta.api_token"))
	assert.Equal(t, "AKIAEXAMPLE", reopened.Get("aws.access_key"))
}

func TestVaultMissingPassphrase(t *testing.T) {
	cfg := testVaultConfig(t)
	cfg.MasterKeyEnv = "IDENTRA_TEST_VAULT_KEY_UNSET"

	_, err := Open(cfg, testVaultLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDENTRA_TEST_VAULT_KEY_UNSET")
}

func TestVaultWrongPassphrase(t *testing.T) {
	cfg := testVaultConfig(t)
	log := testVaultLogger(t)

	v, err := Open(cfg, log)
	require.NoError(t, err)
	v.Set("okta.api_token", "sekret-token")
	require.NoError(t, v.Save())

	t.Setenv("IDENTRA_TEST_VAULT_KEY", "wrong passphrase")
	_, err = Open(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestVaultGetProvider(t *testing.T) {
	cfg := testVaultConfig(t)
	v, err := Open(cfg, testVaultLogger(t))
	require.NoError(t, err)

	v.Set("azure.tenant_id", "tenant-1")
	v.Set("azure.client_id", "client-1")
	v.Set("okta.api_token", "tok")

	creds := v.GetProvider("azure")
	assert.Equal(t, map[string]string{
		"tenant_id": "tenant-1",
		"client_id": "client-1",
	}, creds)
	assert.Empty(t, v.GetProvider("gitlab"))
}

func TestVaultSetEmptyDeletes(t *testing.T) {
	cfg := testVaultConfig(t)
	v, err := Open(cfg, testVaultLogger(t))
	require.NoError(t, err)

	v.Set("github.token", "ghp_abc")
	v.Set("github.token", "")
	assert.Empty(t, v.Get("github.token"))
	assert.Empty(t, v.Keys())
}

func TestVaultApplyToProviders(t *testing.T) {
	cfg := testVaultConfig(t)
	v, err := Open(cfg, testVaultLogger(t))
	require.NoError(t, err)

	v.Set("okta.api_token", "vault-token")
	v.Set("okta.domain", "acme.okta.com")
	v.Set("gitlab.token", "vault-gl")

	providers := config.DefaultConfig().Providers
	providers.GitLab.Token = "config-wins"

	v.ApplyToProviders(&providers)
	assert.Equal(t, "vault-token", providers.Okta.APIToken)
	assert.Equal(t, "acme.okta.com", providers.Okta.Domain)
	assert.Equal(t, "config-wins", providers.GitLab.Token)
}

func TestVaultFileIsEncrypted(t *testing.T) {
	cfg := testVaultConfig(t)
	v, err := Open(cfg, testVaultLogger(t))
	require.NoError(t, err)

	v.Set("okta.api_token", "sekret-token")
	require.NoError(t, v.Save())

	raw, err := os.ReadFile(cfg.VaultPath)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sekret-token")
}
