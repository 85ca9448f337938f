// Package credentials stores provider API secrets in an AES-GCM encrypted
// vault on disk, keyed from a master passphrase.
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/logger"
)

// Vault holds decrypted provider credentials in memory and persists them
// encrypted. Keys are "provider.field", e.g. "okta.api_token".
type Vault struct {
	path   string
	key    []byte
	logger *logger.Logger

	mu      sync.RWMutex
	secrets map[string]string
}

// Open loads the vault at cfg.VaultPath using the passphrase from the
// environment variable named by cfg.MasterKeyEnv. A missing vault file is not
// an error; the vault starts empty and is created on first Save.
func Open(cfg config.CredentialsConfig, log *logger.Logger) (*Vault, error) {
	passphrase := os.Getenv(cfg.MasterKeyEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("vault passphrase not set, export %s", cfg.MasterKeyEnv)
	}

	v := &Vault{
		path:    cfg.VaultPath,
		key:     deriveKey(passphrase),
		logger:  log.WithComponent("credentials"),
		secrets: make(map[string]string),
	}

	if err := v.load(); err != nil {
		if os.IsNotExist(err) {
			v.logger.Infow("No credential vault found, starting empty", "path", cfg.VaultPath)
			return v, nil
		}
		return nil, err
	}

	v.logger.Infow("Credential vault loaded", "path", cfg.VaultPath, "entries", len(v.secrets))
	return v, nil
}

// Get returns one secret, or "" when absent.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.secrets[key]
}

// GetProvider returns every secret stored under "provider.".
func (v *Vault) GetProvider(provider string) map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	prefix := provider + "."
	out := make(map[string]string)
	for key, value := range v.secrets {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = value
		}
	}
	return out
}

// Set stores one secret in memory. Call Save to persist.
func (v *Vault) Set(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if value == "" {
		delete(v.secrets, key)
		return
	}
	v.secrets[key] = value
}

// Keys lists the stored secret names, never the values.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.secrets))
	for key := range v.secrets {
		keys = append(keys, key)
	}
	return keys
}

// Save encrypts and writes the vault to disk.
func (v *Vault) Save() error {
	v.mu.RLock()
	plaintext, err := json.Marshal(v.secrets)
	v.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	encrypted, err := encrypt(plaintext, v.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt vault: %w", err)
	}

	if dir := filepath.Dir(v.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create vault directory: %w", err)
		}
	}
	if err := os.WriteFile(v.path, encrypted, 0o600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}

	v.logger.Debugw("Credential vault saved", "path", v.path)
	return nil
}

func (v *Vault) load() error {
	encrypted, err := os.ReadFile(v.path)
	if err != nil {
		return err
	}

	plaintext, err := decrypt(encrypted, v.key)
	if err != nil {
		return fmt.Errorf("failed to decrypt vault (wrong passphrase?): %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := json.Unmarshal(plaintext, &v.secrets); err != nil {
		return fmt.Errorf("failed to parse vault contents: %w", err)
	}
	return nil
}

// ApplyToProviders overlays vault secrets onto the provider configuration,
// filling only fields the config leaves empty. Config and environment stay
// authoritative over the vault.
func (v *Vault) ApplyToProviders(cfg *config.ProvidersConfig) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			if s := v.Get(key); s != "" {
				*dst = s
			}
		}
	}

	fill(&cfg.Okta.APIToken, "okta.api_token")
	fill(&cfg.Okta.Domain, "okta.domain")
	fill(&cfg.AWS.AccessKey, "aws.access_key")
	fill(&cfg.AWS.SecretKey, "aws.secret_key")
	fill(&cfg.Azure.TenantID, "azure.tenant_id")
	fill(&cfg.Azure.ClientID, "azure.client_id")
	fill(&cfg.Azure.ClientSecret, "azure.client_secret")
	fill(&cfg.GCP.CredentialsFile, "gcp.credentials_file")
	fill(&cfg.GitHub.Token, "github.token")
	fill(&cfg.GitLab.Token, "gitlab.token")
}

func deriveKey(passphrase string) []byte {
	salt := []byte("identra-vault-salt-v1")
	return pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
