package config

import (
	"context"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   // Enable Vault integration
	Address    string // Vault server address (e.g., "https://vault.example.com:8200")
	Token      string // Vault authentication token
	MountPath  string // Secrets mount path (default: "secret")
	SecretPath string // Path holding the agent secrets (default: "solfunk")
	Namespace  string // Vault namespace (Vault Enterprise)
}

// GetVaultConfigFromEnv creates VaultConfig from environment variables
func GetVaultConfigFromEnv() VaultConfig {
	if os.Getenv("VAULT_ENABLED") != "true" {
		return VaultConfig{Enabled: false}
	}

	return VaultConfig{
		Enabled:    true,
		Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "solfunk"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

// VaultClient wraps the HashiCorp Vault client for secret reads
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a Vault client using token authentication
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if cfg.Token == "" {
		return nil, fmt.Errorf("VAULT_TOKEN not set")
	}
	client.SetToken(cfg.Token)

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecrets reads the agent secret bundle from Vault (KV v2 layout, with a
// KV v1 fallback).
func (vc *VaultClient) GetSecrets(ctx context.Context) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s", vc.config.MountPath, vc.config.SecretPath)

	log.Debug().Str("path", fullPath).Msg("Reading secrets from Vault")

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("no secrets at path: %s", fullPath)
	}

	// KV v2 nests the payload under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// ApplyVaultOverrides opportunistically replaces sensitive values in the key
// store with the values stored in Vault. A disabled or unreachable Vault
// leaves the environment-sourced values in place.
func ApplyVaultOverrides(ks *KeyStore) error {
	vaultCfg := GetVaultConfigFromEnv()
	if !vaultCfg.Enabled {
		log.Debug().Msg("Vault integration disabled, using environment secrets")
		return nil
	}

	client, err := NewVaultClient(vaultCfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secrets, err := client.GetSecrets(ctx)
	if err != nil {
		return err
	}

	overridden := 0
	for name := range sensitiveEnvVars {
		if value, ok := secrets[name].(string); ok && value != "" {
			ks.Set(name, value)
			overridden++
		}
	}

	log.Info().Int("overridden", overridden).Msg("Applied Vault secret overrides")
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
