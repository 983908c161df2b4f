package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

// Sensitive key names held by the KeyStore.
const (
	SecretWalletKey     = "wallet_private_key"
	SecretTelegramToken = "telegram_bot_token"
	SecretBirdeyeKey    = "birdeye_api_key"
	SecretLLMKey        = "llm_api_key"
)

var sensitiveEnvVars = map[string]string{
	SecretWalletKey:     "SOLFUNK_WALLET_PRIVATE_KEY",
	SecretTelegramToken: "SOLFUNK_TELEGRAM_BOT_TOKEN",
	SecretBirdeyeKey:    "SOLFUNK_BIRDEYE_API_KEY",
	SecretLLMKey:        "SOLFUNK_LLM_API_KEY",
}

// Placeholder values that must never pass as real secrets
var secretPlaceholders = []string{
	"changeme", "your_api_key", "your_secret", "example", "sample", "demo", "default",
}

// KeyStore holds sensitive values in one place. Values are stored as byte
// slices so Scrub can zero them; every read goes through GetSensitive with a
// calling context so access is auditable.
type KeyStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	scrubbed bool
}

// NewKeyStore returns an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{values: make(map[string][]byte)}
}

// LoadKeyStore builds a key store from the process environment and then
// applies Vault overrides when a Vault server is reachable. A missing or
// failing Vault is a warning, never a startup failure.
func LoadKeyStore() *KeyStore {
	ks := NewKeyStore()
	for name, envVar := range sensitiveEnvVars {
		if value := os.Getenv(envVar); value != "" {
			ks.Set(name, value)
		}
	}

	if err := ApplyVaultOverrides(ks); err != nil {
		log.Warn().Err(err).Msg("Vault secret override failed, continuing with environment values")
	}

	return ks
}

// Set stores a sensitive value. Placeholder values are rejected with a
// warning and not stored.
func (ks *KeyStore) Set(name, value string) {
	lower := strings.ToLower(strings.TrimSpace(value))
	for _, placeholder := range secretPlaceholders {
		if lower == placeholder {
			log.Warn().Str("key", name).Msg("Refusing to store placeholder secret value")
			return
		}
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.scrubbed {
		return
	}
	ks.values[name] = []byte(value)
}

// Has reports whether a sensitive value is present.
func (ks *KeyStore) Has(name string) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.values[name]
	return ok
}

// GetSensitive returns a sensitive value. callingContext names the consumer
// and is logged with every access.
func (ks *KeyStore) GetSensitive(name, callingContext string) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.scrubbed {
		return "", errs.Configf("key store already scrubbed (requested %q from %q)", name, callingContext)
	}

	value, ok := ks.values[name]
	if !ok {
		return "", errs.Configf("sensitive value %q not configured (requested from %q)", name, callingContext)
	}

	log.Debug().
		Str("key", name).
		Str("context", callingContext).
		Msg("Sensitive value accessed")

	return string(value), nil
}

// SigningKey decodes the wallet private key into a usable ed25519 key.
func (ks *KeyStore) SigningKey(callingContext string) (solana.PrivateKey, error) {
	raw, err := ks.GetSensitive(SecretWalletKey, callingContext)
	if err != nil {
		return nil, err
	}
	return DecodeSigningKey(raw)
}

// Scrub zeroes all stored secrets. Called on shutdown signals and fatal
// exits; the store is unusable afterwards.
func (ks *KeyStore) Scrub() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.scrubbed {
		return
	}
	for name, value := range ks.values {
		for i := range value {
			value[i] = 0
		}
		delete(ks.values, name)
	}
	ks.scrubbed = true

	log.Info().Msg("Key store scrubbed")
}

// DecodeSigningKey accepts a signing key in any of four encodings, tried in
// a fixed order: base58, base64, JSON numeric array, comma-separated decimal
// bytes. A decode only counts as successful when it yields exactly 32 bytes
// (a seed, expanded to the full key) or 64 bytes (the expanded secret).
func DecodeSigningKey(input string) (solana.PrivateKey, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, errs.Configf("empty signing key")
	}

	decoders := []struct {
		name   string
		decode func(string) ([]byte, error)
	}{
		{"base58", base58.Decode},
		{"base64", base64.StdEncoding.DecodeString},
		{"json array", decodeJSONByteArray},
		{"csv decimal", decodeCSVBytes},
	}

	for _, dec := range decoders {
		buf, err := dec.decode(trimmed)
		if err != nil || (len(buf) != 32 && len(buf) != 64) {
			continue
		}
		if len(buf) == 32 {
			expanded := ed25519.NewKeyFromSeed(buf)
			log.Debug().Str("format", dec.name).Msg("Signing key decoded from 32-byte seed")
			return solana.PrivateKey(expanded), nil
		}
		log.Debug().Str("format", dec.name).Msg("Signing key decoded from 64-byte secret")
		return solana.PrivateKey(buf), nil
	}

	return nil, errs.Configf("signing key is not a 32 or 64 byte value in base58, base64, JSON array or csv form")
}

func decodeJSONByteArray(s string) ([]byte, error) {
	var nums []int
	if err := json.Unmarshal([]byte(s), &nums); err != nil {
		return nil, err
	}
	return intsToBytes(nums)
}

func decodeCSVBytes(s string) ([]byte, error) {
	parts := strings.Split(s, ",")
	nums := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return intsToBytes(nums)
}

func intsToBytes(nums []int) ([]byte, error) {
	buf := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("byte value out of range: %d", n)
		}
		buf[i] = byte(n)
	}
	return buf, nil
}
