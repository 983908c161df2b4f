package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/solfunk/internal/errs"
)

func testKeyBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	return buf
}

func encodeJSONArray(t *testing.T, buf []byte) string {
	t.Helper()
	nums := make([]int, len(buf))
	for i, b := range buf {
		nums[i] = int(b)
	}
	out, err := json.Marshal(nums)
	require.NoError(t, err)
	return string(out)
}

func encodeCSV(buf []byte) string {
	parts := make([]string, len(buf))
	for i, b := range buf {
		parts[i] = strconv.Itoa(int(b))
	}
	return strings.Join(parts, ",")
}

func TestDecodeSigningKey_AllFormats64(t *testing.T) {
	secret := testKeyBytes(t, 64)

	encodings := map[string]string{
		"base58":     base58.Encode(secret),
		"base64":     base64.StdEncoding.EncodeToString(secret),
		"json array": encodeJSONArray(t, secret),
		"csv":        encodeCSV(secret),
	}

	for name, encoded := range encodings {
		t.Run(name, func(t *testing.T) {
			key, err := DecodeSigningKey(encoded)
			require.NoError(t, err)
			assert.Equal(t, secret, []byte(key))
		})
	}
}

func TestDecodeSigningKey_SeedExpansion(t *testing.T) {
	seed := testKeyBytes(t, 32)
	want := ed25519.NewKeyFromSeed(seed)

	for name, encoded := range map[string]string{
		"base58": base58.Encode(seed),
		"base64": base64.StdEncoding.EncodeToString(seed),
		"json":   encodeJSONArray(t, seed),
		"csv":    encodeCSV(seed),
	} {
		t.Run(name, func(t *testing.T) {
			key, err := DecodeSigningKey(encoded)
			require.NoError(t, err)
			require.Len(t, []byte(key), 64)
			assert.Equal(t, []byte(want), []byte(key))
			// The seed survives the expansion
			assert.Equal(t, seed, []byte(key)[:32])
		})
	}
}

func TestDecodeSigningKey_Rejections(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"whitespace":       "   ",
		"wrong length b58": base58.Encode(testKeyBytes(t, 33)),
		"wrong length csv": encodeCSV(testKeyBytes(t, 16)),
		"out of range":     "[1,2,300]",
		"garbage":          "not-a-key!!",
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSigningKey(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrConfig)
		})
	}
}

func TestKeyStore_GetSensitive(t *testing.T) {
	ks := NewKeyStore()
	ks.Set(SecretWalletKey, "abc")

	value, err := ks.GetSensitive(SecretWalletKey, "executor")
	require.NoError(t, err)
	assert.Equal(t, "abc", value)

	_, err = ks.GetSensitive(SecretLLMKey, "llm")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestKeyStore_PlaceholderRejected(t *testing.T) {
	ks := NewKeyStore()
	ks.Set(SecretTelegramToken, "changeme")
	assert.False(t, ks.Has(SecretTelegramToken))
}

func TestKeyStore_Scrub(t *testing.T) {
	ks := NewKeyStore()
	ks.Set(SecretWalletKey, "sensitive")
	ks.Scrub()

	_, err := ks.GetSensitive(SecretWalletKey, "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfig)

	// Setting after scrub is a no-op
	ks.Set(SecretWalletKey, "again")
	assert.False(t, ks.Has(SecretWalletKey))

	// Second scrub is harmless
	ks.Scrub()
}

func TestKeyStore_SigningKey(t *testing.T) {
	secret := testKeyBytes(t, 64)
	ks := NewKeyStore()
	ks.Set(SecretWalletKey, base58.Encode(secret))

	key, err := ks.SigningKey("test")
	require.NoError(t, err)
	assert.Equal(t, secret, []byte(key))
}
