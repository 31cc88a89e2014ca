package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretCodec_RoundTrip(t *testing.T) {
	codec := NewSecretCodec("test-key")

	inputs := map[string]any{
		"user":     "admin",
		"password": NewSecret("hunter2"),
		"nested": map[string]any{
			"token": NewSecret("abc123"),
		},
	}

	enc, err := codec.Encrypt(inputs, nil)
	require.NoError(t, err)

	// The encrypted form is plain JSON and never contains the plaintext.
	raw, err := json.Marshal(enc)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "abc123")
	assert.Contains(t, string(raw), secretAlgorithm)
	assert.Equal(t, "admin", enc["user"])

	dec, err := codec.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", dec["password"].(Secret).Reveal())
	nested := dec["nested"].(map[string]any)
	assert.Equal(t, "abc123", nested["token"].(Secret).Reveal())
}

func TestSecretCodec_StableCiphertextForUnchangedValue(t *testing.T) {
	codec := NewSecretCodec("test-key")

	first, err := codec.Encrypt(map[string]any{"password": NewSecret("hunter2")}, nil)
	require.NoError(t, err)

	// Unchanged plaintext reuses the prior envelope byte for byte.
	second, err := codec.Encrypt(map[string]any{"password": NewSecret("hunter2")}, first)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Changed plaintext gets fresh ciphertext.
	third, err := codec.Encrypt(map[string]any{"password": NewSecret("changed")}, first)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestSecretCodec_NoKey(t *testing.T) {
	codec := NewSecretCodec("")

	// Plain values pass through untouched.
	enc, err := codec.Encrypt(map[string]any{"user": "admin"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "admin", enc["user"])

	// Secret values are rejected without a key.
	_, err = codec.Encrypt(map[string]any{"password": NewSecret("x")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), SecretKeyEnvVar)
}

func TestSecretCodec_WrongKey(t *testing.T) {
	enc, err := NewSecretCodec("key-one").Encrypt(map[string]any{"password": NewSecret("x")}, nil)
	require.NoError(t, err)

	_, err = NewSecretCodec("key-two").Decrypt(enc)
	require.Error(t, err)
}

func TestSecret_Redaction(t *testing.T) {
	s := NewSecret("hunter2")
	assert.Equal(t, "(secret)", s.String())

	raw, err := json.Marshal(map[string]any{"password": s})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
}

func TestSecretCodec_EnvelopeSurvivesJSON(t *testing.T) {
	codec := NewSecretCodec("test-key")

	enc, err := codec.Encrypt(map[string]any{"password": NewSecret("hunter2")}, nil)
	require.NoError(t, err)

	// Persisting and reloading a record round-trips envelopes through JSON.
	raw, err := json.Marshal(enc)
	require.NoError(t, err)
	var reloaded map[string]any
	require.NoError(t, json.Unmarshal(raw, &reloaded))

	dec, err := codec.Decrypt(reloaded)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", dec["password"].(Secret).Reveal())
}
