package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

const (
	// SecretKeyEnvVar is the environment variable holding the AES key used
	// to encrypt secret values inside persisted records.
	SecretKeyEnvVar = "CONVERGENT_SECRET_KEY"

	secretEnvelopeKey = "$secret"
	secretAlgorithm   = "aes256gcm"
)

// Secret marks a string as sensitive. Secrets are encrypted before a record
// is persisted and decrypted in memory before being handed to a handler.
// Printing or JSON-marshalling a Secret yields a redacted placeholder.
type Secret struct {
	plaintext string
}

// NewSecret wraps a sensitive string.
func NewSecret(v string) Secret {
	return Secret{plaintext: v}
}

// Reveal returns the plaintext. Handlers call this explicitly when the
// remote API needs the real value.
func (s Secret) Reveal() string { return s.plaintext }

func (s Secret) String() string { return "(secret)" }

// MarshalJSON redacts the value so a Secret can never leak through logging
// or an accidental marshal of an unencrypted record.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"(secret)"`), nil
}

// SecretCodec encrypts and decrypts Secret values embedded in record inputs
// and outputs. The serialized form is an envelope map:
//
//	{"$secret": {"alg": "aes256gcm", "data": "<base64 nonce+ciphertext>"}}
type SecretCodec struct {
	key []byte
}

// NewSecretCodec builds a codec from a raw key. The key is padded or
// truncated to the 32 bytes AES-256 requires. An empty key yields a codec
// that rejects secret values.
func NewSecretCodec(key string) *SecretCodec {
	if key == "" {
		return &SecretCodec{}
	}
	k := make([]byte, 32)
	copy(k, key)
	return &SecretCodec{key: k}
}

// CodecFromEnv builds a codec from SecretKeyEnvVar.
func CodecFromEnv() *SecretCodec {
	return NewSecretCodec(os.Getenv(SecretKeyEnvVar))
}

// HasKey reports whether the codec can encrypt and decrypt.
func (c *SecretCodec) HasKey() bool { return len(c.key) > 0 }

// Encrypt walks v and replaces every Secret with its ciphertext envelope.
// When prior holds an envelope at the same position whose plaintext equals
// the new value, the prior envelope is reused so that an unchanged secret
// keeps a stable ciphertext identity across runs. Diffing compares that
// ciphertext, never the plaintext.
func (c *SecretCodec) Encrypt(v map[string]any, prior map[string]any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := c.encryptValue(v, prior)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (c *SecretCodec) encryptValue(v any, prior any) (any, error) {
	switch val := v.(type) {
	case Secret:
		if env, ok := priorEnvelope(prior); ok {
			if prev, err := c.open(env); err == nil && prev == val.Reveal() {
				return map[string]any{secretEnvelopeKey: env}, nil
			}
		}
		data, err := c.seal(val.Reveal())
		if err != nil {
			return nil, err
		}
		return map[string]any{secretEnvelopeKey: map[string]any{
			"alg":  secretAlgorithm,
			"data": data,
		}}, nil
	case map[string]any:
		priorMap, _ := prior.(map[string]any)
		out := make(map[string]any, len(val))
		for k, inner := range val {
			enc, err := c.encryptValue(inner, priorMap[k])
			if err != nil {
				return nil, fmt.Errorf("secret %q: %w", k, err)
			}
			out[k] = enc
		}
		return out, nil
	case []any:
		priorSlice, _ := prior.([]any)
		out := make([]any, len(val))
		for i, inner := range val {
			var p any
			if i < len(priorSlice) {
				p = priorSlice[i]
			}
			enc, err := c.encryptValue(inner, p)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	default:
		return val, nil
	}
}

// Decrypt walks v and replaces every ciphertext envelope with a Secret.
func (c *SecretCodec) Decrypt(v map[string]any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := c.decryptValue(v)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (c *SecretCodec) decryptValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if env, ok := priorEnvelope(val); ok {
			plain, err := c.open(env)
			if err != nil {
				return nil, err
			}
			return NewSecret(plain), nil
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			dec, err := c.decryptValue(inner)
			if err != nil {
				return nil, fmt.Errorf("secret %q: %w", k, err)
			}
			out[k] = dec
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			dec, err := c.decryptValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	default:
		return val, nil
	}
}

// priorEnvelope extracts the inner envelope map if v is a serialized secret.
func priorEnvelope(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, false
	}
	inner, ok := m[secretEnvelopeKey].(map[string]any)
	if !ok {
		return nil, false
	}
	if alg, _ := inner["alg"].(string); alg != secretAlgorithm {
		return nil, false
	}
	if _, ok := inner["data"].(string); !ok {
		return nil, false
	}
	return inner, true
}

func (c *SecretCodec) seal(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (c *SecretCodec) open(env map[string]any) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(env["data"].(string))
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("secret ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret (wrong key?): %w", err)
	}
	return string(plain), nil
}

func (c *SecretCodec) gcm() (cipher.AEAD, error) {
	if !c.HasKey() {
		return nil, fmt.Errorf("secret value present but %s is not set", SecretKeyEnvVar)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
