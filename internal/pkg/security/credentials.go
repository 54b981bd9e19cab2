package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/consultahub/consultahub/internal/pkg/env"
)

const sealedPrefix = "enc:v1:"

var errNoKey = errors.New("CREDENTIALS_KEY is not configured")

// SealCredentials encrypts a credential map with AES-256-GCM for storage.
// The output is self-describing ("enc:v1:" + base64(nonce||ciphertext)).
func SealCredentials(creds map[string]string) (string, error) {
	key, err := encryptionKey()
	if err != nil {
		return "", err
	}
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenCredentials decodes a stored credential blob. Sealed blobs are
// decrypted; anything else is treated as a plain JSON map so sandbox
// setups without a key keep working.
func OpenCredentials(stored string) (map[string]string, error) {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return map[string]string{}, nil
	}
	if !strings.HasPrefix(stored, sealedPrefix) {
		m := map[string]string{}
		if err := json.Unmarshal([]byte(stored), &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	key, err := encryptionKey()
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("sealed credentials too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return nil, err
	}

	m := map[string]string{}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// encryptionKey derives a 32-byte key from the configured secret.
func encryptionKey() ([]byte, error) {
	secret := env.GetEnv("CREDENTIALS_KEY", "")
	if secret == "" {
		return nil, errNoKey
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}
