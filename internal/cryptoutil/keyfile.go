package cryptoutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// KeySize is the required length, in bytes, of the at-rest encryption key.
const KeySize = 32

// LoadOrGenerateKey resolves the 32-byte encryption key used to seal
// credential material. Resolution order: the envKey value (if non-empty),
// then the contents of keyFilePath (if it exists), else a freshly generated
// key persisted to keyFilePath with mode 0600.
//
// envKey and any value read from keyFilePath are expected to be 64 hex
// characters (32 bytes).
func LoadOrGenerateKey(envKey, keyFilePath string) ([]byte, error) {
	if envKey != "" {
		return decodeHexKey(envKey)
	}

	if raw, err := os.ReadFile(keyFilePath); err == nil {
		return decodeHexKey(string(raw))
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read encryption key file: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	encoded := hex.EncodeToString(key)
	if err := os.WriteFile(keyFilePath, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist generated encryption key: %w", err)
	}

	return key, nil
}

func decodeHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("encryption key must be hex-encoded: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
