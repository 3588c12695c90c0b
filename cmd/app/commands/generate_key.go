package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/portablestew/key-commune/internal/cryptoutil"
)

// RunGenerateEncryptionKey prints a freshly generated, hex-encoded at-rest
// encryption key of cryptoutil.KeySize bytes to w. The operator is expected
// to set it as ENCRYPTION_KEY or let the server persist one itself on first
// startup via ENCRYPTION_KEY_FILE_PATH.
func RunGenerateEncryptionKey(w io.Writer) error {
	key := make([]byte, cryptoutil.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("failed to generate encryption key: %w", err)
	}

	_, err := fmt.Fprintln(w, hex.EncodeToString(key))
	return err
}
