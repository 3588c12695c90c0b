package commands

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portablestew/key-commune/internal/cryptoutil"
)

func TestRunGenerateEncryptionKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunGenerateEncryptionKey(&buf))

	line := strings.TrimSpace(buf.String())
	decoded, err := hex.DecodeString(line)
	require.NoError(t, err)
	assert.Len(t, decoded, cryptoutil.KeySize)
}

func TestRunGenerateEncryptionKey_EachCallDiffers(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, RunGenerateEncryptionKey(&a))
	require.NoError(t, RunGenerateEncryptionKey(&b))
	assert.NotEqual(t, a.String(), b.String())
}
