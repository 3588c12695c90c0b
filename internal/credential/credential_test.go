package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("sk-abc123")
	b := Fingerprint("sk-abc123")
	c := Fingerprint("sk-different")

	assert.Equal(t, a, b, "fingerprint must be stable across calls")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64, "sha-256 hex digest is 64 characters")
}

func TestDisplayForm(t *testing.T) {
	tests := []struct {
		material string
		want     string
	}{
		{"ab", "ab.."},
		{"abcd", "abcd.."},
		{"abcdefgh", "abcd.."},
		{"abcdefghi", "abcd..fghi"},
		{"sk-1234567890abcdef", "sk-1..cdef"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplayForm(tt.material), "material=%q", tt.material)
	}
}

func TestRecord_Blocked(t *testing.T) {
	now := time.Now().UTC()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, Record{BlockDeadline: &future}.Blocked(now))
	assert.False(t, Record{BlockDeadline: &past}.Blocked(now))
	assert.False(t, Record{}.Blocked(now))
}

func TestRecord_IsTransient(t *testing.T) {
	assert.True(t, Record{ID: Transient}.IsTransient())
	assert.False(t, Record{ID: 1}.IsTransient())
}

func TestNewTransient(t *testing.T) {
	rec := NewTransient("sk-abcdefghijklmnop")
	assert.True(t, rec.IsTransient())
	assert.Equal(t, Fingerprint("sk-abcdefghijklmnop"), rec.Fingerprint)
	assert.Equal(t, "sk-a..mnop", rec.Display)
}
