package loadbalancer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portablestew/key-commune/internal/credential"
	apperrors "github.com/portablestew/key-commune/internal/errors"
	"github.com/portablestew/key-commune/internal/stats"
)

func TestSelect_EmptyFails(t *testing.T) {
	s := New()
	_, err := s.Select(nil, nil, "")
	assert.ErrorIs(t, err, apperrors.ErrPoolEmpty)
}

func TestSelect_SingleElementReturnsIt(t *testing.T) {
	s := New()
	only := credential.Record{ID: 1, Fingerprint: "fp-1"}
	got, err := s.Select([]credential.Record{only}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, only, got)
}

func TestSelect_PicksFewerThrottles(t *testing.T) {
	s := New()
	available := []credential.Record{
		{ID: 1, Fingerprint: "fp-1"},
		{ID: 2, Fingerprint: "fp-2"},
	}
	statsByID := map[int64]stats.Record{
		1: {CredentialID: 1, ThrottleCount: 5},
		2: {CredentialID: 2, ThrottleCount: 0},
	}

	got, err := s.Select(available, statsByID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestSelect_TieBreaksOnCallCount(t *testing.T) {
	s := New()
	available := []credential.Record{
		{ID: 1, Fingerprint: "fp-1"},
		{ID: 2, Fingerprint: "fp-2"},
	}
	statsByID := map[int64]stats.Record{
		1: {CredentialID: 1, ThrottleCount: 1, CallCount: 10},
		2: {CredentialID: 2, ThrottleCount: 1, CallCount: 3},
	}

	got, err := s.Select(available, statsByID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
}

func TestSelect_PresenterDisplacesOnlyWithStrictlyBetterStats(t *testing.T) {
	s := New()
	available := []credential.Record{
		{ID: 1, Fingerprint: "fp-1"},
		{ID: 2, Fingerprint: "fp-2"},
		{ID: 3, Fingerprint: "presenter"},
	}
	statsByID := map[int64]stats.Record{
		1: {CredentialID: 1, ThrottleCount: 0, CallCount: 0},
		2: {CredentialID: 2, ThrottleCount: 0, CallCount: 0},
		3: {CredentialID: 3, ThrottleCount: 0, CallCount: 0},
	}

	// presenter ties the winner on stats: priority stays with C1/C2.
	got, err := s.Select(available, statsByID, "presenter")
	require.NoError(t, err)
	assert.NotEqual(t, int64(3), got.ID, "presenter never wins a tie")
}

func TestSelect_PresenterWinsWithStrictlyBetterStats(t *testing.T) {
	s := New()
	available := []credential.Record{
		{ID: 1, Fingerprint: "fp-1"},
		{ID: 2, Fingerprint: "fp-2"},
		{ID: 3, Fingerprint: "presenter"},
	}
	statsByID := map[int64]stats.Record{
		1: {CredentialID: 1, ThrottleCount: 5},
		2: {CredentialID: 2, ThrottleCount: 5},
		3: {CredentialID: 3, ThrottleCount: 0},
	}

	got, err := s.Select(available, statsByID, "presenter")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
}

func TestSelect_MissingStatsDefaultToZero(t *testing.T) {
	s := New()
	available := []credential.Record{
		{ID: 1, Fingerprint: "fp-1"},
		{ID: 2, Fingerprint: "fp-2"},
	}

	got, err := s.Select(available, map[int64]stats.Record{}, "")
	require.NoError(t, err)
	assert.Contains(t, []int64{1, 2}, got.ID)
}

func TestSelect_CounterAdvancesByTwoPerCall(t *testing.T) {
	s := New()
	available := make([]credential.Record, 6)
	for i := range available {
		available[i] = credential.Record{ID: int64(i), Fingerprint: "fp"}
	}

	seen := map[int64]bool{}
	for i := 0; i < 6; i++ {
		got, err := s.Select(available, nil, "")
		require.NoError(t, err)
		seen[got.ID] = true
	}
	// Ties always go to C1, at positions 0, 2, 4, 0, 2, 4.
	assert.Equal(t, map[int64]bool{0: true, 2: true, 4: true}, seen)
}
