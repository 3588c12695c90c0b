// Package loadbalancer implements the stateless power-of-two-choices
// selector that picks a pool credential for an outbound request.
package loadbalancer

import (
	"sync/atomic"

	"github.com/portablestew/key-commune/internal/credential"
	apperrors "github.com/portablestew/key-commune/internal/errors"
	"github.com/portablestew/key-commune/internal/stats"
)

// Selector picks a credential from a hot cache snapshot using power-of-two
// choices, with a deliberate tie bias toward non-presenter keys (§4.5).
type Selector struct {
	counter atomic.Uint64
}

// New constructs a Selector. Its internal round-robin counter starts at zero.
func New() *Selector {
	return &Selector{}
}

func statsFor(id int64, byID map[int64]stats.Record) stats.Record {
	if rec, ok := byID[id]; ok {
		return rec
	}
	return stats.Record{CredentialID: id}
}

// better reports whether a is a strictly better selection than b: fewer
// throttles wins; on tie, fewer calls wins; on tie, a loses (callers decide
// the tie-break order by call site).
func better(a, b stats.Record) bool {
	if a.ThrottleCount != b.ThrottleCount {
		return a.ThrottleCount < b.ThrottleCount
	}
	return a.CallCount < b.CallCount
}

// Select picks a credential from available using two candidate positions
// drawn from an advancing counter, comparing their statistics, then gives
// the presenter's own record (if present in available) a chance to displace
// the winner by having strictly better stats. Priority on ties is
// C1 > C2 > presenter.
func (s *Selector) Select(available []credential.Record, statsByID map[int64]stats.Record, presenterFingerprint string) (credential.Record, error) {
	n := len(available)
	if n == 0 {
		return credential.Record{}, apperrors.ErrPoolEmpty
	}
	if n == 1 {
		return available[0], nil
	}

	idx := s.counter.Add(2) - 2
	i1 := int(idx) % n
	i2 := int(idx+1) % n

	c1, c2 := available[i1], available[i2]
	winner := c1
	if better(statsFor(c2.ID, statsByID), statsFor(c1.ID, statsByID)) {
		winner = c2
	}

	if presenterFingerprint != "" {
		for _, c := range available {
			if c.Fingerprint != presenterFingerprint {
				continue
			}
			if better(statsFor(c.ID, statsByID), statsFor(winner.ID, statsByID)) {
				winner = c
			}
			break
		}
	}

	return winner, nil
}
