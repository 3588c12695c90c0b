// Package lifecycle implements the Credential Lifecycle Manager: the
// upstream-status state machine, presenter rate limiting, auto-enrollment,
// and the subnet-derivation helper used for statistics attribution.
package lifecycle

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/portablestew/key-commune/internal/credential"
	"github.com/portablestew/key-commune/internal/stats"
)

// Action classifies the outcome of HandleResponse.
type Action string

const (
	ActionSuccess Action = "success"
	ActionBlocked Action = "blocked"
	ActionDeleted Action = "deleted"
	ActionProxied Action = "proxied"
)

// Outcome is the structured result of HandleResponse. The caller logs it;
// correctness of the request does not depend on it being inspected.
type Outcome struct {
	Action   Action
	Message  string
	Enrolled *credential.Record // set only when a transient credential was auto-enrolled
}

// Config holds the tunables the state machine needs from the process
// configuration.
type Config struct {
	PresentedKeyRateLimitSeconds int
	AuthFailureBlockMinutes      int
	AuthFailureDeleteThreshold   int
	ThrottleBackoffBaseMinutes   int
	ThrottleDeleteThreshold      int
	MaxPoolSize                  int
}

// Manager applies the credential lifecycle state machine and owns the
// presenter rate-limit guard.
type Manager struct {
	credStore  *credential.Store
	statsStore *stats.Store
	cfg        Config

	rateLimit *expirable.LRU[string, time.Time]
}

// NewManager constructs a Manager. The presenter rate-limit LRU's capacity
// equals the configured max pool size, with a TTL of twice the rate-limit
// interval (§4.4).
func NewManager(credStore *credential.Store, statsStore *stats.Store, cfg Config) *Manager {
	interval := time.Duration(cfg.PresentedKeyRateLimitSeconds) * time.Second
	capacity := cfg.MaxPoolSize
	if capacity <= 0 {
		capacity = 200
	}

	return &Manager{
		credStore:  credStore,
		statsStore: statsStore,
		cfg:        cfg,
		rateLimit:  expirable.NewLRU[string, time.Time](capacity, nil, 2*interval),
	}
}

// CheckPresenterRateLimit reports whether a request from fingerprint may be
// admitted now. If denied, waitSeconds is how long the caller should wait.
func (m *Manager) CheckPresenterRateLimit(fingerprint string) (allow bool, waitSeconds int) {
	interval := time.Duration(m.cfg.PresentedKeyRateLimitSeconds) * time.Second
	now := time.Now().UTC()

	if last, ok := m.rateLimit.Get(fingerprint); ok {
		if elapsed := now.Sub(last); elapsed < interval {
			m.rateLimit.Add(fingerprint, last) // keep original stamp; do not reset the window
			return false, int(math.Ceil((interval - elapsed).Seconds()))
		}
	}

	m.rateLimit.Add(fingerprint, now)
	return true, 0
}

// Subnet returns the /24 subnet for an IPv4 address ("a.b.c.0/24"), or the
// input unchanged for anything else. Used for privacy-limited client
// attribution in statistics.
func Subnet(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	v4 := parsed.To4()
	if v4 == nil {
		return ip
	}
	return fmt.Sprintf("%d.%d.%d.0/24", v4[0], v4[1], v4[2])
}

// HandleResponse applies the state machine in §4.4 to an upstream status
// code against cred, which may be pool-resident (ID >= 0) or transient
// (ID == credential.Transient).
func (m *Manager) HandleResponse(ctx context.Context, cred credential.Record, status int) (Outcome, error) {
	switch {
	case status >= 200 && status < 300:
		return m.handleSuccess(ctx, cred)
	case status == 401:
		return m.handleAuthFailure(ctx, cred)
	case status == 429:
		return m.handleThrottle(ctx, cred)
	default:
		return Outcome{Action: ActionProxied, Message: "no lifecycle change"}, nil
	}
}

func (m *Manager) handleSuccess(ctx context.Context, cred credential.Record) (Outcome, error) {
	if !cred.IsTransient() {
		if err := m.credStore.ResetCounters(ctx, cred.ID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionSuccess, Message: "counters reset"}, nil
	}

	rec, enrolled, err := m.credStore.CountLocked(ctx, func(count int) (string, string, bool) {
		return cred.Material, credential.DisplayForm(cred.Material), count < m.cfg.MaxPoolSize
	})
	if err != nil {
		return Outcome{}, err
	}
	if !enrolled {
		return Outcome{Action: ActionProxied, Message: "proxied, not enrolled: pool at capacity"}, nil
	}
	return Outcome{Action: ActionSuccess, Message: "auto-enrolled", Enrolled: rec}, nil
}

func (m *Manager) handleAuthFailure(ctx context.Context, cred credential.Record) (Outcome, error) {
	if cred.IsTransient() {
		return Outcome{Action: ActionProxied, Message: "transient credential, untracked"}, nil
	}

	n, err := m.credStore.IncrementAuthFailures(ctx, cred.ID)
	if err != nil {
		return Outcome{}, err
	}

	if n >= m.cfg.AuthFailureDeleteThreshold {
		if err := m.credStore.Delete(ctx, cred.ID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionDeleted, Message: fmt.Sprintf("deleted after %d consecutive auth failures", n)}, nil
	}

	deadline := time.Now().UTC().Add(time.Duration(m.cfg.AuthFailureBlockMinutes) * time.Minute)
	if err := m.credStore.SetBlockDeadline(ctx, cred.ID, &deadline); err != nil {
		return Outcome{}, err
	}
	return Outcome{Action: ActionBlocked, Message: fmt.Sprintf("blocked until %s after auth failure %d", deadline, n)}, nil
}

func (m *Manager) handleThrottle(ctx context.Context, cred credential.Record) (Outcome, error) {
	if cred.IsTransient() {
		return Outcome{Action: ActionProxied, Message: "transient credential, untracked"}, nil
	}

	n, err := m.credStore.IncrementThrottles(ctx, cred.ID)
	if err != nil {
		return Outcome{}, err
	}
	if err := m.statsStore.IncrementThrottleCount(ctx, cred.ID); err != nil {
		return Outcome{}, err
	}

	if n >= m.cfg.ThrottleDeleteThreshold {
		if err := m.credStore.Delete(ctx, cred.ID); err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionDeleted, Message: fmt.Sprintf("deleted after %d consecutive throttles", n)}, nil
	}

	backoff := time.Duration(math.Pow(2, float64(n-1))) * time.Duration(m.cfg.ThrottleBackoffBaseMinutes) * time.Minute
	deadline := time.Now().UTC().Add(backoff)
	if err := m.credStore.SetBlockDeadline(ctx, cred.ID, &deadline); err != nil {
		return Outcome{}, err
	}
	return Outcome{Action: ActionBlocked, Message: fmt.Sprintf("blocked until %s after throttle %d", deadline, n)}, nil
}
