// Package breaker implements the circuit breaker (C7): closed/open/half-open
// per provider, backed by sony/gobreaker, with the per-(source, reason)
// reset bookkeeping and self-heal policy spec.md §4.7/§4.8 require on top of
// gobreaker's generic state machine.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned instead of invoking the call when the breaker is open;
// distinguished from a provider failure so callers can short-circuit
// (spec.md §7 "Circuit-open") without that failure itself counting against
// the breaker.
var ErrOpen = errors.New("breaker: circuit open")

// Record mirrors spec.md §3's circuit-breaker record for admin introspection.
type Record struct {
	Source          string    `json:"source"`
	State           string    `json:"state"`
	FailureCount    int       `json:"failure_count"`
	OpenedAt        time.Time `json:"opened_at,omitempty"`
	LastResetAt     time.Time `json:"last_reset_at,omitempty"`
	LastResetReason string    `json:"last_reset_reason,omitempty"`
}

// Manager owns one breaker per provider ("source"), using a fixed (not
// sliding) failure-count window: failure_count resets to zero when the
// window elapses without tripping (see DESIGN.md for the sliding-vs-fixed
// decision). failureThreshold/window/halfOpenAfter apply to every provider.
type Manager struct {
	mu               sync.Mutex
	breakers         map[string]*gobreaker.CircuitBreaker
	failureThreshold uint32
	window           time.Duration
	halfOpenAfter    time.Duration

	resetMu sync.Mutex
	resets  map[string]resetInfo
}

type resetInfo struct {
	at     time.Time
	reason string
}

// NewManager builds a Manager; failureThreshold/window/halfOpenAfter come
// from config.Breaker.
func NewManager(failureThreshold int, window, halfOpenAfter time.Duration) *Manager {
	return &Manager{
		breakers:         make(map[string]*gobreaker.CircuitBreaker),
		failureThreshold: uint32(failureThreshold),
		window:           window,
		halfOpenAfter:    halfOpenAfter,
		resets:           make(map[string]resetInfo),
	}
}

func (m *Manager) get(source string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[source]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: 1, // half-open allows exactly one probe (spec.md §4.7)
		Interval:    m.window,
		Timeout:     m.halfOpenAfter,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.failureThreshold
		},
	})
	m.breakers[source] = cb
	return cb
}

// Call executes fn through the named provider's breaker. When the breaker
// is open, fn is never invoked and ErrOpen is returned.
func (m *Manager) Call(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	cb := m.get(source)
	_, err := cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// Record returns the current breaker record for a provider, for the admin
// surface's GET .../circuit-breaker.
func (m *Manager) Record(source string) Record {
	cb := m.get(source)
	state, counts := cb.State(), cb.Counts()

	rec := Record{
		Source:       source,
		State:        stateName(state),
		FailureCount: int(counts.ConsecutiveFailures),
	}

	m.resetMu.Lock()
	if info, ok := m.resets[source]; ok {
		rec.LastResetAt = info.at
		rec.LastResetReason = info.reason
	}
	m.resetMu.Unlock()

	return rec
}

// Reset forces a provider's breaker back to closed (operator action or
// reconciliation-loop self-heal), recording (source, reason).
func (m *Manager) Reset(source, reason string) {
	m.mu.Lock()
	delete(m.breakers, source) // gobreaker has no public reset; rebuild fresh
	m.mu.Unlock()
	m.get(source)

	m.resetMu.Lock()
	m.resets[source] = resetInfo{at: time.Now(), reason: reason}
	m.resetMu.Unlock()
}

// SelfHeal resets any breaker whose current state is open and whose last
// reset is older than minAge — the reconciliation loop's optional self-heal
// path (spec.md §4.7/§4.8). The time a breaker opened is not tracked: for a
// breaker with no recorded reset the configured window stands in for its
// age, so such a breaker is healed only when that window is at least minAge.
// authoritative reports sources whose last known failure reason should
// block auto-reset (e.g. explicit auth failures).
func (m *Manager) SelfHeal(minAge time.Duration, authoritative func(source string) bool) []string {
	m.mu.Lock()
	sources := make([]string, 0, len(m.breakers))
	for s := range m.breakers {
		sources = append(sources, s)
	}
	m.mu.Unlock()

	var healed []string
	for _, source := range sources {
		cb := m.get(source)
		if cb.State() != gobreaker.StateOpen {
			continue
		}
		if authoritative != nil && authoritative(source) {
			continue
		}

		m.resetMu.Lock()
		info, hasReset := m.resets[source]
		m.resetMu.Unlock()
		age := m.window
		if hasReset {
			age = time.Since(info.at)
		}
		if age < minAge {
			continue
		}

		m.Reset(source, fmt.Sprintf("self-heal after %s", minAge))
		healed = append(healed, source)
	}
	return healed
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
