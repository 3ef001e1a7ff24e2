// Package resilience provides per-group circuit breakers for the refresh loop.
package resilience

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"    // Normal operation
	CircuitOpen     CircuitState = "OPEN"      // Failing, fetches skipped
	CircuitHalfOpen CircuitState = "HALF_OPEN" // One trial call allowed
)

// ErrCircuitOpen is returned when a group's breaker skips its fetch.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Zero disables breaking.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int
	// Cooldown is how long an open circuit waits before a half-open trial call.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the configuration used when only a threshold is set.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// Enabled reports whether the configuration ever opens a circuit.
func (c BreakerConfig) Enabled() bool {
	return c.FailureThreshold > 0
}

// Breaker guards one fetch group.
type Breaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	probing         bool
	lastFailureTime time.Time
	lastStateChange time.Time

	totalAllowed  int64
	totalRejected int64
	totalFailures int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return newBreaker(name, config, time.Now)
}

func newBreaker(name string, config BreakerConfig, now func() time.Time) *Breaker {
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &Breaker{
		name:            name,
		config:          config,
		now:             now,
		state:           CircuitClosed,
		lastStateChange: now(),
	}
}

// Allow reports whether a fetch may run now. An open circuit turns half-open
// once the cooldown has passed and then admits a single trial call at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.config.Enabled() {
		b.totalAllowed++
		return nil
	}

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailureTime) < b.config.Cooldown {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.transitionTo(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if b.probing {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.totalAllowed++
	return nil
}

// Record feeds the outcome of an allowed fetch back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		switch b.state {
		case CircuitHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.transitionTo(CircuitClosed)
			}
		case CircuitClosed:
			b.failures = 0
		}
		return
	}

	b.totalFailures++
	b.lastFailureTime = b.now()
	if !b.config.Enabled() {
		return
	}

	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open goes back to open
		b.transitionTo(CircuitOpen)
	}
}

func (b *Breaker) transitionTo(state CircuitState) {
	b.state = state
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(CircuitClosed)
	b.probing = false
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Name:            b.name,
		State:           b.state,
		TotalAllowed:    b.totalAllowed,
		TotalRejected:   b.totalRejected,
		TotalFailures:   b.totalFailures,
		CurrentFailures: b.failures,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// BreakerStats holds circuit breaker statistics.
type BreakerStats struct {
	Name            string
	State           CircuitState
	TotalAllowed    int64
	TotalRejected   int64
	TotalFailures   int64
	CurrentFailures int
	LastFailureTime time.Time
	LastStateChange time.Time
}

// FailureRate returns failed fetches as a percentage of allowed ones.
func (s BreakerStats) FailureRate() float64 {
	if s.TotalAllowed == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalAllowed) * 100
}

// GroupBreakers lazily holds one breaker per fetch group, so a group that keeps
// failing stops costing a request every tick while the others are unaffected.
type GroupBreakers struct {
	config BreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewGroupBreakers creates an empty breaker set.
func NewGroupBreakers(config BreakerConfig) *GroupBreakers {
	return &GroupBreakers{
		config:   config,
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
}

func (g *GroupBreakers) get(group string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[group]
	if !ok {
		b = newBreaker(group, g.config, g.now)
		g.breakers[group] = b
	}
	return b
}

// Allow reports whether group may be fetched this tick.
func (g *GroupBreakers) Allow(group string) error {
	return g.get(group).Allow()
}

// Record feeds one fetch outcome for group.
func (g *GroupBreakers) Record(group string, err error) {
	g.get(group).Record(err)
}

// State returns the state of group's breaker.
func (g *GroupBreakers) State(group string) CircuitState {
	return g.get(group).State()
}

// Reset closes every breaker.
func (g *GroupBreakers) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, b := range g.breakers {
		b.Reset()
	}
}

// Stats returns the statistics of every breaker sorted by group.
func (g *GroupBreakers) Stats() []BreakerStats {
	g.mu.Lock()
	breakers := make([]*Breaker, 0, len(g.breakers))
	for _, b := range g.breakers {
		breakers = append(breakers, b)
	}
	g.mu.Unlock()

	out := make([]BreakerStats, len(breakers))
	for i, b := range breakers {
		out[i] = b.Stats()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
