package resilience

import (
	"cmp"
	"slices"
	"sync"

	"github.com/sony/gobreaker/v2"
)

// BreakerReporter is anything guarded by a circuit breaker that can report
// its state. Client and the push dispatcher both satisfy it.
type BreakerReporter interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

// Condition summarizes a breaker state for status reports.
type Condition int

const (
	// Healthy means calls flow normally.
	Healthy Condition = iota
	// Recovering means the breaker is letting trial calls through.
	Recovering
	// Unavailable means calls are rejected without being attempted.
	Unavailable
)

func (c Condition) String() string {
	switch c {
	case Healthy:
		return "healthy"
	case Recovering:
		return "recovering"
	default:
		return "unavailable"
	}
}

// ConditionOf maps a breaker state to its Condition.
func ConditionOf(state gobreaker.State) Condition {
	switch state {
	case gobreaker.StateClosed:
		return Healthy
	case gobreaker.StateHalfOpen:
		return Recovering
	default:
		return Unavailable
	}
}

// ProviderHealth is a point-in-time view of one registered provider.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Condition    Condition
	Counts       gobreaker.Counts
}

// Registry tracks breaker-guarded providers for the ops endpoints.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]BreakerReporter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]BreakerReporter)}
}

// Register adds a provider, replacing any with the same name.
func (r *Registry) Register(name string, provider BreakerReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
}

// Health returns the current health of one provider.
func (r *Registry) Health(name string) (ProviderHealth, bool) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()

	if !ok {
		return ProviderHealth{}, false
	}
	return probe(name, p), true
}

// Snapshot returns the health of every provider ordered by name.
func (r *Registry) Snapshot() []ProviderHealth {
	r.mu.RLock()
	out := make([]ProviderHealth, 0, len(r.providers))
	for name, p := range r.providers {
		out = append(out, probe(name, p))
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ProviderHealth) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

func probe(name string, p BreakerReporter) ProviderHealth {
	state := p.CircuitBreakerState()
	return ProviderHealth{
		Name:         name,
		CircuitState: state,
		Condition:    ConditionOf(state),
		Counts:       p.CircuitBreakerCounts(),
	}
}
