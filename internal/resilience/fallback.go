package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] fails or is behind an
// open breaker.
var ErrAllFailed = errors.New("all providers failed")

// member pairs a provider with its own breaker so a flapping primary cannot
// poison the fallbacks.
type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group routes calls across a primary and any number of fallbacks of the same
// provider type, in registration order. A member whose breaker is open is
// skipped without being called.
//
// Group is safe for concurrent use once assembled; Add must not race with Do.
type Group[T any] struct {
	members []member[T]
	breaker BreakerConfig
}

// NewGroup creates a [Group] with primary as its first member. The breaker
// configuration is cloned per member, with Name replaced by the member name.
func NewGroup[T any](primaryName string, primary T, breaker BreakerConfig) *Group[T] {
	g := &Group[T]{breaker: breaker}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback, tried after all previously registered members.
func (g *Group[T]) Add(name string, fallback T) {
	cfg := g.breaker
	cfg.Name = name
	g.members = append(g.members, member[T]{
		name:    name,
		value:   fallback,
		breaker: NewBreaker(cfg),
	})
}

// Names returns the member names in trial order.
func (g *Group[T]) Names() []string {
	names := make([]string, len(g.members))
	for i, m := range g.members {
		names[i] = m.name
	}
	return names
}

// Do tries fn against each member until one succeeds. It returns
// [ErrAllFailed] wrapping the last error when everything fails.
func (g *Group[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range g.members {
		m := &g.members[i]
		err := m.breaker.Do(func() error { return fn(m.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			slog.Debug("skipping provider, breaker open", "provider", m.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", m.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// GroupDo tries fn against each member of g until one succeeds, returning the
// result. Package-level because methods cannot introduce type parameters.
func GroupDo[T any, R any](g *Group[T], fn func(T) (R, error)) (R, error) {
	var result R
	err := g.Do(func(v T) error {
		var innerErr error
		result, innerErr = fn(v)
		return innerErr
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return result, nil
}
