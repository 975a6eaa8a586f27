package control

import (
	"fmt"
	"sync"
)

// Default speed limits, in the simulator's speed units.
const (
	DefaultMaxSpeed = 25.0
	DefaultMinSpeed = 10.0
)

// GovernorState names which of the two limits is in effect.
type GovernorState int

const (
	FastLimit GovernorState = iota
	SlowLimit
)

func (s GovernorState) String() string {
	switch s {
	case FastLimit:
		return "fast"
	case SlowLimit:
		return "slow"
	default:
		return fmt.Sprintf("GovernorState(%d)", int(s))
	}
}

// Governor is the two-state hysteresis machine that converts the current
// speed into the limit used by the throttle law. Once speed exceeds the
// active limit it drops to the slow limit, and only returns to the fast
// limit when speed is at or below the active one.
type Governor struct {
	mu       sync.Mutex
	state    GovernorState
	maxSpeed float64
	minSpeed float64
}

// NewGovernor creates a governor in the FastLimit state.
func NewGovernor(maxSpeed, minSpeed float64) (*Governor, error) {
	if err := validateLimits(maxSpeed, minSpeed); err != nil {
		return nil, err
	}
	return &Governor{
		state:    FastLimit,
		maxSpeed: maxSpeed,
		minSpeed: minSpeed,
	}, nil
}

func validateLimits(maxSpeed, minSpeed float64) error {
	if minSpeed <= 0 {
		return fmt.Errorf("min speed must be positive, got %v", minSpeed)
	}
	if maxSpeed < minSpeed {
		return fmt.Errorf("max speed %v is below min speed %v", maxSpeed, minSpeed)
	}
	return nil
}

// Transition is the outcome of one governor update.
type Transition struct {
	From  GovernorState
	To    GovernorState
	Limit float64
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Step applies the transition rule for one tick. The returned limit is the
// value in effect after the transition.
func (g *Governor) Step(speed float64) Transition {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := FastLimit
	if speed > g.valueLocked(g.state) {
		next = SlowLimit
	}
	tr := Transition{From: g.state, To: next, Limit: g.valueLocked(next)}
	g.state = next
	return tr
}

// Update is Step reduced to the limit value and whether the state changed.
func (g *Governor) Update(speed float64) (limit float64, changed bool) {
	tr := g.Step(speed)
	return tr.Limit, tr.Changed()
}

// State returns the current state and its limit value.
func (g *Governor) State() (GovernorState, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.valueLocked(g.state)
}

// SetLimits replaces the limit values. The state is kept, so the new value
// of the active limit applies from the next tick.
func (g *Governor) SetLimits(maxSpeed, minSpeed float64) error {
	if err := validateLimits(maxSpeed, minSpeed); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxSpeed = maxSpeed
	g.minSpeed = minSpeed
	return nil
}

// Limits returns the configured max and min speed.
func (g *Governor) Limits() (maxSpeed, minSpeed float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxSpeed, g.minSpeed
}

func (g *Governor) valueLocked(s GovernorState) float64 {
	if s == SlowLimit {
		return g.minSpeed
	}
	return g.maxSpeed
}

// GovernorScope selects whether sessions share one governor.
type GovernorScope string

const (
	ScopeShared  GovernorScope = "shared"
	ScopeSession GovernorScope = "session"
)

// GovernorSet hands out governors according to the configured scope.
type GovernorSet struct {
	mu       sync.Mutex
	scope    GovernorScope
	maxSpeed float64
	minSpeed float64
	shared   *Governor
	sessions map[string]*Governor
}

// NewGovernorSet creates a set. An empty scope means ScopeShared.
func NewGovernorSet(scope GovernorScope, maxSpeed, minSpeed float64) (*GovernorSet, error) {
	if scope == "" {
		scope = ScopeShared
	}
	if scope != ScopeShared && scope != ScopeSession {
		return nil, fmt.Errorf("unknown governor scope %q", scope)
	}
	shared, err := NewGovernor(maxSpeed, minSpeed)
	if err != nil {
		return nil, err
	}
	return &GovernorSet{
		scope:    scope,
		maxSpeed: maxSpeed,
		minSpeed: minSpeed,
		shared:   shared,
		sessions: make(map[string]*Governor),
	}, nil
}

// Scope returns the configured scope.
func (s *GovernorSet) Scope() GovernorScope {
	return s.scope
}

// For returns the governor that serves sessionID.
func (s *GovernorSet) For(sessionID string) *Governor {
	if s.scope == ScopeShared {
		return s.shared
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.sessions[sessionID]
	if !ok {
		// limits were validated by NewGovernorSet/SetLimits
		g, _ = NewGovernor(s.maxSpeed, s.minSpeed)
		s.sessions[sessionID] = g
	}
	return g
}

// Release drops the per-session governor. No-op for the shared scope.
func (s *GovernorSet) Release(sessionID string) {
	if s.scope == ScopeShared {
		return
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

// SetLimits applies new limits to every governor in the set.
func (s *GovernorSet) SetLimits(maxSpeed, minSpeed float64) error {
	if err := validateLimits(maxSpeed, minSpeed); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSpeed = maxSpeed
	s.minSpeed = minSpeed
	_ = s.shared.SetLimits(maxSpeed, minSpeed)
	for _, g := range s.sessions {
		_ = g.SetLimits(maxSpeed, minSpeed)
	}
	return nil
}

// Limits returns the configured max and min speed.
func (s *GovernorSet) Limits() (maxSpeed, minSpeed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSpeed, s.minSpeed
}
