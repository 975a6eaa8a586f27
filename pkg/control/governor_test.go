package control

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor(t *testing.T) {
	t.Run("starts at the fast limit", func(t *testing.T) {
		g, err := NewGovernor(DefaultMaxSpeed, DefaultMinSpeed)
		require.NoError(t, err)

		state, limit := g.State()
		assert.Equal(t, FastLimit, state)
		assert.Equal(t, 25.0, limit)
	})

	t.Run("hysteresis sequence", func(t *testing.T) {
		g, err := NewGovernor(25, 10)
		require.NoError(t, err)

		steps := []struct {
			speed   float64
			limit   float64
			state   GovernorState
			changed bool
		}{
			{speed: 20, limit: 25, state: FastLimit},
			{speed: 25, limit: 25, state: FastLimit},
			{speed: 25.1, limit: 10, state: SlowLimit, changed: true},
			{speed: 18, limit: 10, state: SlowLimit},
			{speed: 10.5, limit: 10, state: SlowLimit},
			{speed: 10, limit: 25, state: FastLimit, changed: true},
			{speed: 12, limit: 25, state: FastLimit},
		}
		for _, s := range steps {
			limit, changed := g.Update(s.speed)
			state, _ := g.State()
			assert.Equal(t, s.limit, limit, "speed %v", s.speed)
			assert.Equal(t, s.changed, changed, "speed %v", s.speed)
			assert.Equal(t, s.state, state, "speed %v", s.speed)
		}
	})

	t.Run("step reports the transition", func(t *testing.T) {
		g, err := NewGovernor(25, 10)
		require.NoError(t, err)

		tr := g.Step(30)
		assert.Equal(t, Transition{From: FastLimit, To: SlowLimit, Limit: 10}, tr)
		assert.True(t, tr.Changed())
	})

	t.Run("set limits keeps the state", func(t *testing.T) {
		g, err := NewGovernor(25, 10)
		require.NoError(t, err)
		g.Update(30)

		require.NoError(t, g.SetLimits(30, 15))
		state, limit := g.State()
		assert.Equal(t, SlowLimit, state)
		assert.Equal(t, 15.0, limit)

		maxSpeed, minSpeed := g.Limits()
		assert.Equal(t, 30.0, maxSpeed)
		assert.Equal(t, 15.0, minSpeed)
	})

	t.Run("invalid limits", func(t *testing.T) {
		_, err := NewGovernor(25, 0)
		assert.Error(t, err)
		_, err = NewGovernor(5, 10)
		assert.Error(t, err)

		g, err := NewGovernor(10, 10)
		require.NoError(t, err)
		assert.Error(t, g.SetLimits(1, 2))
	})

	t.Run("concurrent updates", func(t *testing.T) {
		g, err := NewGovernor(25, 10)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(speed float64) {
				defer wg.Done()
				limit, _ := g.Update(speed)
				assert.Contains(t, []float64{10, 25}, limit)
			}(float64(i))
		}
		wg.Wait()
	})
}

func TestGovernorStateString(t *testing.T) {
	assert.Equal(t, "fast", FastLimit.String())
	assert.Equal(t, "slow", SlowLimit.String())
	assert.Equal(t, "GovernorState(7)", GovernorState(7).String())
}

func TestGovernorSet(t *testing.T) {
	t.Run("shared scope", func(t *testing.T) {
		set, err := NewGovernorSet("", 25, 10)
		require.NoError(t, err)
		assert.Equal(t, ScopeShared, set.Scope())

		set.For("a").Update(30)
		state, _ := set.For("b").State()
		assert.Equal(t, SlowLimit, state)
		assert.Same(t, set.For("a"), set.For("b"))
	})

	t.Run("session scope", func(t *testing.T) {
		set, err := NewGovernorSet(ScopeSession, 25, 10)
		require.NoError(t, err)

		set.For("a").Update(30)
		state, _ := set.For("b").State()
		assert.Equal(t, FastLimit, state)

		a := set.For("a")
		set.Release("a")
		assert.NotSame(t, a, set.For("a"))
	})

	t.Run("set limits reaches every governor", func(t *testing.T) {
		set, err := NewGovernorSet(ScopeSession, 25, 10)
		require.NoError(t, err)
		a := set.For("a")

		require.NoError(t, set.SetLimits(40, 20))
		maxSpeed, _ := a.Limits()
		assert.Equal(t, 40.0, maxSpeed)
		maxSpeed, _ = set.For("new").Limits()
		assert.Equal(t, 40.0, maxSpeed)

		maxSpeed, minSpeed := set.Limits()
		assert.Equal(t, 40.0, maxSpeed)
		assert.Equal(t, 20.0, minSpeed)
	})

	t.Run("unknown scope", func(t *testing.T) {
		_, err := NewGovernorSet("global", 25, 10)
		assert.Error(t, err)
	})
}

func TestThrottle(t *testing.T) {
	tests := []struct {
		name     string
		steering float64
		speed    float64
		limit    float64
		want     float64
	}{
		{name: "standstill straight", steering: 0, speed: 0, limit: 25, want: 1},
		{name: "at the limit", steering: 0, speed: 25, limit: 25, want: 0},
		{name: "turning", steering: 0.5, speed: 10, limit: 25, want: 0.59},
		{name: "over the slow limit brakes", steering: 0, speed: 20, limit: 10, want: -3},
		{name: "sign of steering does not matter", steering: -0.5, speed: 0, limit: 10, want: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Throttle(tt.steering, tt.speed, tt.limit), 1e-12)
		})
	}
}
