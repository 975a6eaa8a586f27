package control

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestGovernorMemoryless checks that the next state depends only on the
// current state and the current speed.
func TestGovernorMemoryless(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("next state is a function of state and speed", prop.ForAll(
		func(history []float64, speed float64) bool {
			g, err := NewGovernor(DefaultMaxSpeed, DefaultMinSpeed)
			if err != nil {
				return false
			}
			for _, s := range history {
				g.Update(s)
			}
			before, limit := g.State()

			want := FastLimit
			if speed > limit {
				want = SlowLimit
			}

			got, changed := g.Update(speed)
			state, _ := g.State()
			return state == want &&
				changed == (before != want) &&
				got == map[GovernorState]float64{FastLimit: DefaultMaxSpeed, SlowLimit: DefaultMinSpeed}[want]
		},
		gen.SliceOf(gen.Float64Range(0, 40)),
		gen.Float64Range(0, 40),
	))

	properties.Property("throttle never exceeds one", prop.ForAll(
		func(steering, speed float64, slow bool) bool {
			limit := DefaultMaxSpeed
			if slow {
				limit = DefaultMinSpeed
			}
			return Throttle(steering, speed, limit) <= 1
		},
		gen.Float64Range(-1, 1),
		gen.Float64Range(0, 40),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
