package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)
	require.NotNil(t, m.Registry())

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	// vectors without observations are not gathered
	assert.NotEmpty(t, families)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	m.ObserveTick("commanded", 5*time.Millisecond)
	m.ObserveInference(3 * time.Millisecond)
	m.ObserveGovernor(10, true, "slow")
	m.SessionOpened()
	m.Emitted("steer", nil)
	m.FrameDropped()
	m.Recorded(nil)
	m.Recorded(errors.New("disk full"))

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	expectedMetrics := []string{
		"ticks_total",
		"tick_duration_seconds",
		"inference_duration_seconds",
		"frames_dropped_total",
		"governor_limit",
		"governor_transitions_total",
		"sessions_active",
		"sessions_total",
		"commands_emitted_total",
		"emit_errors_total",
		"frames_recorded_total",
		"recording_errors_total",
	}
	for _, metric := range expectedMetrics {
		assert.True(t, strings.Contains(body, metric), "metrics output missing %s", metric)
	}
}

func TestRecordingHelpers(t *testing.T) {
	m := NewMetrics()

	t.Run("ticks by outcome", func(t *testing.T) {
		m.ObserveTick("commanded", time.Millisecond)
		m.ObserveTick("commanded", time.Millisecond)
		m.ObserveTick("decode_failed", time.Millisecond)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("commanded")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksTotal.WithLabelValues("decode_failed")))
	})

	t.Run("governor transitions only on change", func(t *testing.T) {
		m.ObserveGovernor(25, false, "fast")
		m.ObserveGovernor(10, true, "slow")

		assert.Equal(t, 10.0, testutil.ToFloat64(m.GovernorLimit))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.GovernorTransitions.WithLabelValues("fast")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.GovernorTransitions.WithLabelValues("slow")))
	})

	t.Run("sessions", func(t *testing.T) {
		m.SessionOpened()
		m.SessionOpened()
		m.SessionClosed()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsTotal))
	})

	t.Run("emit errors", func(t *testing.T) {
		m.Emitted("manual", errors.New("broken pipe"))

		assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsEmitted.WithLabelValues("manual")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.EmitErrors))
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveTick("commanded", time.Millisecond)
		m.ObserveInference(time.Millisecond)
		m.ObserveGovernor(25, true, "fast")
		m.SessionOpened()
		m.SessionClosed()
		m.Emitted("steer", nil)
		m.FrameDropped()
		m.Recorded(nil)
	})
}
