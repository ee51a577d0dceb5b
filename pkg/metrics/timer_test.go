package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// Timer backs batsim_scheduler_roundtrip_seconds (server.go's C5
// request/reply timing); these tests exercise it directly against
// throwaway histograms rather than the real registered one.

func TestTimerDurationGrowsWhileRunning(t *testing.T) {
	timer := NewTimer()
	require.False(t, timer.start.IsZero())

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()

	require.Greater(t, second, first)
	require.GreaterOrEqual(t, first, 20*time.Millisecond)
}

func TestTimerObserveDurationRecordsToHistogram(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_roundtrip_seconds",
		Help: "throwaway histogram for TestTimerObserveDurationRecordsToHistogram",
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	require.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTimerObserveDurationVecLabelsTheRightSeries(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "test_roundtrip_by_kind_seconds", Help: "throwaway"},
		[]string{"kind"},
	)

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "allocation")

	// Only the "allocation" series should have been touched; a second
	// label value stays unregistered until observed.
	require.Equal(t, 1, testutil.CollectAndCount(vec))
}

func TestIndependentTimersDoNotShareState(t *testing.T) {
	early := NewTimer()
	time.Sleep(30 * time.Millisecond)
	late := NewTimer()

	require.Greater(t, early.Duration(), late.Duration())
}
