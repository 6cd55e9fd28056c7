package environment

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"growpod/pkg/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)}
}

func optimalSample() domain.EnvironmentalSample {
	return domain.EnvironmentalSample{Temperature: 24, Humidity: 50, CO2Level: 1000, LightIntensity: 550, PHLevel: 6.5}
}

func TestClassifyBands(t *testing.T) {
	m := NewMonitor()
	s := optimalSample()
	s.Temperature = 19   // within 0.9*20 = 18
	s.Humidity = 70      // beyond 1.1*60 = 66
	s.CO2Level = 1500    // inclusive upper bound
	s.LightIntensity = 0 // far below
	s.PHLevel = 7.5      // within 1.1*7.0 = 7.7

	a := m.Classify(s)
	require.Len(t, a, 5)
	require.Equal(t, Reading{Value: 19, Status: StatusAcceptable, OptimalRange: "20-28"}, a[Temperature])
	require.Equal(t, StatusCritical, a[Humidity].Status)
	require.Equal(t, StatusOptimal, a[CO2Level].Status)
	require.Equal(t, "800-1500", a[CO2Level].OptimalRange)
	require.Equal(t, StatusCritical, a[LightIntensity].Status)
	require.Equal(t, StatusAcceptable, a[PHLevel].Status)
	require.Equal(t, "6-7", a[PHLevel].OptimalRange)
}

func TestAlertAsymmetry(t *testing.T) {
	m := NewMonitor()

	ph := optimalSample()
	ph.PHLevel = 8.0
	require.Equal(t, []string{"pH level out of range: 8"}, m.Alerts(ph))

	slightlyAcidic := optimalSample()
	slightlyAcidic.PHLevel = 5.9
	require.Equal(t, StatusAcceptable, m.Classify(slightlyAcidic)[PHLevel].Status)
	require.Len(t, m.Alerts(slightlyAcidic), 1, "pH alerts without the tolerance band")

	justBelow := optimalSample()
	justBelow.PHLevel = 5.96
	require.Equal(t, []string{"pH level out of range: 5.96"}, m.Alerts(justBelow))

	co2 := optimalSample()
	co2.CO2Level = 9000
	co2.LightIntensity = 5
	require.Empty(t, m.Alerts(co2), "CO2 and light never alert")
	require.Equal(t, StatusCritical, m.Classify(co2)[CO2Level].Status)

	hot := optimalSample()
	hot.Temperature = 31
	hot.Humidity = 30
	require.Equal(t, []string{"Temperature too high: 31°C", "Humidity too low: 30%"}, m.Alerts(hot))

	edge := optimalSample()
	edge.Temperature = 18 // exactly 0.9*min
	require.Empty(t, m.Alerts(edge))
}

func TestRecordSample(t *testing.T) {
	clock := newClock()
	m := NewMonitor(WithClock(clock.Now))

	res, err := m.RecordSample("pod-1", optimalSample())
	require.NoError(t, err)
	require.True(t, res.Recorded)
	require.Equal(t, clock.t, res.ObservedAt)
	require.Empty(t, res.Alerts)
	require.NotNil(t, res.Alerts)
	require.Equal(t, StatusOptimal, res.Analysis[Temperature].Status)

	latest, ok := m.Latest("pod-1")
	require.True(t, ok)
	require.Equal(t, "pod-1", latest.PodID)
	_, ok = m.Latest("pod-2")
	require.False(t, ok)

	explicit := optimalSample()
	explicit.ObservedAt = clock.t.Add(-time.Hour)
	res, err = m.RecordSample("pod-1", explicit)
	require.NoError(t, err)
	require.Equal(t, explicit.ObservedAt, res.ObservedAt)
	require.Len(t, m.History("pod-1"), 2)
}

func TestRecordSampleRejectsInvalid(t *testing.T) {
	m := NewMonitor()
	bad := optimalSample()
	bad.Humidity = math.NaN()
	_, err := m.RecordSample("pod-1", bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = m.RecordSample("", optimalSample())
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	require.Empty(t, m.History("pod-1"))
}

func TestWindowedStatsNoData(t *testing.T) {
	m := NewMonitor()
	_, err := m.WindowedStats("pod-1", 24)
	require.ErrorIs(t, err, domain.ErrNoData)

	_, err = m.WindowedStats("pod-1", -1)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestWindowedStatsInWindow(t *testing.T) {
	clock := newClock()
	m := NewMonitor(WithClock(clock.Now))

	old := optimalSample()
	old.Temperature = 5
	old.ObservedAt = clock.t.Add(-48 * time.Hour)
	_, err := m.RecordSample("pod-1", old)
	require.NoError(t, err)

	for i, temp := range []float64{20, 22, 24, 26} {
		s := optimalSample()
		s.Temperature = temp
		s.Humidity = 50
		s.CO2Level = 900 + float64(i)*100
		s.ObservedAt = clock.t.Add(-time.Duration(4-i) * time.Hour)
		_, err := m.RecordSample("pod-1", s)
		require.NoError(t, err)
	}

	stats, err := m.WindowedStats("pod-1", 24)
	require.NoError(t, err)
	require.False(t, stats.FellBack)
	require.Equal(t, 4, stats.Measurements)
	require.Equal(t, 24, stats.PeriodHours)
	require.InDelta(t, 23.0, stats.Temperature.Average, 1e-9)
	require.Equal(t, 20.0, stats.Temperature.Min)
	require.Equal(t, 26.0, stats.Temperature.Max)
	require.InDelta(t, math.Sqrt(5), stats.Temperature.StdDev, 1e-9, "population standard deviation")
	require.Equal(t, 0.0, stats.Humidity.StdDev)
	require.Equal(t, Bounds{Average: 1050, Min: 900, Max: 1200}, stats.CO2)
	require.Equal(t, StatusOptimal, stats.OverallStatus)
}

func TestWindowedStatsFallsBackToRecentSamples(t *testing.T) {
	clock := newClock()
	m := NewMonitor(WithClock(clock.Now))
	for i := range 12 {
		s := optimalSample()
		s.Temperature = float64(10 + i)
		s.ObservedAt = clock.t.Add(-72*time.Hour + time.Duration(i)*time.Minute)
		_, err := m.RecordSample("pod-1", s)
		require.NoError(t, err)
	}

	stats, err := m.WindowedStats("pod-1", 24)
	require.NoError(t, err)
	require.True(t, stats.FellBack)
	require.Equal(t, FallbackSamples, stats.Measurements)
	require.Equal(t, 12.0, stats.Temperature.Min, "oldest two samples dropped")
	require.Equal(t, 21.0, stats.Temperature.Max)
	require.Equal(t, StatusOptimal, stats.OverallStatus)
}

func TestWindowedStatsSingleSample(t *testing.T) {
	clock := newClock()
	m := NewMonitor(WithClock(clock.Now))
	_, err := m.RecordSample("pod-1", optimalSample())
	require.NoError(t, err)

	stats, err := m.WindowedStats("pod-1", 1)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Measurements)
	require.Equal(t, 0.0, stats.Temperature.StdDev)
	require.Equal(t, 24.0, stats.Temperature.Average)
}

func TestOverallStatus(t *testing.T) {
	m := NewMonitor()

	s := optimalSample()
	s.Temperature, s.Humidity = 19, 38
	require.Equal(t, StatusOptimal, m.OverallStatus(s), "two acceptable readings stay optimal")

	s.CO2Level = 1600
	require.Equal(t, StatusAcceptable, m.OverallStatus(s))

	s.PHLevel = 9
	require.Equal(t, StatusCritical, m.OverallStatus(s))
}

func TestWithRangesOverridesTable(t *testing.T) {
	ranges := map[Parameter]Range{Temperature: {Min: 10, Max: 15}}
	m := NewMonitor(WithRanges(ranges))
	ranges[Temperature] = Range{Min: 0, Max: 1}

	a := m.Classify(optimalSample())
	require.Len(t, a, 1)
	require.Equal(t, StatusCritical, a[Temperature].Status)
	require.Equal(t, Range{Min: 10, Max: 15}, m.Ranges()[Temperature])
	require.Empty(t, m.Alerts(domain.EnvironmentalSample{Temperature: 12, PHLevel: 14}), "no pH range configured")
}

func TestConcurrentRecording(t *testing.T) {
	m := NewMonitor()
	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			for range 50 {
				if _, err := m.RecordSample(fmt.Sprintf("pod-%d", w%2), optimalSample()); err != nil {
					return err
				}
				if _, err := m.WindowedStats(fmt.Sprintf("pod-%d", w%2), 24); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, m.History("pod-0"), 200)
	require.Len(t, m.History("pod-1"), 200)
}
