// Package environment grades pod growing conditions against optimal ranges
// and keeps a per-pod sample history for windowed statistics.
package environment

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"growpod/pkg/domain"
)

// FallbackSamples bounds the history used when no sample falls in the window.
const FallbackSamples = 10

// Reading is the classification of a single parameter.
type Reading struct {
	Value        float64 `json:"value"`
	Status       Status  `json:"status"`
	OptimalRange string  `json:"optimal_range"`
}

// Analysis maps each ranged parameter to its reading.
type Analysis map[Parameter]Reading

// RecordResult is returned by RecordSample.
type RecordResult struct {
	Recorded   bool      `json:"recorded"`
	ObservedAt time.Time `json:"observed_at"`
	Analysis   Analysis  `json:"analysis"`
	Alerts     []string  `json:"alerts"`
}

// Spread summarises a series with its population standard deviation.
type Spread struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	StdDev  float64 `json:"std_dev"`
}

// Bounds summarises a series without dispersion.
type Bounds struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Stats is the windowed summary of a pod's conditions.
type Stats struct {
	PodID         string `json:"pod_id"`
	PeriodHours   int    `json:"period_hours"`
	Measurements  int    `json:"measurements"`
	FellBack      bool   `json:"fell_back"`
	Temperature   Spread `json:"temperature"`
	Humidity      Spread `json:"humidity"`
	CO2           Bounds `json:"co2"`
	OverallStatus Status `json:"overall_status"`
}

// Monitor records samples per pod. Ranges are fixed at construction.
type Monitor struct {
	mu      sync.RWMutex
	ranges  map[Parameter]Range
	history map[string][]domain.EnvironmentalSample
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock overrides the time source used for defaults and windows.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithRanges replaces the optimal range table.
func WithRanges(ranges map[Parameter]Range) Option {
	return func(m *Monitor) { m.ranges = maps.Clone(ranges) }
}

// NewMonitor constructs a Monitor using DefaultRanges unless overridden.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		ranges:  DefaultRanges(),
		history: make(map[string][]domain.EnvironmentalSample),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ranges returns a copy of the configured range table.
func (m *Monitor) Ranges() map[Parameter]Range {
	return maps.Clone(m.ranges)
}

// Classify grades every ranged parameter of sample: optimal within the
// range, acceptable within the 10% widened band, critical otherwise.
func (m *Monitor) Classify(sample domain.EnvironmentalSample) Analysis {
	out := make(Analysis, len(m.ranges))
	for _, p := range parameterOrder {
		r, ok := m.ranges[p]
		if !ok {
			continue
		}
		v := valueOf(sample, p)
		status := StatusCritical
		switch {
		case r.Contains(v):
			status = StatusOptimal
		case r.Tolerates(v):
			status = StatusAcceptable
		}
		out[p] = Reading{Value: v, Status: status, OptimalRange: r.String()}
	}
	return out
}

// Alerts applies the alerting rules, which are independent of Classify:
// temperature and humidity alert outside the widened band, pH alerts
// anywhere outside its range, and CO2 and light never alert.
func (m *Monitor) Alerts(sample domain.EnvironmentalSample) []string {
	alerts := []string{}
	if r, ok := m.ranges[Temperature]; ok {
		switch {
		case sample.Temperature < r.Min*0.9:
			alerts = append(alerts, "Temperature too low: "+formatValue(sample.Temperature)+"°C")
		case sample.Temperature > r.Max*1.1:
			alerts = append(alerts, "Temperature too high: "+formatValue(sample.Temperature)+"°C")
		}
	}
	if r, ok := m.ranges[Humidity]; ok {
		switch {
		case sample.Humidity < r.Min*0.9:
			alerts = append(alerts, "Humidity too low: "+formatValue(sample.Humidity)+"%")
		case sample.Humidity > r.Max*1.1:
			alerts = append(alerts, "Humidity too high: "+formatValue(sample.Humidity)+"%")
		}
	}
	if r, ok := m.ranges[PHLevel]; ok && !r.Contains(sample.PHLevel) {
		alerts = append(alerts, "pH level out of range: "+formatValue(sample.PHLevel))
	}
	return alerts
}

// formatValue renders readings exactly, without rounding into range.
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Check validates and stamps sample for podID without recording it.
// A zero ObservedAt is set to the current time.
func (m *Monitor) Check(podID string, sample domain.EnvironmentalSample) (domain.EnvironmentalSample, error) {
	if podID == "" {
		return domain.EnvironmentalSample{}, fmt.Errorf("%w: pod id required", domain.ErrInvalidInput)
	}
	sample.PodID = podID
	if sample.ObservedAt.IsZero() {
		sample.ObservedAt = m.now()
	}
	if err := domain.Validate(sample); err != nil {
		return domain.EnvironmentalSample{}, err
	}
	return sample, nil
}

// Commit appends a sample already accepted by Check to its pod's history.
func (m *Monitor) Commit(sample domain.EnvironmentalSample) {
	m.mu.Lock()
	m.history[sample.PodID] = append(m.history[sample.PodID], sample)
	m.mu.Unlock()
}

// RecordSample appends sample to the pod's history and grades it.
func (m *Monitor) RecordSample(podID string, sample domain.EnvironmentalSample) (RecordResult, error) {
	sample, err := m.Check(podID, sample)
	if err != nil {
		return RecordResult{}, err
	}
	m.Commit(sample)
	return RecordResult{
		Recorded:   true,
		ObservedAt: sample.ObservedAt,
		Analysis:   m.Classify(sample),
		Alerts:     m.Alerts(sample),
	}, nil
}

// WindowedStats summarises samples observed within the last hours. When
// none qualify the most recent FallbackSamples are used instead; a pod with
// no history reports domain.ErrNoData.
func (m *Monitor) WindowedStats(podID string, hours int) (Stats, error) {
	if hours < 0 {
		return Stats{}, fmt.Errorf("%w: hours must not be negative", domain.ErrInvalidInput)
	}
	m.mu.RLock()
	history := slices.Clone(m.history[podID])
	m.mu.RUnlock()
	if len(history) == 0 {
		return Stats{}, fmt.Errorf("pod %s: %w", podID, domain.ErrNoData)
	}

	cutoff := m.now().Add(-time.Duration(hours) * time.Hour)
	selected := make([]domain.EnvironmentalSample, 0, len(history))
	for _, s := range history {
		if !s.ObservedAt.Before(cutoff) {
			selected = append(selected, s)
		}
	}
	fellBack := false
	if len(selected) == 0 {
		fellBack = true
		selected = history[max(0, len(history)-FallbackSamples):]
	}

	temps := make([]float64, len(selected))
	hums := make([]float64, len(selected))
	co2 := make([]float64, len(selected))
	for i, s := range selected {
		temps[i], hums[i], co2[i] = s.Temperature, s.Humidity, s.CO2Level
	}
	return Stats{
		PodID:         podID,
		PeriodHours:   hours,
		Measurements:  len(selected),
		FellBack:      fellBack,
		Temperature:   spreadOf(temps),
		Humidity:      spreadOf(hums),
		CO2:           Bounds{Average: stat.Mean(co2, nil), Min: floats.Min(co2), Max: floats.Max(co2)},
		OverallStatus: m.OverallStatus(selected[len(selected)-1]),
	}, nil
}

// OverallStatus is critical when any reading is critical, acceptable when
// more than two readings are acceptable, and optimal otherwise.
func (m *Monitor) OverallStatus(sample domain.EnvironmentalSample) Status {
	acceptable := 0
	for _, r := range m.Classify(sample) {
		switch r.Status {
		case StatusCritical:
			return StatusCritical
		case StatusAcceptable:
			acceptable++
		}
	}
	if acceptable > 2 {
		return StatusAcceptable
	}
	return StatusOptimal
}

// History returns a copy of the pod's samples in recording order.
func (m *Monitor) History(podID string) []domain.EnvironmentalSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history[podID])
}

// Latest returns the pod's most recent sample.
func (m *Monitor) Latest(podID string) (domain.EnvironmentalSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h := m.history[podID]
	if len(h) == 0 {
		return domain.EnvironmentalSample{}, false
	}
	return h[len(h)-1], true
}

func spreadOf(xs []float64) Spread {
	mean, std := stat.PopMeanStdDev(xs, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Spread{Average: mean, Min: floats.Min(xs), Max: floats.Max(xs), StdDev: std}
}

func valueOf(s domain.EnvironmentalSample, p Parameter) float64 {
	switch p {
	case Temperature:
		return s.Temperature
	case Humidity:
		return s.Humidity
	case CO2Level:
		return s.CO2Level
	case LightIntensity:
		return s.LightIntensity
	case PHLevel:
		return s.PHLevel
	}
	return 0
}
