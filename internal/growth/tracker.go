// Package growth derives growth rates, health adjustments and harvest
// predictions from per-plant height measurements.
package growth

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"growpod/pkg/domain"
)

const (
	// DefaultRate is the expected daily growth (cm) for stages without an entry.
	DefaultRate = 1.0
	// RecentWindow is how many trailing samples feed the harvest scaling.
	RecentWindow = 5
	// MinSamplesForScaling is the prior history needed before scaling applies.
	MinSamplesForScaling = 4
	// MaxPredictionDays caps scaled harvest estimates for plants that have
	// all but stopped growing.
	MaxPredictionDays = 3650

	healthPenalty = 10.0
	healthFloor   = 50.0
	healthBonus   = 5.0
	healthCap     = 100.0
)

// DefaultRates returns expected daily growth in cm per stage.
func DefaultRates() map[domain.GrowthStage]float64 {
	return map[domain.GrowthStage]float64{
		domain.StageSeedling:   0.5,
		domain.StageVegetative: 2.0,
		domain.StageFlowering:  0.3,
	}
}

// DefaultDurations returns expected days spent in each pre-harvest stage.
func DefaultDurations() map[domain.GrowthStage]int {
	return map[domain.GrowthStage]int{
		domain.StageSeed:        3,
		domain.StageGermination: 7,
		domain.StageSeedling:    14,
		domain.StageVegetative:  30,
		domain.StageFlowering:   60,
	}
}

// Subject is the caller-supplied snapshot of the measured plant.
type Subject struct {
	ID          string
	Stage       domain.GrowthStage
	HealthScore float64
	PlantedAt   time.Time
}

// SubjectOf snapshots a plant for measurement.
func SubjectOf(p domain.Plant) Subject {
	return Subject{ID: p.ID, Stage: p.Stage, HealthScore: p.HealthScore, PlantedAt: p.PlantedAt}
}

// Summary aggregates a plant's measurement history.
type Summary struct {
	PlantID            string     `json:"plant_id"`
	TotalMeasurements  int        `json:"total_measurements"`
	CurrentHeight      float64    `json:"current_height"`
	HeightGained       float64    `json:"height_gained"`
	AverageGrowthRate  float64    `json:"average_growth_rate"`
	CurrentHealthScore float64    `json:"current_health_score"`
	PredictedHarvest   *time.Time `json:"predicted_harvest,omitempty"`
}

// Tracker keeps per-plant growth histories.
type Tracker struct {
	mu        sync.RWMutex
	rates     map[domain.GrowthStage]float64
	durations map[domain.GrowthStage]int
	history   map[string][]domain.GrowthSample
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRates replaces the expected rate table.
func WithRates(rates map[domain.GrowthStage]float64) Option {
	return func(t *Tracker) { t.rates = maps.Clone(rates) }
}

// WithDurations replaces the stage duration table.
func WithDurations(durations map[domain.GrowthStage]int) Option {
	return func(t *Tracker) { t.durations = maps.Clone(durations) }
}

// NewTracker constructs a Tracker with the default tables.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		rates:     DefaultRates(),
		durations: DefaultDurations(),
		history:   make(map[string][]domain.GrowthSample),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ExpectedRate returns the expected daily growth for stage.
func (t *Tracker) ExpectedRate(stage domain.GrowthStage) float64 {
	if r, ok := t.rates[stage]; ok {
		return r
	}
	return DefaultRate
}

// RemainingDays sums the expected durations from stage up to harvest.
func (t *Tracker) RemainingDays(stage domain.GrowthStage) int {
	idx := stage.Index()
	if idx < 0 {
		return 0
	}
	days := 0
	for _, s := range domain.Stages()[idx:] {
		if s == domain.StageHarvest {
			break
		}
		days += t.durations[s]
	}
	return days
}

// Measure computes the sample a measurement would produce without
// recording it. Pair with Commit to record once dependent work succeeds.
func (t *Tracker) Measure(subject Subject, height float64, leafCount *int) (domain.GrowthSample, error) {
	if err := checkMeasurement(subject, height, leafCount); err != nil {
		return domain.GrowthSample{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.measureLocked(subject, height, leafCount), nil
}

// RecordMeasurement derives the growth rate against the previous sample,
// adjusts health, predicts the harvest date and appends the sample.
func (t *Tracker) RecordMeasurement(subject Subject, height float64, leafCount *int) (domain.GrowthSample, error) {
	if err := checkMeasurement(subject, height, leafCount); err != nil {
		return domain.GrowthSample{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	sample := t.measureLocked(subject, height, leafCount)
	t.history[subject.ID] = append(t.history[subject.ID], sample)
	return cloneSample(sample), nil
}

// Commit appends a sample produced by Measure to its plant's history.
func (t *Tracker) Commit(sample domain.GrowthSample) {
	t.mu.Lock()
	t.history[sample.PlantID] = append(t.history[sample.PlantID], cloneSample(sample))
	t.mu.Unlock()
}

func (t *Tracker) measureLocked(subject Subject, height float64, leafCount *int) domain.GrowthSample {
	now := t.now()
	prior := t.history[subject.ID]

	var rate *float64
	if n := len(prior); n > 0 {
		last := prior[n-1]
		elapsedDays := now.Sub(last.ObservedAt).Hours() / 24
		if elapsedDays > 0 {
			r := (height - last.Height) / elapsedDays
			rate = &r
		}
	}

	health := subject.HealthScore
	if rate != nil {
		expected := t.ExpectedRate(subject.Stage)
		switch {
		case *rate < expected*0.5:
			health = max(healthFloor, health-healthPenalty)
		case *rate > expected*1.5:
			health = min(healthCap, health+healthBonus)
		}
	}

	predicted := t.predictHarvest(subject.Stage, prior, now)
	sample := domain.GrowthSample{
		PlantID:            subject.ID,
		ObservedAt:         now,
		Height:             height,
		HealthScore:        health,
		GrowthRate:         rate,
		PredictedHarvestAt: &predicted,
	}
	if leafCount != nil {
		n := *leafCount
		sample.LeafCount = &n
	}
	return sample
}

// predictHarvest scales the remaining stage days by expected/observed
// growth once enough history exists. Non-positive observed means leave the
// estimate unscaled; scaled estimates truncate to whole days and never
// exceed MaxPredictionDays.
func (t *Tracker) predictHarvest(stage domain.GrowthStage, prior []domain.GrowthSample, now time.Time) time.Time {
	remaining := t.RemainingDays(stage)
	if len(prior) >= MinSamplesForScaling {
		var rates []float64
		for _, s := range prior[max(0, len(prior)-RecentWindow):] {
			if s.GrowthRate != nil {
				rates = append(rates, *s.GrowthRate)
			}
		}
		if len(rates) > 0 {
			if mean := stat.Mean(rates, nil); mean > 0 {
				scaled := float64(remaining) * t.ExpectedRate(stage) / mean
				remaining = int(min(scaled, MaxPredictionDays))
			}
		}
	}
	return now.Add(time.Duration(remaining) * 24 * time.Hour)
}

// AnalyticsFor summarises a plant's history or reports domain.ErrNoData.
func (t *Tracker) AnalyticsFor(plantID string) (Summary, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.history[plantID]
	if len(h) == 0 {
		return Summary{}, fmt.Errorf("plant %s: %w", plantID, domain.ErrNoData)
	}
	first, last := h[0], h[len(h)-1]
	s := Summary{
		PlantID:            plantID,
		TotalMeasurements:  len(h),
		CurrentHeight:      last.Height,
		CurrentHealthScore: last.HealthScore,
	}
	if len(h) > 1 {
		s.HeightGained = last.Height - first.Height
	}
	var rates []float64
	for _, m := range h {
		if m.GrowthRate != nil {
			rates = append(rates, *m.GrowthRate)
		}
	}
	if len(rates) > 0 {
		s.AverageGrowthRate = stat.Mean(rates, nil)
	}
	if last.PredictedHarvestAt != nil {
		p := *last.PredictedHarvestAt
		s.PredictedHarvest = &p
	}
	return s, nil
}

// History returns copies of the plant's samples in recording order.
func (t *Tracker) History(plantID string) []domain.GrowthSample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := slices.Clone(t.history[plantID])
	for i := range out {
		out[i] = cloneSample(out[i])
	}
	return out
}

func checkMeasurement(subject Subject, height float64, leafCount *int) error {
	if subject.ID == "" {
		return fmt.Errorf("%w: plant id required", domain.ErrInvalidInput)
	}
	if !subject.Stage.Valid() {
		return fmt.Errorf("%w: unknown growth stage %q", domain.ErrInvalidInput, subject.Stage)
	}
	if err := domain.ValidateFinite("height", height); err != nil {
		return err
	}
	if height < 0 {
		return fmt.Errorf("%w: height must not be negative", domain.ErrInvalidInput)
	}
	if leafCount != nil && *leafCount < 0 {
		return fmt.Errorf("%w: leaf_count must not be negative", domain.ErrInvalidInput)
	}
	return domain.ValidateFinite("health_score", subject.HealthScore)
}

func cloneSample(s domain.GrowthSample) domain.GrowthSample {
	if s.LeafCount != nil {
		n := *s.LeafCount
		s.LeafCount = &n
	}
	if s.GrowthRate != nil {
		r := *s.GrowthRate
		s.GrowthRate = &r
	}
	if s.PredictedHarvestAt != nil {
		p := *s.PredictedHarvestAt
		s.PredictedHarvestAt = &p
	}
	return s
}
