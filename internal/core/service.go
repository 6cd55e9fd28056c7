// Package core binds registry mutations to ledger appends and analytics.
// Every mutating operation runs in one registry transaction: analytics are
// computed first, the ledger append and analytics commit run as a
// before-commit hook, and the entity change becomes visible last. A
// mutation rejected by validation or rules never reaches the ledger.
package core

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"growpod/internal/environment"
	"growpod/internal/growth"
	"growpod/internal/infra/persistence/memory"
	"growpod/internal/ledger"
	"growpod/internal/logging"
	"growpod/pkg/domain"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type serviceOptions struct {
	clock   Clock
	logger  zerolog.Logger
	metrics MetricsRecorder
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  zerolog.Nop(),
		metrics: noopMetricsRecorder{},
	}
}

// Option customises a Service.
type Option func(*serviceOptions)

// WithClock overrides the time source. NewInMemoryService also hands it to
// the store, chain and analytics it builds.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logging.Component(logger, "service") }
}

// WithMetricsRecorder reports per-operation latency and outcome.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Service is the cultivation coordinator. It is safe for concurrent use;
// mutations are serialized by the registry transaction.
type Service struct {
	store  domain.PersistentStore
	chain  *ledger.Chain
	growth *growth.Tracker
	env    *environment.Monitor
	opts   serviceOptions
}

// NewService wires explicitly constructed components together.
func NewService(store domain.PersistentStore, chain *ledger.Chain, tracker *growth.Tracker, monitor *environment.Monitor, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{store: store, chain: chain, growth: tracker, env: monitor, opts: o}
}

// NewInMemoryService builds a volatile service with the default rules.
func NewInMemoryService(opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	now := o.clock.Now
	return NewService(
		memory.NewStore(NewDefaultRulesEngine(), memory.WithClock(now)),
		ledger.New(ledger.WithClock(now), ledger.WithLogger(o.logger)),
		growth.NewTracker(growth.WithClock(now)),
		environment.NewMonitor(environment.WithClock(now)),
		opts...,
	)
}

// Store returns the registry.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Chain returns the ledger.
func (s *Service) Chain() *ledger.Chain { return s.chain }

func (s *Service) observe(ctx context.Context, op string, started time.Time, err error) {
	s.opts.metrics.Observe(ctx, op, err == nil, time.Since(started))
	if err != nil {
		s.opts.logger.Debug().Err(err).Str("op", op).Msg("operation failed")
	}
}

func (s *Service) logResult(op string, res domain.Result) {
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.opts.logger.Warn().
			Str("op", op).
			Str("rule", v.Rule).
			Str("entity_id", v.EntityID).
			Msg(v.Message)
	}
}

// CreatePod registers an active pod. An empty id is assigned by the store.
func (s *Service) CreatePod(ctx context.Context, id, name string, capacity int) (created domain.Pod, res domain.Result, err error) {
	defer func(start time.Time) { s.observe(ctx, "create_pod", start, err) }(time.Now())
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreatePod(domain.Pod{
			Base:     domain.Base{ID: id},
			Name:     name,
			Capacity: capacity,
			Active:   true,
		})
		return err
	})
	if err != nil {
		return domain.Pod{}, res, err
	}
	s.logResult("create_pod", res)
	s.opts.logger.Debug().Str("pod_id", created.ID).Int("capacity", created.Capacity).Msg("pod created")
	return created, res, nil
}

// SetPodActive toggles whether a pod is in service.
func (s *Service) SetPodActive(ctx context.Context, id string, active bool) (pod domain.Pod, err error) {
	defer func(start time.Time) { s.observe(ctx, "set_pod_active", start, err) }(time.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		pod, err = tx.UpdatePod(id, func(p *domain.Pod) error {
			p.Active = active
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Pod{}, err
	}
	return pod, nil
}

// GetPod returns the pod or domain.ErrNotFound.
func (s *Service) GetPod(id string) (domain.Pod, error) {
	pod, ok := s.store.GetPod(id)
	if !ok {
		return domain.Pod{}, domain.ErrNotFound{Entity: domain.EntityPod, ID: id}
	}
	return pod, nil
}

// ListPods returns every pod.
func (s *Service) ListPods() []domain.Pod {
	return s.store.ListPods()
}

// GetPlant returns the plant or domain.ErrNotFound.
func (s *Service) GetPlant(id string) (domain.Plant, error) {
	plant, ok := s.store.GetPlant(id)
	if !ok {
		return domain.Plant{}, domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
	}
	return plant, nil
}

// ListPlants returns every plant, or only those in podID when it is set.
func (s *Service) ListPlants(podID string) []domain.Plant {
	plants := s.store.ListPlants()
	if podID == "" {
		return plants
	}
	return slices.DeleteFunc(plants, func(p domain.Plant) bool { return p.PodID != podID })
}

// AddPlant plants strain in podID. An empty id is assigned by the store.
// Full pods are rejected by the pod_capacity rule.
func (s *Service) AddPlant(ctx context.Context, id, strain, podID string) (plant domain.Plant, res domain.Result, err error) {
	defer func(start time.Time) { s.observe(ctx, "add_plant", start, err) }(time.Now())
	res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindPod(podID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPod, ID: podID}
		}
		var err error
		plant, err = tx.CreatePlant(domain.Plant{
			Base:        domain.Base{ID: id},
			Strain:      strain,
			Stage:       domain.StageSeed,
			PlantedAt:   s.opts.clock.Now(),
			PodID:       podID,
			HealthScore: domain.DefaultHealthScore,
		})
		if err != nil {
			return err
		}
		if _, err = tx.UpdatePod(podID, func(p *domain.Pod) error {
			p.PlantIDs = append(p.PlantIDs, plant.ID)
			return nil
		}); err != nil {
			return err
		}
		tx.BeforeCommit(func() error {
			_, err := s.chain.RecordPlantData(ctx, plant.ID, map[string]any{
				"action": "planted",
				"strain": strain,
				"pod_id": podID,
			})
			return err
		})
		return nil
	})
	if err != nil {
		return domain.Plant{}, res, err
	}
	s.logResult("add_plant", res)
	s.opts.logger.Debug().Str("plant_id", plant.ID).Str("pod_id", podID).Str("strain", strain).Msg("plant added")
	return plant, res, nil
}

// UpdatePlantStage moves a plant to stage and records the transition.
func (s *Service) UpdatePlantStage(ctx context.Context, id string, stage domain.GrowthStage) (plant domain.Plant, err error) {
	defer func(start time.Time) { s.observe(ctx, "update_plant_stage", start, err) }(time.Now())
	if !stage.Valid() {
		return domain.Plant{}, fmt.Errorf("%w: unknown growth stage %q", domain.ErrInvalidInput, stage)
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var old domain.GrowthStage
		var err error
		plant, err = tx.UpdatePlant(id, func(p *domain.Plant) error {
			old = p.Stage
			p.Stage = stage
			return nil
		})
		if err != nil {
			return err
		}
		tx.BeforeCommit(func() error {
			_, err := s.chain.RecordPlantData(ctx, id, map[string]any{
				"action":    "stage_change",
				"old_stage": string(old),
				"new_stage": string(stage),
			})
			return err
		})
		return nil
	})
	if err != nil {
		return domain.Plant{}, err
	}
	s.opts.logger.Debug().Str("plant_id", id).Str("stage", string(stage)).Msg("stage changed")
	return plant, nil
}

// RecordGrowth measures a plant, updates its height and health score and
// records the measurement.
func (s *Service) RecordGrowth(ctx context.Context, id string, height float64, leafCount *int) (sample domain.GrowthSample, err error) {
	defer func(start time.Time) { s.observe(ctx, "record_growth", start, err) }(time.Now())
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		plant, ok := tx.FindPlant(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
		}
		var err error
		sample, err = s.growth.Measure(growth.SubjectOf(plant), height, leafCount)
		if err != nil {
			return err
		}
		if _, err = tx.UpdatePlant(id, func(p *domain.Plant) error {
			h := height
			p.Height = &h
			p.HealthScore = sample.HealthScore
			return nil
		}); err != nil {
			return err
		}
		tx.BeforeCommit(func() error {
			if _, err := s.chain.RecordPlantData(ctx, id, map[string]any{
				"action":       "growth_measurement",
				"height":       height,
				"health_score": sample.HealthScore,
				"growth_rate":  sample.GrowthRate,
			}); err != nil {
				return err
			}
			s.growth.Commit(sample)
			return nil
		})
		return nil
	})
	if err != nil {
		return domain.GrowthSample{}, err
	}
	return sample, nil
}

// RecordEnvironment grades a pod's conditions, stores them as the pod's
// current conditions and records them.
func (s *Service) RecordEnvironment(ctx context.Context, podID string, sample domain.EnvironmentalSample) (result environment.RecordResult, err error) {
	defer func(start time.Time) { s.observe(ctx, "record_environment", start, err) }(time.Now())
	var checked domain.EnvironmentalSample
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindPod(podID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityPod, ID: podID}
		}
		var err error
		checked, err = s.env.Check(podID, sample)
		if err != nil {
			return err
		}
		if _, err = tx.UpdatePod(podID, func(p *domain.Pod) error {
			c := checked
			p.CurrentConditions = &c
			return nil
		}); err != nil {
			return err
		}
		tx.BeforeCommit(func() error {
			if _, err := s.chain.RecordEnvironmentalData(ctx, podID, checked); err != nil {
				return err
			}
			s.env.Commit(checked)
			return nil
		})
		return nil
	})
	if err != nil {
		return environment.RecordResult{}, err
	}
	result = environment.RecordResult{
		Recorded:   true,
		ObservedAt: checked.ObservedAt,
		Analysis:   s.env.Classify(checked),
		Alerts:     s.env.Alerts(checked),
	}
	if len(result.Alerts) > 0 {
		s.opts.logger.Warn().Str("pod_id", podID).Strs("alerts", result.Alerts).Msg("environment out of range")
	}
	return result, nil
}

// HarvestReceipt describes a recorded harvest and the block holding it.
type HarvestReceipt struct {
	PlantID       string       `json:"plant_id"`
	Strain        string       `json:"strain"`
	HarvestDate   time.Time    `json:"harvest_date"`
	YieldAmount   float64      `json:"yield_amount"`
	QualityScore  float64      `json:"quality_score"`
	DaysToHarvest int          `json:"days_to_harvest"`
	Block         ledger.Block `json:"blockchain_record"`
}

// RecordHarvest closes out a plant: its stage becomes harvest, it leaves
// its pod and the harvest is recorded. Harvesting twice is rejected.
func (s *Service) RecordHarvest(ctx context.Context, id string, yieldAmount, qualityScore float64) (receipt HarvestReceipt, err error) {
	defer func(start time.Time) { s.observe(ctx, "record_harvest", start, err) }(time.Now())
	if err := domain.ValidateFinite("yield_amount", yieldAmount); err != nil {
		return HarvestReceipt{}, err
	}
	if err := domain.ValidateFinite("quality_score", qualityScore); err != nil {
		return HarvestReceipt{}, err
	}
	if yieldAmount < 0 {
		return HarvestReceipt{}, fmt.Errorf("%w: yield_amount must not be negative", domain.ErrInvalidInput)
	}
	_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		plant, ok := tx.FindPlant(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
		}
		if plant.Stage == domain.StageHarvest {
			return fmt.Errorf("%w: plant %s already harvested", domain.ErrInvalidInput, id)
		}
		now := s.opts.clock.Now()
		receipt = HarvestReceipt{
			PlantID:       id,
			Strain:        plant.Strain,
			HarvestDate:   now,
			YieldAmount:   yieldAmount,
			QualityScore:  qualityScore,
			DaysToHarvest: int(math.Floor(now.Sub(plant.PlantedAt).Hours() / 24)),
		}
		if _, err := tx.UpdatePlant(id, func(p *domain.Plant) error {
			p.Stage = domain.StageHarvest
			return nil
		}); err != nil {
			return err
		}
		if _, ok := tx.FindPod(plant.PodID); ok {
			if _, err := tx.UpdatePod(plant.PodID, func(p *domain.Pod) error {
				p.PlantIDs = slices.DeleteFunc(p.PlantIDs, func(pid string) bool { return pid == id })
				return nil
			}); err != nil {
				return err
			}
		}
		tx.BeforeCommit(func() error {
			block, err := s.chain.RecordHarvest(ctx, id, map[string]any{
				"plant_id":        receipt.PlantID,
				"strain":          receipt.Strain,
				"harvest_date":    receipt.HarvestDate,
				"yield_amount":    receipt.YieldAmount,
				"quality_score":   receipt.QualityScore,
				"days_to_harvest": receipt.DaysToHarvest,
			})
			receipt.Block = block
			return err
		})
		return nil
	})
	if err != nil {
		return HarvestReceipt{}, err
	}
	s.opts.logger.Info().Str("plant_id", id).Float64("yield", yieldAmount).Int("days", receipt.DaysToHarvest).Msg("harvest recorded")
	return receipt, nil
}

// GrowthAnalytics summarises a plant's measurements.
func (s *Service) GrowthAnalytics(id string) (growth.Summary, error) {
	if _, ok := s.store.GetPlant(id); !ok {
		return growth.Summary{}, domain.ErrNotFound{Entity: domain.EntityPlant, ID: id}
	}
	return s.growth.AnalyticsFor(id)
}

// EnvironmentAnalytics summarises a pod's conditions over the last hours.
func (s *Service) EnvironmentAnalytics(podID string, hours int) (environment.Stats, error) {
	if _, ok := s.store.GetPod(podID); !ok {
		return environment.Stats{}, domain.ErrNotFound{Entity: domain.EntityPod, ID: podID}
	}
	return s.env.WindowedStats(podID, hours)
}

// LedgerInfo describes the chain tail.
func (s *Service) LedgerInfo() ledger.Info {
	return s.chain.Info()
}

// PlantHistory returns every block recorded for the plant, in chain order.
func (s *Service) PlantHistory(id string) []ledger.Block {
	return s.chain.RecordsFor(id)
}

// VerifyIntegrity re-verifies the whole chain. A failed verification is
// reported and logged, never returned as an error.
func (s *Service) VerifyIntegrity(ctx context.Context) ledger.Report {
	started := time.Now()
	report := s.chain.VerifyReport()
	s.opts.metrics.Observe(ctx, "verify_integrity", report.Valid, time.Since(started))
	if !report.Valid {
		s.opts.logger.Error().
			Int("block", report.FailedAt).
			Str("reason", report.Reason).
			Msg("ledger integrity compromised")
	}
	return report
}

// SystemStats summarises the registry and ledger.
type SystemStats struct {
	TotalPods     int                        `json:"total_pods"`
	ActivePods    int                        `json:"active_pods"`
	TotalPlants   int                        `json:"total_plants"`
	ActivePlants  int                        `json:"active_plants"`
	PlantsByStage map[domain.GrowthStage]int `json:"plants_by_stage"`
	Ledger        ledger.Info                `json:"blockchain"`
	DataIntegrity bool                       `json:"data_integrity"`
}

// SystemStats counts pods and plants. Harvested plants are excluded from
// the active and per-stage counts.
func (s *Service) SystemStats(ctx context.Context) SystemStats {
	var stats SystemStats
	_ = s.store.View(ctx, func(v domain.TransactionView) error {
		pods := v.ListPods()
		plants := v.ListPlants()
		stats.TotalPods = len(pods)
		stats.TotalPlants = len(plants)
		for _, p := range pods {
			if p.Active {
				stats.ActivePods++
			}
		}
		stats.PlantsByStage = make(map[domain.GrowthStage]int, len(domain.Stages()))
		for _, stage := range domain.Stages() {
			stats.PlantsByStage[stage] = 0
		}
		for _, p := range plants {
			if p.Stage == domain.StageHarvest {
				continue
			}
			stats.ActivePlants++
			stats.PlantsByStage[p.Stage]++
		}
		return nil
	})
	stats.Ledger = s.chain.Info()
	stats.DataIntegrity = stats.Ledger.IsValid
	return stats
}
