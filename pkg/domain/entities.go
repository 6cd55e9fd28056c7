// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by growpod.
package domain

import (
	"slices"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityPod identifies a grow pod record.
	EntityPod EntityType = "pod"
	// EntityPlant identifies an individual plant record.
	EntityPlant EntityType = "plant"
)

// GrowthStage represents the ordered cultivation lifecycle of a plant.
type GrowthStage string

// Canonical growth stages, in lifecycle order.
const (
	StageSeed        GrowthStage = "seed"
	StageGermination GrowthStage = "germination"
	StageSeedling    GrowthStage = "seedling"
	StageVegetative  GrowthStage = "vegetative"
	StageFlowering   GrowthStage = "flowering"
	// StageHarvest is terminal; harvested plants leave their pod.
	StageHarvest GrowthStage = "harvest"
)

var stageOrder = []GrowthStage{
	StageSeed,
	StageGermination,
	StageSeedling,
	StageVegetative,
	StageFlowering,
	StageHarvest,
}

// Stages returns the growth stages in lifecycle order.
func Stages() []GrowthStage {
	return slices.Clone(stageOrder)
}

// Index reports the position of the stage in the lifecycle, or -1 when unknown.
func (s GrowthStage) Index() int {
	return slices.Index(stageOrder, s)
}

// Valid reports whether s is a canonical growth stage.
func (s GrowthStage) Valid() bool {
	return s.Index() >= 0
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Pod is a growing container holding up to Capacity plants.
type Pod struct {
	Base
	Name              string               `json:"name" validate:"required"`
	Capacity          int                  `json:"capacity" validate:"gt=0"`
	PlantIDs          []string             `json:"plant_ids"`
	CurrentConditions *EnvironmentalSample `json:"current_conditions,omitempty"`
	Active            bool                 `json:"active"`
}

// Occupancy returns the number of plants currently housed in the pod.
func (p Pod) Occupancy() int {
	return len(p.PlantIDs)
}

// Plant represents an individual plant tracked by the system.
type Plant struct {
	Base
	Strain      string         `json:"strain" validate:"required"`
	Stage       GrowthStage    `json:"stage"`
	PlantedAt   time.Time      `json:"planted_at"`
	PodID       string         `json:"pod_id" validate:"required"`
	Height      *float64       `json:"height,omitempty"`
	HealthScore float64        `json:"health_score" validate:"gte=0,lte=100"`
	Notes       string         `json:"notes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DefaultHealthScore is assigned to newly planted plants.
const DefaultHealthScore = 100.0

// EnvironmentalSample is a single reading of a pod's growing conditions.
type EnvironmentalSample struct {
	PodID          string    `json:"pod_id"`
	ObservedAt     time.Time `json:"observed_at"`
	Temperature    float64   `json:"temperature" validate:"finite"`
	Humidity       float64   `json:"humidity" validate:"finite"`
	CO2Level       float64   `json:"co2_level" validate:"finite"`
	LightIntensity float64   `json:"light_intensity" validate:"finite"`
	PHLevel        float64   `json:"ph_level" validate:"finite"`
}

// GrowthSample is a height measurement enriched with derived growth metrics.
type GrowthSample struct {
	PlantID            string     `json:"plant_id"`
	ObservedAt         time.Time  `json:"observed_at"`
	Height             float64    `json:"height"`
	LeafCount          *int       `json:"leaf_count,omitempty"`
	HealthScore        float64    `json:"health_score"`
	GrowthRate         *float64   `json:"growth_rate,omitempty"`
	PredictedHarvestAt *time.Time `json:"predicted_harvest_at,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// Blocks reports whether the named rule produced a blocking violation.
func (e RuleViolationError) Blocks(rule string) bool {
	for _, v := range e.Result.Violations {
		if v.Rule == rule && v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
