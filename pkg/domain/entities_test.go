package domain

import (
	"errors"
	"math"
	"testing"
)

func TestGrowthStageOrder(t *testing.T) {
	stages := Stages()
	if len(stages) != 6 || stages[0] != StageSeed || stages[len(stages)-1] != StageHarvest {
		t.Fatalf("unexpected stage order %v", stages)
	}
	for i, stage := range stages {
		if stage.Index() != i {
			t.Fatalf("stage %s: index %d, want %d", stage, stage.Index(), i)
		}
	}
	if GrowthStage("sprout").Valid() {
		t.Fatalf("expected unknown stage to be invalid")
	}
	stages[0] = "mutated"
	if Stages()[0] != StageSeed {
		t.Fatalf("Stages must return a copy")
	}
}

func TestValidateRejectsNonFiniteSample(t *testing.T) {
	sample := EnvironmentalSample{Temperature: math.NaN(), Humidity: 50, CO2Level: 900, LightIntensity: 500, PHLevel: 6.5}
	err := Validate(sample)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	sample.Temperature = 22
	if err := Validate(sample); err != nil {
		t.Fatalf("unexpected error for finite sample: %v", err)
	}
	sample.PHLevel = math.Inf(1)
	if err := Validate(sample); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for +Inf, got %v", err)
	}
}

func TestValidatePodCapacity(t *testing.T) {
	if err := Validate(Pod{Name: "Pod A", Capacity: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected capacity validation failure, got %v", err)
	}
	if err := Validate(Pod{Name: "Pod A", Capacity: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestErrNotFound(t *testing.T) {
	err := error(ErrNotFound{Entity: EntityPlant, ID: "p-1"})
	if err.Error() != "plant p-1 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound")
	}
	if IsNotFound(ErrNoData) {
		t.Fatalf("ErrNoData is not a not-found error")
	}
}
