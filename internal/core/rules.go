package core

import (
	"context"
	"fmt"

	"growpod/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPodCapacityRule())
	engine.Register(NewInactivePodRule())
	return engine
}

// NewPodCapacityRule returns the blocking rule that keeps every pod within
// its plant capacity.
func NewPodCapacityRule() domain.Rule {
	return podCapacityRule{}
}

type podCapacityRule struct{}

func (podCapacityRule) Name() string { return "pod_capacity" }

func (podCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, pod := range view.ListPods() {
		if count := pod.Occupancy(); count > pod.Capacity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "pod_capacity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("pod %s (%s) is at full capacity: %d/%d plants", pod.Name, pod.ID, count, pod.Capacity),
				Entity:   domain.EntityPod,
				EntityID: pod.ID,
			})
		}
	}
	return res, nil
}

// NewInactivePodRule warns when a plant is placed in a pod marked inactive.
func NewInactivePodRule() domain.Rule {
	return inactivePodRule{}
}

type inactivePodRule struct{}

func (inactivePodRule) Name() string { return "inactive_pod" }

func (inactivePodRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPlant || change.Action != domain.ActionCreate {
			continue
		}
		plant, ok := change.After.(domain.Plant)
		if !ok {
			continue
		}
		if pod, found := view.FindPod(plant.PodID); found && !pod.Active {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "inactive_pod",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("plant %s placed in inactive pod %s", plant.ID, pod.ID),
				Entity:   domain.EntityPlant,
				EntityID: plant.ID,
			})
		}
	}
	return res, nil
}
