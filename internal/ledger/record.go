package ledger

import (
	"fmt"
	"time"

	"growpod/pkg/domain"
)

// RecordKind declares what a block payload records.
type RecordKind string

// Record kinds written by the cultivation workflow.
const (
	KindGenesis           RecordKind = "genesis"
	KindPlantData         RecordKind = "plant_data"
	KindEnvironmentalData RecordKind = "environmental_data"
	KindHarvest           RecordKind = "harvest"
)

const genesisMarker = "GrowPod Genesis Block"

// GenesisPreviousHash is the previous-hash marker carried by block 0.
const GenesisPreviousHash = "0"

// Payload is the structured record stored in a block. SubjectID names the
// pod or plant the record is about.
type Payload struct {
	Kind       RecordKind `json:"type"`
	SubjectID  string     `json:"id,omitempty"`
	RecordedAt time.Time  `json:"timestamp"`
	Data       any        `json:"data"`
}

// normalize validates the payload and returns a copy whose Data is a
// canonical tree.
func (p Payload) normalize() (Payload, error) {
	if p.Kind == "" {
		return Payload{}, fmt.Errorf("%w: record kind required", domain.ErrInvalidInput)
	}
	if p.Kind == KindGenesis {
		return Payload{}, fmt.Errorf("%w: genesis records cannot be appended", domain.ErrInvalidInput)
	}
	data, err := canonicalize(p.Data)
	if err != nil {
		return Payload{}, fmt.Errorf("record %s for %q: %w", p.Kind, p.SubjectID, err)
	}
	p.Data = data
	if !p.RecordedAt.IsZero() {
		p.RecordedAt = p.RecordedAt.UTC()
	}
	return p, nil
}

// canonical returns the hashed representation of the payload.
func (p Payload) canonical() map[string]any {
	out := map[string]any{
		"type": string(p.Kind),
		"data": p.Data,
	}
	if p.SubjectID != "" {
		out["id"] = p.SubjectID
	}
	if !p.RecordedAt.IsZero() {
		out["timestamp"] = formatTimestamp(p.RecordedAt)
	}
	return out
}

func (p Payload) clone() Payload {
	p.Data = cloneValue(p.Data)
	return p
}

// Field returns a top-level data field when Data is an object.
func (p Payload) Field(name string) (any, bool) {
	m, ok := p.Data.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[name]
	return v, ok
}
