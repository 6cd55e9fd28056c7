package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"growpod/pkg/domain"
)

func TestBlockHashIsDeterministic(t *testing.T) {
	at := time.Date(2026, time.April, 2, 12, 30, 0, 0, time.UTC)

	first := map[string]any{}
	first["strain"] = "Northern Lights"
	first["pod_id"] = "pod-7"
	first["action"] = "planted"

	second := map[string]any{}
	second["action"] = "planted"
	second["pod_id"] = "pod-7"
	second["strain"] = "Northern Lights"

	p1, err := Payload{Kind: KindPlantData, SubjectID: "plant-1", RecordedAt: at, Data: first}.normalize()
	require.NoError(t, err)
	p2, err := Payload{Kind: KindPlantData, SubjectID: "plant-1", RecordedAt: at, Data: second}.normalize()
	require.NoError(t, err)

	b1 := newBlock(4, at, p1, "abc")
	b2 := newBlock(4, at, p2, "abc")
	require.Equal(t, b1.Hash, b2.Hash)
	require.Len(t, b1.Hash, 64)

	b3 := newBlock(5, at, p1, "abc")
	require.NotEqual(t, b1.Hash, b3.Hash, "sequence number is covered by the hash")
	b4 := newBlock(4, at, p1, "abd")
	require.NotEqual(t, b1.Hash, b4.Hash, "previous hash is covered by the hash")
	b5 := newBlock(4, at.Add(time.Nanosecond), p1, "abc")
	require.NotEqual(t, b1.Hash, b5.Hash, "timestamp is covered by the hash")
}

func TestTimestampsCanonicalizeAcrossZones(t *testing.T) {
	utc := time.Date(2026, time.April, 2, 12, 30, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("PDT", -7*3600))

	a, err := canonicalize(map[string]any{"at": utc})
	require.NoError(t, err)
	b, err := canonicalize(map[string]any{"at": local})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, "2026-04-02T12:30:00.000000000Z", a.(map[string]any)["at"])
}

func TestStructTimestampsCanonicalizeAcrossZones(t *testing.T) {
	utc := time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)
	sample := domain.EnvironmentalSample{PodID: "pod-1", ObservedAt: utc, Temperature: 24, PHLevel: 6.5}
	shifted := sample
	shifted.ObservedAt = utc.In(time.FixedZone("CET", 3600))

	a, err := canonicalize(sample)
	require.NoError(t, err)
	b, err := canonicalize(shifted)
	require.NoError(t, err)
	require.Equal(t, a, b)
	fields := a.(map[string]any)
	require.Equal(t, "2026-06-01T09:00:00.000000000Z", fields["observed_at"])
	require.Equal(t, "pod-1", fields["pod_id"])
	require.Equal(t, 24.0, fields["temperature"])

	type tagged struct {
		Kept    string     `json:"kept"`
		Skipped string     `json:"-"`
		Empty   string     `json:"empty,omitempty"`
		At      *time.Time `json:"at,omitempty"`
		hidden  int
	}
	got, err := canonicalize(tagged{Kept: "x", Skipped: "y", At: &shifted.ObservedAt, hidden: 1})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"kept": "x", "at": "2026-06-01T09:00:00.000000000Z"}, got)
}

func TestCanonicalizeNormalizesNumbersAndCollections(t *testing.T) {
	type reading struct {
		Height float64 `json:"height"`
		Leaves int     `json:"leaves"`
	}
	height := 12.5
	got, err := canonicalize(map[string]any{
		"int":      7,
		"uint":     uint8(3),
		"ptr":      &height,
		"nilptr":   (*float64)(nil),
		"labels":   map[string]string{"b": "2", "a": "1"},
		"readings": []reading{{Height: 1.5, Leaves: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"int":      7.0,
		"uint":     3.0,
		"ptr":      12.5,
		"nilptr":   nil,
		"labels":   map[string]any{"a": "1", "b": "2"},
		"readings": []any{map[string]any{"height": 1.5, "leaves": 4.0}},
	}, got)

	encoded, err := encodeCanonical(map[string]any{"b": 1.0, "a": []any{"<x>"}})
	require.NoError(t, err)
	require.Equal(t, `{"a":["<x>"],"b":1}`, string(encoded))
}

func TestCanonicalizeRejectsUnsupportedKeys(t *testing.T) {
	_, err := canonicalize(map[int]string{1: "a"})
	require.Error(t, err)
}
