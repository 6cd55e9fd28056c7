package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"growpod/pkg/domain"
)

type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC), step: time.Second}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func plantPayload(id string, height float64) Payload {
	return Payload{
		Kind:      KindPlantData,
		SubjectID: id,
		Data:      map[string]any{"action": "growth_measurement", "height": height},
	}
}

func TestNewChainHoldsOnlyGenesis(t *testing.T) {
	c := New()

	require.Equal(t, 1, c.Len())
	genesis := c.Latest()
	require.True(t, genesis.IsGenesis())
	require.Equal(t, GenesisPreviousHash, genesis.PreviousHash)
	require.Equal(t, uint64(0), genesis.Number)
	require.True(t, genesis.Sealed())
	require.True(t, c.Verify())
	require.Empty(t, c.RecordsOfType(KindGenesis), "genesis is excluded from record queries")
}

func TestAppendLinksEveryBlock(t *testing.T) {
	ctx := context.Background()
	c := New(WithClock(newStepClock().Now))

	const n = 25
	for i := range n {
		b, err := c.Append(ctx, plantPayload(fmt.Sprintf("plant-%d", i%3), float64(i)))
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), b.Number)
	}

	blocks := c.Blocks()
	require.Len(t, blocks, n+1)
	for i := 1; i < len(blocks); i++ {
		require.Equal(t, blocks[i-1].Hash, blocks[i].PreviousHash)
		require.True(t, blocks[i].Sealed())
	}
	require.True(t, c.Verify())
	require.Equal(t, Report{Valid: true, Blocks: n + 1, FailedAt: -1}, c.VerifyReport())
}

func TestTamperedPayloadFailsVerification(t *testing.T) {
	ctx := context.Background()
	c := New(WithClock(newStepClock().Now))
	for i := range 3 {
		_, err := c.Append(ctx, plantPayload("plant-1", float64(10+i)))
		require.NoError(t, err)
	}
	require.True(t, c.Verify())

	data := c.blocks[2].Payload.Data.(map[string]any)
	data["height"] = 99.0

	require.False(t, c.Verify())
	report := c.VerifyReport()
	require.False(t, report.Valid)
	require.Equal(t, 2, report.FailedAt)
	require.Contains(t, report.Reason, "hash mismatch")
	require.False(t, c.Info().IsValid)
}

func TestTamperedLinkFailsVerification(t *testing.T) {
	ctx := context.Background()
	c := New(WithClock(newStepClock().Now))
	for range 3 {
		_, err := c.Append(ctx, plantPayload("plant-1", 1))
		require.NoError(t, err)
	}

	// Re-sealing a rewritten block keeps its own hash consistent but
	// breaks the successor's link.
	rewritten := c.blocks[1]
	rewritten.Payload.SubjectID = "plant-2"
	rewritten.Hash = rewritten.ComputeHash()
	c.blocks[1] = rewritten

	report := c.VerifyReport()
	require.False(t, report.Valid)
	require.Equal(t, 2, report.FailedAt)
	require.Contains(t, report.Reason, "does not link")
}

func TestConcurrentAppendsStayLinked(t *testing.T) {
	ctx := context.Background()
	c := New()

	const writers, perWriter = 32, 8
	var g errgroup.Group
	for w := range writers {
		g.Go(func() error {
			for i := range perWriter {
				if _, err := c.Append(ctx, plantPayload(fmt.Sprintf("plant-%d", w), float64(i))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	blocks := c.Blocks()
	require.Len(t, blocks, writers*perWriter+1)
	seen := make(map[uint64]bool, len(blocks))
	for i, b := range blocks {
		require.Equal(t, uint64(i), b.Number)
		require.False(t, seen[b.Number], "duplicate block number %d", b.Number)
		seen[b.Number] = true
	}
	require.True(t, c.Verify())
}

func TestAppendRejectsInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	c := New()

	cases := map[string]Payload{
		"nan":          {Kind: KindPlantData, SubjectID: "p", Data: map[string]any{"height": math.NaN()}},
		"inf nested":   {Kind: KindPlantData, SubjectID: "p", Data: map[string]any{"readings": []any{1.0, math.Inf(-1)}}},
		"missing kind": {SubjectID: "p", Data: map[string]any{"height": 1.0}},
		"genesis kind": {Kind: KindGenesis, Data: "again"},
		"channel":      {Kind: KindPlantData, SubjectID: "p", Data: map[string]any{"ch": make(chan int)}},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Append(ctx, payload)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
	require.Equal(t, 1, c.Len())
}

func TestRecordQueries(t *testing.T) {
	ctx := context.Background()
	c := New(WithClock(newStepClock().Now))

	_, err := c.RecordPlantData(ctx, "plant-1", map[string]any{"action": "planted", "strain": "Blue Dream", "pod_id": "pod-1"})
	require.NoError(t, err)
	_, err = c.RecordEnvironmentalData(ctx, "pod-1", map[string]any{"temperature": 24.0})
	require.NoError(t, err)
	_, err = c.RecordPlantData(ctx, "plant-2", map[string]any{"action": "planted"})
	require.NoError(t, err)
	_, err = c.RecordHarvest(ctx, "plant-1", map[string]any{"yield_amount": 120.5})
	require.NoError(t, err)

	forPlant := c.RecordsFor("plant-1")
	require.Len(t, forPlant, 2)
	require.Equal(t, uint64(1), forPlant[0].Number)
	require.Equal(t, uint64(4), forPlant[1].Number)
	require.Equal(t, KindHarvest, forPlant[1].Payload.Kind)

	plantData := c.RecordsOfType(KindPlantData)
	require.Len(t, plantData, 2)
	require.Equal(t, "plant-2", plantData[1].Payload.SubjectID)

	require.Empty(t, c.RecordsFor("unknown"))
}

func TestInfoDescribesTail(t *testing.T) {
	ctx := context.Background()
	c := New(WithClock(newStepClock().Now))
	b, err := c.RecordPlantData(ctx, "plant-1", map[string]any{"action": "planted"})
	require.NoError(t, err)

	info := c.Info()
	require.Equal(t, 2, info.TotalBlocks)
	require.True(t, info.IsValid)
	require.Equal(t, b.Number, info.LatestBlockNumber)
	require.Equal(t, b.Hash, info.LatestHash)
	require.True(t, b.CreatedAt.Equal(info.LatestTimestamp))
}

func TestReturnedBlocksAreCopies(t *testing.T) {
	ctx := context.Background()
	c := New()
	b, err := c.RecordPlantData(ctx, "plant-1", map[string]any{"height": 3.0})
	require.NoError(t, err)

	b.Payload.Data.(map[string]any)["height"] = 50.0
	c.Blocks()[1].Payload.Data.(map[string]any)["height"] = 60.0
	c.RecordsFor("plant-1")[0].Payload.Data.(map[string]any)["height"] = 70.0

	v, ok := c.Latest().Payload.Field("height")
	require.True(t, ok)
	require.Equal(t, 3.0, v)
	require.True(t, c.Verify())
}

type jsonStore struct {
	rows [][]byte
	fail error
}

func (s *jsonStore) AppendBlock(_ context.Context, b Block) error {
	if s.fail != nil {
		return s.fail
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.rows = append(s.rows, raw)
	return nil
}

func (s *jsonStore) LoadBlocks(context.Context) ([]Block, error) {
	out := make([]Block, 0, len(s.rows))
	for _, raw := range s.rows {
		var b Block
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func TestOpenRoundTripsThroughStore(t *testing.T) {
	ctx := context.Background()
	store := &jsonStore{}

	c, err := Open(ctx, store, WithClock(newStepClock().Now))
	require.NoError(t, err)
	require.Len(t, store.rows, 1, "genesis persisted on first open")

	planted := time.Date(2026, time.February, 3, 4, 5, 6, 789, time.FixedZone("CET", 3600))
	_, err = c.RecordPlantData(ctx, "plant-1", map[string]any{
		"action":     "planted",
		"planted_at": planted,
		"tags":       []string{"indica", "auto"},
		"count":      3,
	})
	require.NoError(t, err)
	_, err = c.RecordEnvironmentalData(ctx, "pod-1", domain.EnvironmentalSample{PodID: "pod-1", ObservedAt: planted, Temperature: 23.5, Humidity: 48, CO2Level: 900, LightIntensity: 550, PHLevel: 6.4})
	require.NoError(t, err)

	reopened, err := Open(ctx, store)
	require.NoError(t, err)
	require.Equal(t, c.Len(), reopened.Len())
	require.True(t, reopened.Verify())
	require.Equal(t, c.Latest().Hash, reopened.Latest().Hash)

	b, err := reopened.RecordHarvest(ctx, "plant-1", map[string]any{"yield_amount": 10.0})
	require.NoError(t, err)
	require.Equal(t, uint64(3), b.Number)
	require.True(t, reopened.Verify())
}

func TestAppendFailsWhenStoreFails(t *testing.T) {
	ctx := context.Background()
	store := &jsonStore{}
	c, err := Open(ctx, store)
	require.NoError(t, err)

	store.fail = fmt.Errorf("disk full")
	_, err = c.RecordPlantData(ctx, "plant-1", map[string]any{"action": "planted"})
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, 1, c.Len(), "failed persistence must not publish the block")
}

func TestOpenRejectsOutOfSequenceStore(t *testing.T) {
	ctx := context.Background()
	store := &jsonStore{}
	c, err := Open(ctx, store)
	require.NoError(t, err)
	_, err = c.RecordPlantData(ctx, "plant-1", map[string]any{"action": "planted"})
	require.NoError(t, err)

	store.rows = store.rows[1:]
	_, err = Open(ctx, store)
	require.ErrorContains(t, err, "out of sequence")
}

func TestLoadNeverWrites(t *testing.T) {
	ctx := context.Background()
	store := &jsonStore{}

	_, err := Load(ctx, store)
	require.ErrorIs(t, err, ErrEmptyStore)
	require.Empty(t, store.rows)
	_, err = Load(ctx, nil)
	require.ErrorIs(t, err, ErrEmptyStore)

	c, err := Open(ctx, store)
	require.NoError(t, err)
	_, err = c.RecordPlantData(ctx, "plant-1", map[string]any{"action": "planted"})
	require.NoError(t, err)

	loaded, err := Load(ctx, store)
	require.NoError(t, err)
	require.Equal(t, c.Latest().Hash, loaded.Latest().Hash)
	require.True(t, loaded.Verify())

	_, err = loaded.RecordPlantData(ctx, "plant-2", map[string]any{"action": "planted"})
	require.NoError(t, err)
	require.Len(t, store.rows, 2, "a loaded chain is detached from its store")

	store.rows = store.rows[1:]
	_, err = Load(ctx, store)
	require.ErrorContains(t, err, "out of sequence")
}

func TestWithLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	_, err := c.RecordPlantData(context.Background(), "plant-1", map[string]any{"action": "planted"})
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event))
	require.Equal(t, "ledger", event["component"])
	require.Equal(t, "block appended", event["message"])
}
