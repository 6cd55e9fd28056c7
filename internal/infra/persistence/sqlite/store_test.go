package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"growpod/internal/ledger"
	"growpod/pkg/domain"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "growpod.db")
	s := openStore(t, path)
	if s.Path() != path || s.DB() == nil {
		t.Fatalf("unexpected accessors")
	}

	var pod domain.Pod
	var plant domain.Plant
	if _, err := s.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		pod, err = tx.CreatePod(domain.Pod{Name: "Tent 1", Capacity: 2, Active: true})
		if err != nil {
			return err
		}
		plant, err = tx.CreatePlant(domain.Plant{Strain: "Blue Dream", PodID: pod.ID, HealthScore: domain.DefaultHealthScore})
		if err != nil {
			return err
		}
		_, err = tx.UpdatePod(pod.ID, func(p *domain.Pod) error {
			p.PlantIDs = append(p.PlantIDs, plant.ID)
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = s.Close()

	reopened := openStore(t, path)
	got, ok := reopened.GetPod(pod.ID)
	if !ok {
		t.Fatalf("pod not restored")
	}
	if len(got.PlantIDs) != 1 || got.PlantIDs[0] != plant.ID {
		t.Fatalf("membership not restored: %v", got.PlantIDs)
	}
	restored, ok := reopened.GetPlant(plant.ID)
	if !ok || restored.Strain != "Blue Dream" || restored.Stage != domain.StageSeed {
		t.Fatalf("plant not restored: %+v", restored)
	}
}

func TestFailedTransactionIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "growpod.db")
	s := openStore(t, path)
	if _, err := s.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreatePod(domain.Pod{Name: "", Capacity: 1})
		return err
	}); err == nil {
		t.Fatalf("expected validation failure")
	}
	var count int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no snapshot rows, got %d", count)
	}
}

func TestLedgerBlocksRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "growpod.db")
	s := openStore(t, path)

	chain, err := ledger.Open(ctx, s)
	if err != nil {
		t.Fatalf("open chain: %v", err)
	}
	for _, h := range []float64{1.5, 3, 4.25} {
		if _, err := chain.RecordPlantData(ctx, "plant-1", map[string]any{"action": "growth_measurement", "height": h}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := chain.RecordEnvironmentalData(ctx, "pod-1", map[string]any{"temperature": 24.5}); err != nil {
		t.Fatalf("record env: %v", err)
	}
	_ = s.Close()

	reopened := openStore(t, path)
	blocks, err := reopened.LoadBlocks(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if b.Number != uint64(i) {
			t.Fatalf("block %d out of order: %d", i, b.Number)
		}
	}
	if report := ledger.VerifyBlocks(blocks); !report.Valid {
		t.Fatalf("reloaded blocks should verify: %+v", report)
	}

	again, err := ledger.Open(ctx, reopened)
	if err != nil {
		t.Fatalf("reopen chain: %v", err)
	}
	if again.Latest().Hash != chain.Latest().Hash {
		t.Fatalf("tail hash changed across reopen")
	}
}

func TestAppendBlockRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "growpod.db"))
	chain, err := ledger.Open(ctx, s)
	if err != nil {
		t.Fatalf("open chain: %v", err)
	}
	if err := s.AppendBlock(ctx, chain.Latest()); err == nil {
		t.Fatalf("expected duplicate genesis insert to fail")
	}
}
