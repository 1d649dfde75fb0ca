package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spikenet/internal/model"
)

func TestDecodePopulationFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("minimal_population_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	population, err := DecodePopulation(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if population.ID != "population-minimal-1" {
		t.Fatalf("unexpected population id: %s", population.ID)
	}
	if len(population.Nets) != 1 || len(population.Nets[0].Cells) != 3 {
		t.Fatalf("unexpected population nets: %+v", population.Nets)
	}
	cell := population.Nets[0].Cells[2]
	if cell.RefractoryPeriod != 2 || len(cell.Links) != 1 || cell.Links[0].Target != 0 {
		t.Fatalf("unexpected cell: %+v", cell)
	}
	if cell.Control.RefractoryPeriodSpread != 2 || cell.Control.LinkSignFlipFreq != 0.01 {
		t.Fatalf("unexpected control: %+v", cell.Control)
	}
}

func TestDecodePopulationVersionMismatch(t *testing.T) {
	data, err := os.ReadFile(fixturePath("population_v0.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := DecodePopulation(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got=%v", err)
	}
}

func TestDecodePopulationRejectsStaleNet(t *testing.T) {
	payload, err := EncodePopulation(model.Population{
		VersionedRecord: CurrentVersion(),
		ID:              "p",
		Nets:            []model.NetRecord{{ID: "n0"}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodePopulation(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch for unversioned net, got=%v", err)
	}
}

func TestRunAndLineageCodec(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := EncodeRun(model.RunRecord{VersionedRecord: CurrentVersion(), ID: "r1", Seed: 7, StartedAt: started})
	if err != nil {
		t.Fatalf("encode run: %v", err)
	}
	run, err := DecodeRun(payload)
	if err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Seed != 7 || !run.StartedAt.Equal(started) {
		t.Fatalf("unexpected run: %+v", run)
	}

	payload, err = EncodeLineage([]model.LineageRecord{{NetID: "n1", Operation: "seed"}})
	if err != nil {
		t.Fatalf("encode lineage: %v", err)
	}
	if _, err := DecodeLineage(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch for unversioned lineage, got=%v", err)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}
