package platform

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"spikenet/internal/config"
	"spikenet/internal/stats"
	"spikenet/internal/storage"
)

const testPopulation = `
name: polis-test
counts:
  nets: 6
  total_cells: 5
  max_rounds: 4
data:
  frame_count: 3
  columns:
    - name: x
      frame_length: 1
      shift_length: 1
  rows:
    - name: rising
      sets:
        x: [0, 1, 2, 3]
    - name: flat
      sets:
        x: [1, 1, 1, 1]
outputs:
  - name: out
    max_activations: 2
fitness:
  - abs(out - x[0] / 4)
  - abs(out - 0.5)
evolution:
  cycles: 4
  mutations_per_cycle: 2
  mutation_amplitude: 0.5
  reproduction: sexual
  max_splice_length: 2
  workers: 2
  seed: 11
`

func mustConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(testPopulation), "")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func startedPolis(t *testing.T, artifactsDir string) *Polis {
	t.Helper()
	p := NewPolis(Config{Store: storage.NewMemoryStore(), ArtifactsDir: artifactsDir})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return p
}

func TestPolisInitRequiresStore(t *testing.T) {
	p := NewPolis(Config{})
	if err := p.Init(context.Background()); err == nil {
		t.Fatal("expected missing store error")
	}
	if p.Started() {
		t.Fatal("expected polis not started")
	}
}

func TestPolisRunRequiresInit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	_, err := p.Run(context.Background(), RunRequest{Config: mustConfig(t)})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := p.Run(context.Background(), RunRequest{}); err == nil {
		t.Fatal("expected missing config error")
	}
}

func TestPolisRunPersistsResults(t *testing.T) {
	ctx := context.Background()
	artifacts := t.TempDir()
	p := startedPolis(t, artifacts)

	summary, err := p.Run(ctx, RunRequest{RunID: "run-a", ConfigPath: "pop.yaml", Config: mustConfig(t)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID != "run-a" || summary.PopulationID != "run-a" {
		t.Fatalf("unexpected ids: %+v", summary)
	}
	if len(summary.BestByCycle) != 4 || len(summary.Diagnostics) != 4 {
		t.Fatalf("expected 4 cycles, got best=%d diagnostics=%d", len(summary.BestByCycle), len(summary.Diagnostics))
	}
	for i := 1; i < len(summary.BestByCycle); i++ {
		if summary.BestByCycle[i] > summary.BestByCycle[i-1] {
			t.Fatalf("best fitness regressed at cycle %d: %v", i, summary.BestByCycle)
		}
	}
	if len(summary.Population.Nets) != 6 || summary.Population.InputCells != 1 || summary.Population.OutputCells != 1 {
		t.Fatalf("unexpected population: %+v", summary.Population)
	}
	if summary.BestNetID == "" || summary.Population.Nets[0].ID != summary.BestNetID {
		t.Fatalf("expected best net first, got %q vs %q", summary.BestNetID, summary.Population.Nets[0].ID)
	}

	history, err := p.FitnessHistory(ctx, "run-a")
	if err != nil {
		t.Fatalf("fitness history: %v", err)
	}
	if len(history) != 4 || history[3] != summary.BestFitness {
		t.Fatalf("unexpected history: %v", history)
	}
	lineage, err := p.Lineage(ctx, "run-a")
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(lineage) != 6*5 {
		t.Fatalf("expected seed plus 4 cycles of lineage for 6 nets, got %d", len(lineage))
	}
	if lineage[0].SchemaVersion != storage.CurrentSchemaVersion {
		t.Fatalf("expected stamped lineage, got %+v", lineage[0])
	}
	if _, err := p.Diagnostics(ctx, "run-a"); err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	runs, err := p.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-a" || runs[0].Reproduction != "sexual" || runs[0].NetCount != 6 {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	if summary.RunDir != filepath.Join(artifacts, "run-a") {
		t.Fatalf("unexpected run dir: %s", summary.RunDir)
	}
	for _, file := range []string{"config.json", "fitness_history.json", "lineage.json", "diagnostics.json", "population.json"} {
		if _, err := os.Stat(filepath.Join(summary.RunDir, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}
	runCfg, ok, err := stats.ReadRunConfig(artifacts, "run-a")
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if runCfg.ConfigPath != "pop.yaml" || runCfg.Cycles != 4 || runCfg.MaxSpliceLength != 2 {
		t.Fatalf("unexpected run config: %+v", runCfg)
	}
	index, err := stats.ListRunIndex(artifacts)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 1 || index[0].RunID != "run-a" {
		t.Fatalf("unexpected index: %+v", index)
	}

	if _, err := p.FitnessHistory(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestPolisRunGeneratesRunID(t *testing.T) {
	p := startedPolis(t, "")
	summary, err := p.Run(context.Background(), RunRequest{Config: mustConfig(t)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(summary.RunID) != 36 {
		t.Fatalf("expected uuid run id, got %q", summary.RunID)
	}
	if summary.RunDir != "" {
		t.Fatalf("expected no artifacts, got %s", summary.RunDir)
	}
	if len(p.ActiveRuns()) != 0 {
		t.Fatalf("expected no active runs after completion, got %v", p.ActiveRuns())
	}
}

func TestPolisRecordReplaysBestNet(t *testing.T) {
	ctx := context.Background()
	artifacts := t.TempDir()
	p := startedPolis(t, artifacts)
	cfg := mustConfig(t)

	summary, err := p.Run(ctx, RunRequest{RunID: "run-rec", Config: cfg})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	recording, err := p.Record(ctx, RecordRequest{RunID: "run-rec", Config: cfg})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if recording.NetID != summary.BestNetID || recording.MaxRounds != 4 {
		t.Fatalf("unexpected recording header: %+v", recording)
	}
	if len(recording.Rows) != 2 || recording.Rows[0].Name != "rising" {
		t.Fatalf("unexpected recording rows: %+v", recording.Rows)
	}
	for _, row := range recording.Rows {
		if len(row.Frames) != 3 {
			t.Fatalf("expected 3 frames in row %d, got %d", row.Row, len(row.Frames))
		}
	}
	if math.Abs(recording.TotalFitness-summary.BestFitness) > 1e-12 {
		t.Fatalf("recorded fitness %f does not match best %f", recording.TotalFitness, summary.BestFitness)
	}
	if _, ok, err := stats.ReadRecording(artifacts, "run-rec"); err != nil || !ok {
		t.Fatalf("expected recording artifact: ok=%t err=%v", ok, err)
	}

	other := summary.Population.Nets[len(summary.Population.Nets)-1].ID
	recording, err = p.Record(ctx, RecordRequest{RunID: "run-rec", NetID: other, Config: cfg, MaxRounds: 2})
	if err != nil {
		t.Fatalf("record other net: %v", err)
	}
	if recording.NetID != other || recording.MaxRounds != 2 {
		t.Fatalf("unexpected recording header: %+v", recording)
	}

	if _, err := p.Record(ctx, RecordRequest{RunID: "run-rec", NetID: "absent", Config: cfg}); err == nil {
		t.Fatal("expected unknown net error")
	}
	if _, err := p.Record(ctx, RecordRequest{RunID: "nope", Config: cfg}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestPolisContinueFromStoredPopulation(t *testing.T) {
	ctx := context.Background()
	p := startedPolis(t, "")
	cfg := mustConfig(t)

	first, err := p.Run(ctx, RunRequest{RunID: "first", Config: cfg})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(ctx, RunRequest{RunID: "second", Config: cfg, ContinueFrom: first.PopulationID})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	lineage, err := p.Lineage(ctx, "second")
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if lineage[0].Operation != "seed" || lineage[0].NetID != first.Population.Nets[0].ID {
		t.Fatalf("expected continued seed lineage, got %+v", lineage[0])
	}
	if second.BestByCycle[0] > first.BestFitness {
		t.Fatalf("continued run started worse than it ended: %f > %f", second.BestByCycle[0], first.BestFitness)
	}

	if _, err := p.Run(ctx, RunRequest{Config: cfg, ContinueFrom: "absent"}); err == nil {
		t.Fatal("expected missing population error")
	}
}

func TestPolisTopologySummaries(t *testing.T) {
	ctx := context.Background()
	p := startedPolis(t, "")
	summary, err := p.Run(ctx, RunRequest{RunID: "topo", Config: mustConfig(t)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	signatures, err := p.TopologySummaries(ctx, summary.PopulationID)
	if err != nil {
		t.Fatalf("topology summaries: %v", err)
	}
	if len(signatures) != 6 {
		t.Fatalf("expected 6 signatures, got %d", len(signatures))
	}
	for _, sig := range signatures {
		if sig.Fingerprint == "" || sig.Summary.TotalCells != 5 || sig.Summary.TotalLinks < 5 {
			t.Fatalf("unexpected signature: %+v", sig)
		}
	}
}

func TestPolisStopWithReason(t *testing.T) {
	p := startedPolis(t, "")
	if err := p.StopWithReason("bogus"); err == nil {
		t.Fatal("expected invalid reason error")
	}
	p.Shutdown()
	if p.Started() || p.LastStopReason() != StopReasonShutdown {
		t.Fatalf("unexpected state after shutdown: started=%t reason=%s", p.Started(), p.LastStopReason())
	}
	if err := p.StopRun("absent"); err == nil {
		t.Fatal("expected inactive run error")
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	p.Stop()
	if p.LastStopReason() != StopReasonNormal {
		t.Fatalf("expected normal stop reason, got %s", p.LastStopReason())
	}
}

func TestPolisRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := startedPolis(t, "")
	if _, err := p.Run(ctx, RunRequest{RunID: "cancelled", Config: mustConfig(t)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := p.FitnessHistory(context.Background(), "cancelled"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
}
