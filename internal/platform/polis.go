package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"spikenet/internal/config"
	"spikenet/internal/evo"
	"spikenet/internal/genotype"
	"spikenet/internal/model"
	"spikenet/internal/scape"
	"spikenet/internal/stats"
	"spikenet/internal/storage"
)

var (
	ErrNotInitialized = errors.New("polis is not initialized")
	ErrRunNotFound    = errors.New("run not found")
)

type Config struct {
	Store storage.Store
	// ArtifactsDir receives per-run JSON artifacts and the run index. Empty
	// disables artifact files.
	ArtifactsDir string
	Logger       *slog.Logger
	Registerer   prometheus.Registerer
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// RunRequest starts one evolution run from a population config. When
// ContinueFrom names a stored population its nets replace the config's
// initial nets.
type RunRequest struct {
	RunID        string
	ConfigPath   string
	Config       *config.Config
	ContinueFrom string
}

type RunSummary struct {
	RunID        string
	PopulationID string
	BestByCycle  []float64
	BestFitness  float64
	BestNetID    string
	Diagnostics  []model.CycleDiagnostics
	Lineage      []model.LineageRecord
	Population   model.Population
	RunDir       string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// RecordRequest replays one stored net over every data row. An empty NetID
// picks the best net of the run's final population.
type RecordRequest struct {
	RunID     string
	NetID     string
	Config    *config.Config
	MaxRounds int
}

// Polis owns the store and the runs executing against it.
type Polis struct {
	store        storage.Store
	artifactsDir string
	logger       *slog.Logger
	metrics      *evo.Metrics

	mu             sync.RWMutex
	started        bool
	lastStopReason StopReason
	runs           map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Polis{
		store:          cfg.Store,
		artifactsDir:   cfg.ArtifactsDir,
		logger:         logger,
		metrics:        evo.NewMetrics(cfg.Registerer),
		runs:           make(map[string]context.CancelFunc),
		lastStopReason: StopReasonNormal,
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Stop() {
	_ = p.StopWithReason(StopReasonNormal)
}

func (p *Polis) Shutdown() {
	_ = p.StopWithReason(StopReasonShutdown)
}

// StopWithReason cancels every active run and marks the polis stopped.
func (p *Polis) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if !isValidStopReason(reason) {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
	p.started = false
	p.lastStopReason = reason
	p.runs = make(map[string]context.CancelFunc)
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) LastStopReason() StopReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStopReason
}

func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	return ids
}

// Run evolves the population described by req.Config and persists the
// final population, fitness history, diagnostics, lineage and run record.
func (p *Polis) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Config == nil {
		return RunSummary{}, fmt.Errorf("population config is required")
	}
	if !p.Started() {
		return RunSummary{}, ErrNotInitialized
	}
	cfg := req.Config

	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := p.logger.With("run_id", runID)

	def := cfg.ScapeDefinition()
	sc, err := scape.New(def)
	if err != nil {
		return RunSummary{}, err
	}
	initial, err := p.initialNets(ctx, cfg, req.ContinueFrom, def.InputCells())
	if err != nil {
		return RunSummary{}, err
	}

	ev := cfg.Evolution
	reproduction, err := evo.ParseReproduction(ev.Reproduction)
	if err != nil {
		return RunSummary{}, err
	}
	monitor, err := evo.NewPopulationMonitor(evo.MonitorConfig{
		Scape:             sc,
		Cycles:            ev.Cycles,
		MutationsPerCycle: ev.MutationsPerCycle,
		MutationAmplitude: ev.MutationAmplitude,
		Reproduction:      reproduction,
		MaxSpliceLength:   ev.MaxSpliceLength,
		MaxRounds:         cfg.Counts.MaxRounds,
		Workers:           ev.Workers,
		Seed:              ev.Seed,
		Phases:            cfg.Phases(),
		Logger:            logger,
		Metrics:           p.metrics,
	})
	if err != nil {
		return RunSummary{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.registerRun(runID, cancel); err != nil {
		return RunSummary{}, err
	}
	defer p.unregisterRun(runID)

	startedAt := time.Now().UTC()
	logger.Info("run started",
		"nets", len(initial),
		"cells", cfg.Counts.TotalCells,
		"cycles", monitor.TotalCycles(),
		"reproduction", string(reproduction),
	)
	result, err := monitor.Run(runCtx, initial)
	if err != nil {
		logger.Error("run failed", "error", err)
		return RunSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}
	finishedAt := time.Now().UTC()

	population := model.Population{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		Cycle:           monitor.TotalCycles(),
		InputCells:      def.InputCells(),
		OutputCells:     def.OutputCells(),
		Nets:            make([]model.NetRecord, len(result.Final)),
	}
	for i, scored := range result.Final {
		rec := genotype.ToRecord(scored.ID, scored.Net)
		rec.VersionedRecord = storage.CurrentVersion()
		population.Nets[i] = rec
	}
	lineage := make([]model.LineageRecord, len(result.Lineage))
	for i, record := range result.Lineage {
		record.VersionedRecord = storage.CurrentVersion()
		lineage[i] = record
	}

	summary := RunSummary{
		RunID:        runID,
		PopulationID: population.ID,
		BestByCycle:  result.BestByCycle,
		Diagnostics:  result.Diagnostics,
		Lineage:      lineage,
		Population:   population,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}
	if n := len(result.BestByCycle); n > 0 {
		summary.BestFitness = result.BestByCycle[n-1]
	}
	if len(result.Final) > 0 {
		summary.BestNetID = result.Final[0].ID
	}

	if err := p.persist(ctx, summary, cfg, reproduction); err != nil {
		return RunSummary{}, err
	}
	if p.artifactsDir != "" {
		runDir, err := p.writeArtifacts(req, summary, monitor.TotalCycles(), reproduction)
		if err != nil {
			return RunSummary{}, err
		}
		summary.RunDir = runDir
	}

	logger.Info("run finished",
		"best_fitness", summary.BestFitness,
		"best_net", summary.BestNetID,
		"elapsed", finishedAt.Sub(startedAt).String(),
	)
	return summary, nil
}

func (p *Polis) initialNets(ctx context.Context, cfg *config.Config, continueFrom string, inputCells int) ([]evo.ScoredNet, error) {
	if continueFrom == "" {
		nets, ids, err := cfg.InitialNets()
		if err != nil {
			return nil, err
		}
		out := make([]evo.ScoredNet, len(nets))
		for i := range nets {
			out[i] = evo.ScoredNet{ID: ids[i], Net: nets[i]}
		}
		return out, nil
	}

	population, ok, err := p.store.GetPopulation(ctx, continueFrom)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("population not found: %s", continueFrom)
	}
	if population.InputCells != inputCells {
		return nil, fmt.Errorf("population %s has %d input cells, config needs %d", continueFrom, population.InputCells, inputCells)
	}
	out := make([]evo.ScoredNet, len(population.Nets))
	for i, rec := range population.Nets {
		net, err := genotype.FromRecord(rec, cfg.Counts.TotalCells, inputCells)
		if err != nil {
			return nil, err
		}
		out[i] = evo.ScoredNet{ID: rec.ID, Net: net}
	}
	return out, nil
}

func (p *Polis) persist(ctx context.Context, summary RunSummary, cfg *config.Config, reproduction evo.Reproduction) error {
	if err := p.store.SavePopulation(ctx, summary.Population); err != nil {
		return fmt.Errorf("save population: %w", err)
	}
	if err := p.store.SaveFitnessHistory(ctx, summary.RunID, summary.BestByCycle); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	if err := p.store.SaveDiagnostics(ctx, summary.RunID, summary.Diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	if err := p.store.SaveLineage(ctx, summary.RunID, summary.Lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}
	run := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              summary.RunID,
		Population:      summary.PopulationID,
		Seed:            cfg.Evolution.Seed,
		Cycles:          len(summary.BestByCycle),
		NetCount:        len(summary.Population.Nets),
		TotalCells:      cfg.Counts.TotalCells,
		Reproduction:    string(reproduction),
		BestFitness:     summary.BestFitness,
		StartedAt:       summary.StartedAt,
		FinishedAt:      summary.FinishedAt,
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (p *Polis) writeArtifacts(req RunRequest, summary RunSummary, cycles int, reproduction evo.Reproduction) (string, error) {
	cfg := req.Config
	phases := make([]stats.PhaseConfig, 0, len(cfg.Evolution.Phases))
	for _, phase := range cfg.Phases() {
		phases = append(phases, stats.PhaseConfig{Cycles: phase.Cycles, Rows: phase.Rows})
	}
	runConfig := stats.RunConfig{
		RunID:             summary.RunID,
		PopulationID:      summary.PopulationID,
		ConfigPath:        req.ConfigPath,
		NetCount:          len(summary.Population.Nets),
		TotalCells:        cfg.Counts.TotalCells,
		InputCells:        summary.Population.InputCells,
		OutputCells:       summary.Population.OutputCells,
		MaxRounds:         cfg.Counts.MaxRounds,
		Cycles:            cycles,
		MutationsPerCycle: cfg.Evolution.MutationsPerCycle,
		MutationAmplitude: cfg.Evolution.MutationAmplitude,
		Reproduction:      string(reproduction),
		MaxSpliceLength:   cfg.Evolution.MaxSpliceLength,
		Phases:            phases,
		Seed:              cfg.Evolution.Seed,
		Workers:           cfg.Evolution.Workers,
	}
	runDir, err := stats.WriteRunArtifacts(p.artifactsDir, stats.RunArtifacts{
		Config:           runConfig,
		BestByCycle:      summary.BestByCycle,
		FinalBestFitness: summary.BestFitness,
		Diagnostics:      summary.Diagnostics,
		Lineage:          summary.Lineage,
		Population:       summary.Population,
	})
	if err != nil {
		return "", fmt.Errorf("write run artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(p.artifactsDir, stats.RunIndexEntry{
		RunID:            summary.RunID,
		PopulationID:     summary.PopulationID,
		NetCount:         runConfig.NetCount,
		TotalCells:       runConfig.TotalCells,
		Cycles:           cycles,
		Reproduction:     runConfig.Reproduction,
		Seed:             runConfig.Seed,
		FinalBestFitness: summary.BestFitness,
		CreatedAtUTC:     summary.FinishedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return "", fmt.Errorf("append run index: %w", err)
	}
	return runDir, nil
}

// Record replays a stored net with a recorder attached and, when artifacts
// are enabled, writes recording.json next to the run's other artifacts.
func (p *Polis) Record(ctx context.Context, req RecordRequest) (stats.Recording, error) {
	if req.Config == nil {
		return stats.Recording{}, fmt.Errorf("population config is required")
	}
	if !p.Started() {
		return stats.Recording{}, ErrNotInitialized
	}
	run, ok, err := p.store.GetRun(ctx, req.RunID)
	if err != nil {
		return stats.Recording{}, err
	}
	if !ok {
		return stats.Recording{}, fmt.Errorf("%w: %s", ErrRunNotFound, req.RunID)
	}
	population, ok, err := p.store.GetPopulation(ctx, run.Population)
	if err != nil {
		return stats.Recording{}, err
	}
	if !ok || len(population.Nets) == 0 {
		return stats.Recording{}, fmt.Errorf("population not found: %s", run.Population)
	}

	rec := population.Nets[0]
	if req.NetID != "" {
		found := false
		for _, candidate := range population.Nets {
			if candidate.ID == req.NetID {
				rec, found = candidate, true
				break
			}
		}
		if !found {
			return stats.Recording{}, fmt.Errorf("net %s not in population %s", req.NetID, population.ID)
		}
	}

	def := req.Config.ScapeDefinition()
	net, err := genotype.FromRecord(rec, len(rec.Cells), def.InputCells())
	if err != nil {
		return stats.Recording{}, err
	}
	sc, err := scape.New(def)
	if err != nil {
		return stats.Recording{}, err
	}
	maxRounds := req.MaxRounds
	if maxRounds <= 0 {
		maxRounds = req.Config.Counts.MaxRounds
	}

	rowNames := make([]string, len(def.Data.Rows))
	for i, row := range def.Data.Rows {
		rowNames[i] = row.Name
	}
	recorder := stats.NewRecorder(rowNames)
	net.ResetFitness()
	if _, err := sc.Evaluate(ctx, net, maxRounds, nil, recorder); err != nil {
		return stats.Recording{}, err
	}
	recording := recorder.Recording(rec.ID, maxRounds)

	if p.artifactsDir != "" {
		if err := stats.WriteRecording(filepath.Join(p.artifactsDir, run.ID), recording); err != nil {
			return stats.Recording{}, fmt.Errorf("write recording: %w", err)
		}
	}
	p.logger.Info("recorded read", "run_id", run.ID, "net", rec.ID, "total_fitness", recording.TotalFitness)
	return recording, nil
}

func (p *Polis) Runs(ctx context.Context) ([]model.RunRecord, error) {
	return p.store.ListRuns(ctx)
}

func (p *Polis) FitnessHistory(ctx context.Context, runID string) ([]float64, error) {
	history, ok, err := p.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return history, nil
}

func (p *Polis) Diagnostics(ctx context.Context, runID string) ([]model.CycleDiagnostics, error) {
	diagnostics, ok, err := p.store.GetDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return diagnostics, nil
}

func (p *Polis) Lineage(ctx context.Context, runID string) ([]model.LineageRecord, error) {
	lineage, ok, err := p.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return lineage, nil
}

// TopologySummaries describes every net of a stored population.
func (p *Polis) TopologySummaries(ctx context.Context, populationID string) ([]genotype.NetSignature, error) {
	population, ok, err := p.store.GetPopulation(ctx, populationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("population not found: %s", populationID)
	}
	out := make([]genotype.NetSignature, 0, len(population.Nets))
	for _, rec := range population.Nets {
		net, err := genotype.FromRecord(rec, len(rec.Cells), population.InputCells)
		if err != nil {
			return nil, err
		}
		out = append(out, genotype.ComputeSignature(net, population.InputCells, population.OutputCells))
	}
	return out, nil
}

func (p *Polis) registerRun(runID string, cancel context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotInitialized
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.runs[runID] = cancel
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

func isValidStopReason(reason StopReason) bool {
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
		return true
	default:
		return false
	}
}

var _ scape.Recorder = (*stats.Recorder)(nil)
