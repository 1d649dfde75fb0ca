// Package spikenet is the public entry point for evolving populations of
// spiking nets against a data definition and inspecting past runs.
package spikenet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"spikenet/internal/config"
	"spikenet/internal/genotype"
	"spikenet/internal/model"
	"spikenet/internal/platform"
	"spikenet/internal/stats"
	"spikenet/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "spikenet.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type Client struct {
	store  storage.Store
	polis  *platform.Polis
	logger *slog.Logger
	reg    prometheus.Registerer

	runsDir    string
	exportsDir string
}

type RunRequest struct {
	ConfigPath   string
	RunID        string
	ContinueFrom string
	// Overrides applied over the config's evolution block when non-zero.
	Cycles  int
	Workers int
	Seed    *int64
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	BestByCycle      []float64
	FinalBestFitness float64
	BestNetID        string
	NetCount         int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	PopulationID     string
	Seed             int64
	NetCount         int
	TotalCells       int
	Cycles           int
	Reproduction     string
	FinalBestFitness float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

// RunSelector names a run either by id or as the most recent one.
type RunSelector struct {
	RunID  string
	Latest bool
	Limit  int
}

type RecordRequest struct {
	RunID      string
	Latest     bool
	ConfigPath string
	NetID      string
	MaxRounds  int
}

type RecordSummary struct {
	RunID        string
	NetID        string
	MaxRounds    int
	Rows         int
	Frames       int
	TotalFitness float64
	Recording    stats.Recording
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     opts.Logger,
		reg:        opts.Registerer,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.polis != nil {
		c.polis.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.ConfigPath == "" {
		return RunSummary{}, errors.New("run requires a population config")
	}
	if req.Cycles < 0 || req.Workers < 0 {
		return RunSummary{}, errors.New("cycles and workers overrides must be >= 0")
	}
	cfg, err := config.Load(req.ConfigPath)
	if err != nil {
		return RunSummary{}, err
	}
	if req.Cycles > 0 {
		cfg.Evolution.Cycles = req.Cycles
		cfg.Evolution.Phases = nil
	}
	if req.Workers > 0 {
		cfg.Evolution.Workers = req.Workers
	}
	if req.Seed != nil {
		cfg.Evolution.Seed = *req.Seed
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	result, err := p.Run(ctx, platform.RunRequest{
		RunID:        req.RunID,
		ConfigPath:   req.ConfigPath,
		Config:       cfg,
		ContinueFrom: req.ContinueFrom,
	})
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{
		RunID:            result.RunID,
		ArtifactsDir:     result.RunDir,
		BestByCycle:      append([]float64(nil), result.BestByCycle...),
		FinalBestFitness: result.BestFitness,
		BestNetID:        result.BestNetID,
		NetCount:         len(result.Population.Nets),
	}, nil
}

// Record replays a net of a finished run against the same config and
// stores the trace as recording.json in the run's artifact directory.
func (c *Client) Record(ctx context.Context, req RecordRequest) (RecordSummary, error) {
	if req.ConfigPath == "" {
		return RecordSummary{}, errors.New("record requires a population config")
	}
	runID, err := c.resolveRunID(RunSelector{RunID: req.RunID, Latest: req.Latest}, "record")
	if err != nil {
		return RecordSummary{}, err
	}
	cfg, err := config.Load(req.ConfigPath)
	if err != nil {
		return RecordSummary{}, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RecordSummary{}, err
	}
	recording, err := p.Record(ctx, platform.RecordRequest{
		RunID:     runID,
		NetID:     req.NetID,
		Config:    cfg,
		MaxRounds: req.MaxRounds,
	})
	if err != nil {
		return RecordSummary{}, err
	}
	frames := 0
	for _, row := range recording.Rows {
		frames += len(row.Frames)
	}
	return RecordSummary{
		RunID:        runID,
		NetID:        recording.NetID,
		MaxRounds:    recording.MaxRounds,
		Rows:         len(recording.Rows),
		Frames:       frames,
		TotalFitness: recording.TotalFitness,
		Recording:    recording,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			PopulationID:     e.PopulationID,
			Seed:             e.Seed,
			NetCount:         e.NetCount,
			TotalCells:       e.TotalCells,
			Cycles:           e.Cycles,
			Reproduction:     e.Reproduction,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(RunSelector{RunID: req.RunID, Latest: req.Latest}, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Lineage(ctx context.Context, req RunSelector) ([]model.LineageRecord, error) {
	runID, err := c.resolveRunID(req, "lineage")
	if err != nil {
		return nil, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	lineage, err := p.Lineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	out := make([]model.LineageRecord, len(lineage))
	copy(out, lineage)
	return out, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req RunSelector) ([]float64, error) {
	runID, err := c.resolveRunID(req, "fitness history")
	if err != nil {
		return nil, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	history, err := p.FitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req RunSelector) ([]model.CycleDiagnostics, error) {
	runID, err := c.resolveRunID(req, "diagnostics")
	if err != nil {
		return nil, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	diagnostics, err := p.Diagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.CycleDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// Topology summarizes every net of a run's final population.
func (c *Client) Topology(ctx context.Context, req RunSelector) ([]genotype.NetSignature, error) {
	runID, err := c.resolveRunID(req, "topology")
	if err != nil {
		return nil, err
	}
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", platform.ErrRunNotFound, runID)
	}
	signatures, err := p.TopologySummaries(ctx, run.Population)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(signatures) > req.Limit {
		signatures = signatures[:req.Limit]
	}
	return signatures, nil
}

func (c *Client) resolveRunID(req RunSelector, what string) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if !req.Latest {
		if req.RunID == "" {
			return "", fmt.Errorf("%s requires run id or latest", what)
		}
		return req.RunID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{
		Store:        c.store,
		ArtifactsDir: c.runsDir,
		Logger:       c.logger,
		Registerer:   c.reg,
	})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
