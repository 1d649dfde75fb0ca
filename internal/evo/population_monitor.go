package evo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"spikenet/internal/genotype"
	"spikenet/internal/model"
	"spikenet/internal/nn"
	"spikenet/internal/scape"
)

type Reproduction string

const (
	ReproductionAsexual Reproduction = "asexual"
	ReproductionSexual  Reproduction = "sexual"
)

func ParseReproduction(raw string) (Reproduction, error) {
	switch Reproduction(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReproductionAsexual:
		return ReproductionAsexual, nil
	case ReproductionSexual:
		return ReproductionSexual, nil
	default:
		return "", fmt.Errorf("unknown reproduction type %q", raw)
	}
}

// Phase restricts the data rows read during a block of cycles. Empty Rows
// means every row.
type Phase struct {
	Cycles int   `json:"cycles" yaml:"cycles"`
	Rows   []int `json:"rows,omitempty" yaml:"rows,omitempty"`
}

type ScoredNet struct {
	ID      string
	Net     *nn.Net
	Fitness float64
}

type RunResult struct {
	BestByCycle []float64
	Diagnostics []model.CycleDiagnostics
	Lineage     []model.LineageRecord
	// Final is the population after the last cycle. Only Final[0], the best
	// net of that cycle, is left unmutated; the rest carry stale fitness.
	Final []ScoredNet
}

type MonitorConfig struct {
	Scape             *scape.Scape
	Cycles            int
	MutationsPerCycle int
	MutationAmplitude float64
	Reproduction      Reproduction
	MaxSpliceLength   int
	MaxRounds         int
	Workers           int
	Seed              int64
	Phases            []Phase
	Logger            *slog.Logger
	Metrics           *Metrics
}

type PopulationMonitor struct {
	cfg    MonitorConfig
	phases []Phase
}

func NewPopulationMonitor(cfg MonitorConfig) (*PopulationMonitor, error) {
	if cfg.Scape == nil {
		return nil, fmt.Errorf("scape is required")
	}
	if cfg.MutationsPerCycle < 0 {
		return nil, fmt.Errorf("mutations per cycle must be >= 0")
	}
	if cfg.MutationAmplitude < 0 {
		return nil, fmt.Errorf("mutation amplitude must be >= 0")
	}
	if cfg.MaxRounds < 1 {
		return nil, fmt.Errorf("max rounds must be >= 1")
	}
	reproduction, err := ParseReproduction(string(cfg.Reproduction))
	if err != nil {
		return nil, err
	}
	cfg.Reproduction = reproduction
	if cfg.Reproduction == ReproductionSexual && cfg.MaxSpliceLength < 1 {
		return nil, fmt.Errorf("max splice length must be >= 1 for sexual reproduction")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}

	phases, err := resolvePhases(cfg.Cycles, cfg.Phases, cfg.Scape.RowCount())
	if err != nil {
		return nil, err
	}
	return &PopulationMonitor{cfg: cfg, phases: phases}, nil
}

func resolvePhases(cycles int, phases []Phase, rowCount int) ([]Phase, error) {
	if len(phases) == 0 {
		if cycles <= 0 {
			return nil, fmt.Errorf("cycles must be > 0")
		}
		return []Phase{{Cycles: cycles}}, nil
	}
	total := 0
	for i, phase := range phases {
		if phase.Cycles <= 0 {
			return nil, fmt.Errorf("phase %d cycles must be > 0", i)
		}
		for _, row := range phase.Rows {
			if row < 0 || row >= rowCount {
				return nil, fmt.Errorf("phase %d row %d out of range [0, %d)", i, row, rowCount)
			}
		}
		total += phase.Cycles
	}
	if cycles != 0 && cycles != total {
		return nil, fmt.Errorf("cycles mismatch: got=%d phases total=%d", cycles, total)
	}
	out := make([]Phase, len(phases))
	for i, phase := range phases {
		out[i] = Phase{Cycles: phase.Cycles, Rows: append([]int(nil), phase.Rows...)}
	}
	return out, nil
}

// TotalCycles is the number of cycles Run performs.
func (m *PopulationMonitor) TotalCycles() int {
	total := 0
	for _, phase := range m.phases {
		total += phase.Cycles
	}
	return total
}

func (m *PopulationMonitor) rowsForCycle(cycle int) []int {
	for _, phase := range m.phases {
		if cycle < phase.Cycles {
			return phase.Rows
		}
		cycle -= phase.Cycles
	}
	return nil
}

// Run evolves a copy of initial. Every cycle evaluates all nets, ranks them
// ascending by fitness, lets the better half overwrite the worse half and
// mutates every net but the best.
func (m *PopulationMonitor) Run(ctx context.Context, initial []ScoredNet) (RunResult, error) {
	if len(initial) < 2 {
		return RunResult{}, fmt.Errorf("population needs at least 2 nets, got %d", len(initial))
	}
	need := m.cfg.Scape.InputCells() + m.cfg.Scape.OutputCells()
	totalCells := initial[0].Net.Len()
	if totalCells < need {
		return RunResult{}, fmt.Errorf("nets have %d cells, scape needs %d", totalCells, need)
	}

	population := make([]ScoredNet, len(initial))
	for i, item := range initial {
		if item.Net.Len() != totalCells {
			return RunResult{}, fmt.Errorf("net %s: %w", item.ID, nn.ErrNetSizeMismatch)
		}
		id := item.ID
		if id == "" {
			id = fmt.Sprintf("c0-n%d", i)
		}
		population[i] = ScoredNet{ID: id, Net: item.Net.Clone()}
	}

	cycles := m.TotalCycles()
	result := RunResult{
		BestByCycle: make([]float64, 0, cycles),
		Diagnostics: make([]model.CycleDiagnostics, 0, cycles),
		Lineage:     make([]model.LineageRecord, 0, len(population)*(cycles+1)),
	}
	for i, item := range population {
		result.Lineage = append(result.Lineage, model.LineageRecord{
			NetID:       item.ID,
			Cycle:       0,
			Position:    i,
			Operation:   "seed",
			Fingerprint: m.fingerprint(item.Net),
		})
	}

	for cycle := 0; cycle < cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		rows := m.rowsForCycle(cycle)

		if err := m.evaluate(ctx, population, rows); err != nil {
			return RunResult{}, err
		}
		sort.SliceStable(population, func(i, j int) bool {
			return population[i].Fitness < population[j].Fitness
		})
		diag := m.summarize(population, cycle+1, rows)
		result.BestByCycle = append(result.BestByCycle, population[0].Fitness)

		lineage, structural, parametric, err := m.nextCycle(ctx, population, cycle)
		if err != nil {
			return RunResult{}, err
		}
		diag.StructuralMutations = structural
		diag.ParametricMutations = parametric
		result.Diagnostics = append(result.Diagnostics, diag)
		result.Lineage = append(result.Lineage, lineage...)

		m.cfg.Metrics.cycles.Inc()
		m.cfg.Metrics.bestFitness.Set(diag.BestFitness)
		m.cfg.Logger.Info("cycle complete",
			"cycle", cycle+1,
			"cycles", cycles,
			"best", diag.BestFitness,
			"mean", diag.MeanFitness,
			"diversity", diag.FingerprintDiversity,
		)
	}

	result.Final = make([]ScoredNet, len(population))
	for i, item := range population {
		result.Final[i] = ScoredNet{ID: item.ID, Net: item.Net, Fitness: item.Net.Fitness()}
	}
	return result, nil
}

// evaluate scores every net in parallel. Each worker borrows its own scape
// clone; results land in population by index.
func (m *PopulationMonitor) evaluate(ctx context.Context, population []ScoredNet, rows []int) error {
	workers := m.cfg.Workers
	if workers > len(population) {
		workers = len(population)
	}
	scapes := make(chan *scape.Scape, workers)
	scapes <- m.cfg.Scape
	for i := 1; i < workers; i++ {
		scapes <- m.cfg.Scape.Clone()
	}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(workers)
	for i := range population {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := <-scapes
			defer func() { scapes <- s }()

			item := &population[i]
			started := time.Now()
			item.Net.ResetFitness()
			if _, err := s.Evaluate(ctx, item.Net, m.cfg.MaxRounds, rows, nil); err != nil {
				m.cfg.Logger.Error("net evaluation failed", "net", item.ID, "error", err)
				return fmt.Errorf("evaluate net %s: %w", item.ID, err)
			}
			m.cfg.Metrics.evaluation.Observe(time.Since(started).Seconds())
			item.Fitness = item.Net.Fitness()
			return nil
		})
	}
	return p.Wait()
}

// nextCycle reproduces and mutates a ranked population in place. Children
// are written only to positions that are never read as parents.
func (m *PopulationMonitor) nextCycle(ctx context.Context, population []ScoredNet, cycle int) ([]model.LineageRecord, int, int, error) {
	n := len(population)
	half := n / 2
	survivors := n - half
	nextCycle := cycle + 1
	rng := rand.New(rand.NewSource(deriveSeed(m.cfg.Seed, cycle, -1)))
	inputCells := m.cfg.Scape.InputCells()

	lineage := make([]model.LineageRecord, n)
	lineage[0] = model.LineageRecord{
		NetID:     population[0].ID,
		ParentIDs: []string{population[0].ID},
		Cycle:     nextCycle,
		Position:  0,
		Operation: "elite",
	}
	for pos := 1; pos < survivors; pos++ {
		lineage[pos] = model.LineageRecord{
			ParentIDs: []string{population[pos].ID},
			Operation: "survive",
		}
	}

	for i := 0; i < half; i++ {
		mother := population[i]
		child := &population[n-1-i]
		switch m.cfg.Reproduction {
		case ReproductionSexual:
			father := population[pickFather(rng, i, survivors)]
			child.Net.Meiosis(mother.Net, father.Net, m.cfg.MaxSpliceLength, rng)
			child.Net.RecountPriorLinks(inputCells)
			lineage[n-1-i] = model.LineageRecord{
				ParentIDs: []string{mother.ID, father.ID},
				Operation: "meiosis",
			}
		default:
			child.Net.CloneFrom(mother.Net)
			lineage[n-1-i] = model.LineageRecord{
				ParentIDs: []string{mother.ID},
				Operation: "clone",
			}
		}
		m.cfg.Metrics.reproduction.WithLabelValues(lineage[n-1-i].Operation).Inc()
	}

	applied := make([][]nn.MutationKind, n)
	p := pool.New().WithContext(ctx).WithMaxGoroutines(m.cfg.Workers)
	for pos := 1; pos < n; pos++ {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			netRng := rand.New(rand.NewSource(deriveSeed(m.cfg.Seed, cycle, pos)))
			applied[pos] = population[pos].Net.Mutate(netRng, m.cfg.MutationsPerCycle, m.cfg.MutationAmplitude)
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, 0, 0, err
	}

	structural, parametric := 0, 0
	for pos := 1; pos < n; pos++ {
		names := make([]string, len(applied[pos]))
		for j, kind := range applied[pos] {
			names[j] = kind.String()
			m.cfg.Metrics.mutations.WithLabelValues(kind.String()).Inc()
			if kind.Structural() {
				structural++
			} else {
				parametric++
			}
		}
		id := fmt.Sprintf("c%d-n%d", nextCycle, pos)
		population[pos].ID = id
		lineage[pos].NetID = id
		lineage[pos].Cycle = nextCycle
		lineage[pos].Position = pos
		lineage[pos].Mutations = names
	}
	for pos := range population {
		lineage[pos].Fingerprint = m.fingerprint(population[pos].Net)
	}
	return lineage, structural, parametric, nil
}

// pickFather draws uniformly among the survivors other than the mother. A
// lone survivor mates with itself.
func pickFather(rng *rand.Rand, mother, survivors int) int {
	if survivors < 2 {
		return mother
	}
	father := rng.Intn(survivors - 1)
	if father >= mother {
		father++
	}
	return father
}

func (m *PopulationMonitor) summarize(ranked []ScoredNet, cycle int, rows []int) model.CycleDiagnostics {
	total := 0.0
	links := 0
	fingerprints := make(map[string]struct{}, len(ranked))
	for _, item := range ranked {
		total += item.Fitness
		for i := 0; i < item.Net.Len(); i++ {
			links += item.Net.Cell(i).LinkCount()
		}
		fingerprints[m.fingerprint(item.Net)] = struct{}{}
	}
	return model.CycleDiagnostics{
		Cycle:                cycle,
		BestFitness:          ranked[0].Fitness,
		MeanFitness:          total / float64(len(ranked)),
		WorstFitness:         ranked[len(ranked)-1].Fitness,
		FingerprintDiversity: len(fingerprints),
		MeanLinkCount:        float64(links) / float64(len(ranked)*ranked[0].Net.Len()),
		Rows:                 append([]int(nil), rows...),
	}
}

func (m *PopulationMonitor) fingerprint(net *nn.Net) string {
	return genotype.ComputeSignature(net, m.cfg.Scape.InputCells(), m.cfg.Scape.OutputCells()).Fingerprint
}

// deriveSeed mixes the run seed with a cycle and a stream index (a net
// position, or -1 for reproduction) through splitmix64.
func deriveSeed(seed int64, cycle, stream int) int64 {
	z := uint64(seed) + 0x9e3779b97f4a7c15*uint64(cycle+1) + 0xbf58476d1ce4e5b9*uint64(stream+2)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}
