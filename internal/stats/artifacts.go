package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"spikenet/internal/model"
)

const runIndexFile = "runs.json"

type PhaseConfig struct {
	Cycles int   `json:"cycles"`
	Rows   []int `json:"rows,omitempty"`
}

type RunConfig struct {
	RunID             string        `json:"run_id"`
	PopulationID      string        `json:"population_id"`
	ConfigPath        string        `json:"config_path,omitempty"`
	NetCount          int           `json:"net_count"`
	TotalCells        int           `json:"total_cells"`
	InputCells        int           `json:"input_cells"`
	OutputCells       int           `json:"output_cells"`
	MaxRounds         int           `json:"max_rounds"`
	Cycles            int           `json:"cycles"`
	MutationsPerCycle int           `json:"mutations_per_cycle"`
	MutationAmplitude float64       `json:"mutation_amplitude"`
	Reproduction      string        `json:"reproduction"`
	MaxSpliceLength   int           `json:"max_splice_length,omitempty"`
	Phases            []PhaseConfig `json:"phases,omitempty"`
	Seed              int64         `json:"seed"`
	Workers           int           `json:"workers"`
}

type RunArtifacts struct {
	Config           RunConfig                `json:"config"`
	BestByCycle      []float64                `json:"best_by_cycle"`
	FinalBestFitness float64                  `json:"final_best_fitness"`
	Diagnostics      []model.CycleDiagnostics `json:"diagnostics,omitempty"`
	Lineage          []model.LineageRecord    `json:"lineage"`
	Population       model.Population         `json:"population"`
}

type FitnessHistory struct {
	BestByCycle      []float64 `json:"best_by_cycle"`
	FinalBestFitness float64   `json:"final_best_fitness"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	PopulationID     string  `json:"population_id"`
	NetCount         int     `json:"net_count"`
	TotalCells       int     `json:"total_cells"`
	Cycles           int     `json:"cycles"`
	Reproduction     string  `json:"reproduction"`
	Seed             int64   `json:"seed"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

var requiredArtifacts = []string{
	"config.json",
	"fitness_history.json",
	"lineage.json",
	"diagnostics.json",
	"population.json",
}

var optionalArtifacts = []string{
	"fitness_series.csv",
	"recording.json",
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	history := FitnessHistory{BestByCycle: artifacts.BestByCycle, FinalBestFitness: artifacts.FinalBestFitness}
	if err := writeJSON(filepath.Join(runDir, "fitness_history.json"), history); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "lineage.json"), artifacts.Lineage); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "population.json"), artifacts.Population); err != nil {
		return "", err
	}
	if err := WriteFitnessSeries(runDir, artifacts.BestByCycle); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range requiredArtifacts {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range optionalArtifacts {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	return cfg, ok, err
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadFitnessHistory(baseDir, runID string) (FitnessHistory, bool, error) {
	var history FitnessHistory
	ok, err := readJSON(filepath.Join(baseDir, runID, "fitness_history.json"), &history)
	return history, ok, err
}

func ReadLineage(baseDir, runID string) ([]model.LineageRecord, bool, error) {
	var lineage []model.LineageRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, "lineage.json"), &lineage)
	return lineage, ok, err
}

func ReadDiagnostics(baseDir, runID string) ([]model.CycleDiagnostics, bool, error) {
	var diagnostics []model.CycleDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, "diagnostics.json"), &diagnostics)
	return diagnostics, ok, err
}

func ReadPopulation(baseDir, runID string) (model.Population, bool, error) {
	var population model.Population
	ok, err := readJSON(filepath.Join(baseDir, runID, "population.json"), &population)
	return population, ok, err
}

func WriteFitnessSeries(runDir string, bestByCycle []float64) error {
	path := filepath.Join(runDir, "fitness_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"cycle", "best_fitness"}); err != nil {
		return err
	}
	for i, best := range bestByCycle {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadFitnessSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "fitness_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("fitness series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("fitness series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
