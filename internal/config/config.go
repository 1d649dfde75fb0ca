// Package config loads YAML population definitions: the data a population
// reads, how its nets are laid out and how it evolves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"spikenet/internal/evo"
	"spikenet/internal/genotype"
	"spikenet/internal/model"
	"spikenet/internal/nn"
	"spikenet/internal/scape"
)

var ErrInvalidConfig = errors.New("invalid population config")

type Config struct {
	Name       string                  `yaml:"name"`
	Counts     Counts                  `yaml:"counts"`
	Data       DataConfig              `yaml:"data"`
	Calculated []scape.CalculatedInput `yaml:"calculated_inputs"`
	Outputs    []scape.Output          `yaml:"outputs"`
	// Fitness holds one formula per data row.
	Fitness   []string          `yaml:"fitness"`
	Controls  ControlsConfig    `yaml:"controls"`
	Nets      []model.NetRecord `yaml:"nets"`
	Evolution EvolutionConfig   `yaml:"evolution"`

	baseDir    string
	collection scape.Collection
}

// Counts sizes the population. InputCells and OutputCells are optional
// cross-checks against the data layout.
type Counts struct {
	Nets        int `yaml:"nets"`
	TotalCells  int `yaml:"total_cells"`
	InputCells  int `yaml:"input_cells"`
	OutputCells int `yaml:"output_cells"`
	MaxRounds   int `yaml:"max_rounds"`
}

type DataConfig struct {
	Name       string         `yaml:"name"`
	FrameCount int            `yaml:"frame_count"`
	Columns    []ColumnConfig `yaml:"columns"`
	Rows       []RowConfig    `yaml:"rows"`
}

// ColumnConfig may name a CSV file whose n-th record is the data set of
// row n. Inline row sets take precedence.
type ColumnConfig struct {
	Name        string `yaml:"name"`
	FrameLength int    `yaml:"frame_length"`
	ShiftLength int    `yaml:"shift_length"`
	File        string `yaml:"file"`
}

type RowConfig struct {
	Name string               `yaml:"name"`
	Sets map[string][]float64 `yaml:"sets"`
}

// ControlsConfig sets the fixed mutation parameters of new cells: either
// one default for every cell or one entry per cell.
type ControlsConfig struct {
	Default *Control  `yaml:"default"`
	Cells   []Control `yaml:"cells"`
}

// Control decodes over nn.DefaultControl so omitted keys keep defaults.
type Control model.CellControl

func (c *Control) UnmarshalYAML(node *yaml.Node) error {
	type plain model.CellControl
	p := plain(genotype.ControlToRecord(nn.DefaultControl()))
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Control(p)
	return nil
}

type EvolutionConfig struct {
	Cycles            int         `yaml:"cycles"`
	MutationsPerCycle int         `yaml:"mutations_per_cycle"`
	MutationAmplitude float64     `yaml:"mutation_amplitude"`
	Reproduction      string      `yaml:"reproduction"`
	MaxSpliceLength   int         `yaml:"max_splice_length"`
	Workers           int         `yaml:"workers"`
	Seed              int64       `yaml:"seed"`
	Phases            []evo.Phase `yaml:"phases"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a definition. Relative CSV paths resolve
// against baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidConfig, err)
	}
	cfg.baseDir = baseDir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Counts.Nets < 2 {
		return fmt.Errorf("%w: counts.nets must be >= 2", ErrInvalidConfig)
	}
	if c.Counts.MaxRounds < 1 {
		return fmt.Errorf("%w: counts.max_rounds must be >= 1", ErrInvalidConfig)
	}

	collection, err := c.resolveCollection()
	if err != nil {
		return err
	}
	c.collection = collection

	def := c.ScapeDefinition()
	inputs, outputs := def.InputCells(), def.OutputCells()
	if c.Counts.InputCells != 0 && c.Counts.InputCells != inputs {
		return fmt.Errorf("%w: counts.input_cells got=%d, frame lengths and calculated inputs give %d",
			ErrInvalidConfig, c.Counts.InputCells, inputs)
	}
	if c.Counts.OutputCells != 0 && c.Counts.OutputCells != outputs {
		return fmt.Errorf("%w: counts.output_cells got=%d, outputs give %d", ErrInvalidConfig, c.Counts.OutputCells, outputs)
	}
	if minCells := max(nn.MinCells, inputs+outputs); c.Counts.TotalCells < minCells {
		return fmt.Errorf("%w: counts.total_cells must be >= %d", ErrInvalidConfig, minCells)
	}
	if _, err := scape.New(def); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if len(c.Controls.Cells) > 0 && len(c.Controls.Cells) != c.Counts.TotalCells {
		return fmt.Errorf("%w: controls.cells got=%d want=%d", ErrInvalidConfig, len(c.Controls.Cells), c.Counts.TotalCells)
	}
	if len(c.Controls.Cells) > 0 && c.Controls.Default != nil {
		return fmt.Errorf("%w: controls.default and controls.cells are exclusive", ErrInvalidConfig)
	}
	for i, control := range c.CellControls() {
		if err := genotype.ValidateControl(control); err != nil {
			return fmt.Errorf("%w: controls %d: %w", ErrInvalidConfig, i, err)
		}
	}

	if len(c.Nets) > 0 && len(c.Nets) != c.Counts.Nets {
		return fmt.Errorf("%w: nets got=%d want=%d", ErrInvalidConfig, len(c.Nets), c.Counts.Nets)
	}
	for _, rec := range c.Nets {
		if _, err := genotype.FromRecord(rec, c.Counts.TotalCells, inputs); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	return c.validateEvolution()
}

func (c *Config) validateEvolution() error {
	ev := c.Evolution
	if len(ev.Phases) == 0 && ev.Cycles < 1 {
		return fmt.Errorf("%w: evolution.cycles must be >= 1", ErrInvalidConfig)
	}
	if ev.MutationsPerCycle < 0 {
		return fmt.Errorf("%w: evolution.mutations_per_cycle must be >= 0", ErrInvalidConfig)
	}
	if ev.MutationAmplitude < 0 {
		return fmt.Errorf("%w: evolution.mutation_amplitude must be >= 0", ErrInvalidConfig)
	}
	if ev.Workers < 0 {
		return fmt.Errorf("%w: evolution.workers must be >= 0", ErrInvalidConfig)
	}
	reproduction, err := evo.ParseReproduction(ev.Reproduction)
	if err != nil {
		return fmt.Errorf("%w: evolution.reproduction: %w", ErrInvalidConfig, err)
	}
	if reproduction == evo.ReproductionSexual && ev.MaxSpliceLength < 1 {
		return fmt.Errorf("%w: evolution.max_splice_length must be >= 1 for sexual reproduction", ErrInvalidConfig)
	}
	total := 0
	for i, phase := range ev.Phases {
		if phase.Cycles < 1 {
			return fmt.Errorf("%w: evolution.phases[%d].cycles must be >= 1", ErrInvalidConfig, i)
		}
		for _, row := range phase.Rows {
			if row < 0 || row >= len(c.Data.Rows) {
				return fmt.Errorf("%w: evolution.phases[%d] row %d out of range", ErrInvalidConfig, i, row)
			}
		}
		total += phase.Cycles
	}
	if len(ev.Phases) > 0 && ev.Cycles != 0 && ev.Cycles != total {
		return fmt.Errorf("%w: evolution.cycles got=%d, phases total %d", ErrInvalidConfig, ev.Cycles, total)
	}
	return nil
}

func (c *Config) resolveCollection() (scape.Collection, error) {
	collection := scape.Collection{
		Name:       c.Data.Name,
		FrameCount: c.Data.FrameCount,
		Columns:    make([]scape.Column, len(c.Data.Columns)),
		Rows:       make([]scape.Row, len(c.Data.Rows)),
	}

	files := make([][][]float64, len(c.Data.Columns))
	known := make(map[string]struct{}, len(c.Data.Columns))
	for i, col := range c.Data.Columns {
		collection.Columns[i] = scape.Column{Name: col.Name, FrameLength: col.FrameLength, ShiftLength: col.ShiftLength}
		known[col.Name] = struct{}{}
		if strings.TrimSpace(col.File) == "" {
			continue
		}
		path := col.File
		if !filepath.IsAbs(path) && c.baseDir != "" {
			path = filepath.Join(c.baseDir, path)
		}
		series, err := scape.LoadColumnCSV(path)
		if err != nil {
			return scape.Collection{}, fmt.Errorf("%w: data.columns[%d]: %w", ErrInvalidConfig, i, err)
		}
		files[i] = series
	}

	for r, row := range c.Data.Rows {
		for name := range row.Sets {
			if _, ok := known[name]; !ok {
				return scape.Collection{}, fmt.Errorf("%w: data.rows[%d] names unknown column %q", ErrInvalidConfig, r, name)
			}
		}
		sets := make([][]float64, len(c.Data.Columns))
		for i, col := range c.Data.Columns {
			if set, ok := row.Sets[col.Name]; ok {
				sets[i] = append([]float64(nil), set...)
				continue
			}
			if r < len(files[i]) {
				sets[i] = files[i][r]
				continue
			}
			return scape.Collection{}, fmt.Errorf("%w: data.rows[%d] has no data for column %q", ErrInvalidConfig, r, col.Name)
		}
		collection.Rows[r] = scape.Row{Name: row.Name, Sets: sets}
	}

	if err := collection.Validate(); err != nil {
		return scape.Collection{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return collection, nil
}

// ScapeDefinition is only meaningful after a successful Validate.
func (c *Config) ScapeDefinition() scape.Definition {
	return scape.Definition{
		Data:       c.collection,
		Calculated: append([]scape.CalculatedInput(nil), c.Calculated...),
		Outputs:    append([]scape.Output(nil), c.Outputs...),
		Fitness:    append([]string(nil), c.Fitness...),
	}
}

// CellControls returns nil (engine defaults), one shared control or one
// control per cell.
func (c *Config) CellControls() []nn.Control {
	if len(c.Controls.Cells) > 0 {
		out := make([]nn.Control, len(c.Controls.Cells))
		for i, control := range c.Controls.Cells {
			out[i] = genotype.ControlFromRecord(model.CellControl(control))
		}
		return out
	}
	if c.Controls.Default != nil {
		return []nn.Control{genotype.ControlFromRecord(model.CellControl(*c.Controls.Default))}
	}
	return nil
}

// InitialNets returns the nets listed in the config, or freshly
// synthesized ring nets when none are listed. IDs of synthesized nets are
// left empty.
func (c *Config) InitialNets() ([]*nn.Net, []string, error) {
	inputs := c.ScapeDefinition().InputCells()
	if len(c.Nets) == 0 {
		nets, err := genotype.Synthesize(c.Counts.Nets, c.Counts.TotalCells, inputs, c.CellControls())
		if err != nil {
			return nil, nil, err
		}
		return nets, make([]string, len(nets)), nil
	}
	nets := make([]*nn.Net, len(c.Nets))
	ids := make([]string, len(c.Nets))
	for i, rec := range c.Nets {
		net, err := genotype.FromRecord(rec, c.Counts.TotalCells, inputs)
		if err != nil {
			return nil, nil, err
		}
		nets[i] = net
		ids[i] = strings.TrimSpace(rec.ID)
	}
	return nets, ids, nil
}

func (c *Config) Phases() []evo.Phase {
	out := make([]evo.Phase, len(c.Evolution.Phases))
	for i, phase := range c.Evolution.Phases {
		out[i] = evo.Phase{Cycles: phase.Cycles, Rows: append([]int(nil), phase.Rows...)}
	}
	return out
}
