package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"spikenet/internal/evo"
	"spikenet/internal/genotype"
	"spikenet/internal/model"
	"spikenet/internal/nn"
)

const baseConfig = `
name: tiny
counts:
  nets: 4
  total_cells: 4
  max_rounds: 3
data:
  name: ramp
  frame_count: 2
  columns:
    - name: x
      frame_length: 1
      shift_length: 1
  rows:
    - name: up
      sets:
        x: [0, 1, 2]
    - name: down
      sets:
        x: [2, 1, 0]
outputs:
  - name: out
    max_activations: 2
fitness:
  - abs(out - x[0] / 2)
  - abs(out - 0.5)
evolution:
  cycles: 5
  mutations_per_cycle: 2
  mutation_amplitude: 0.5
  reproduction: sexual
  max_splice_length: 2
  workers: 2
  seed: 7
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(baseConfig), "")
	require.NoError(t, err)

	require.Equal(t, "tiny", cfg.Name)
	def := cfg.ScapeDefinition()
	require.Equal(t, 1, def.InputCells())
	require.Equal(t, 1, def.OutputCells())
	require.Equal(t, []float64{2, 1, 0}, def.Data.Rows[1].Sets[0])
	require.Equal(t, "down", def.Data.Rows[1].Name)
	require.Nil(t, cfg.CellControls())
	require.Empty(t, cfg.Phases())

	nets, ids, err := cfg.InitialNets()
	require.NoError(t, err)
	require.Len(t, nets, 4)
	require.Len(t, ids, 4)
	for _, net := range nets {
		require.Equal(t, 4, net.Len())
		require.NoError(t, net.Validate())
	}
}

func TestParseCalculatedInputsAndPhases(t *testing.T) {
	text := baseConfig + `
calculated_inputs:
  - name: acc
    default: 0.5
    update_formula: acc + out
`
	text = strings.Replace(text, "  cycles: 5\n", "  phases:\n    - cycles: 2\n      rows: [1]\n    - cycles: 3\n", 1)
	cfg, err := Parse([]byte(text), "")
	require.NoError(t, err)
	require.Equal(t, 2, cfg.ScapeDefinition().InputCells())
	require.Equal(t, []evo.Phase{{Cycles: 2, Rows: []int{1}}, {Cycles: 3, Rows: []int{}}}, normalizePhases(cfg.Phases()))

	mismatch := strings.Replace(text, "  max_rounds: 3\n", "  max_rounds: 3\n  input_cells: 1\n", 1)
	_, err = Parse([]byte(mismatch), "")
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "counts.input_cells")
}

func normalizePhases(phases []evo.Phase) []evo.Phase {
	for i := range phases {
		if phases[i].Rows == nil {
			phases[i].Rows = []int{}
		}
	}
	return phases
}

func TestControlsDecodeOverDefaults(t *testing.T) {
	text := baseConfig + `
controls:
  default:
    internal_spread: 2.5
    link_sign_flip_freq: 0
`
	cfg, err := Parse([]byte(text), "")
	require.NoError(t, err)

	controls := cfg.CellControls()
	require.Len(t, controls, 1)
	want := nn.DefaultControl()
	want.InternalSpread = 2.5
	want.LinkSignFlipFreq = 0
	require.Equal(t, want, controls[0])

	perCell := baseConfig + `
controls:
  cells:
    - {}
    - {}
    - {}
    - refractory_period_spread: 4
`
	cfg, err = Parse([]byte(perCell), "")
	require.NoError(t, err)
	controls = cfg.CellControls()
	require.Len(t, controls, 4)
	require.Equal(t, nn.DefaultControl(), controls[0])
	require.Equal(t, 4, controls[3].RefractoryPeriodSpread)

	nets, _, err := cfg.InitialNets()
	require.NoError(t, err)
	require.Equal(t, 4, nets[0].Cell(3).Control().RefractoryPeriodSpread)
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	cases := map[string]struct {
		old, new string
		want     string
	}{
		"single net":         {"  nets: 4\n", "  nets: 1\n", "counts.nets"},
		"no rounds":          {"  max_rounds: 3\n", "  max_rounds: 0\n", "counts.max_rounds"},
		"too few cells":      {"  total_cells: 4\n", "  total_cells: 2\n", "counts.total_cells"},
		"short data set":     {"x: [2, 1, 0]", "x: [2, 1]", "points"},
		"unknown column":     {"x: [2, 1, 0]", "y: [2, 1, 0]", "unknown column"},
		"unknown variable":   {"abs(out - 0.5)", "abs(missing - 0.5)", "fitness row 1"},
		"missing fitness":    {"  - abs(out - 0.5)\n", "", "fitness formulas"},
		"unknown field":      {"name: tiny\n", "name: tiny\nbogus: 1\n", "decode"},
		"bad reproduction":   {"reproduction: sexual", "reproduction: budding", "evolution.reproduction"},
		"splice required":    {"  max_splice_length: 2\n", "", "max_splice_length"},
		"negative mutations": {"mutations_per_cycle: 2", "mutations_per_cycle: -1", "mutations_per_cycle"},
		"no cycles":          {"  cycles: 5\n", "", "evolution.cycles"},
		"phase row":          {"  cycles: 5\n", "  phases:\n    - cycles: 2\n      rows: [3]\n", "out of range"},
		"phase total":        {"  cycles: 5\n", "  cycles: 4\n  phases:\n    - cycles: 2\n", "phases total"},
		"output count":       {"  max_rounds: 3\n", "  max_rounds: 3\n  output_cells: 2\n", "counts.output_cells"},
		"bad control":        {"name: tiny\n", "name: tiny\ncontrols:\n  default:\n    refractory_period_spread: 0\n", "controls 0"},
		"controls per cell":  {"name: tiny\n", "name: tiny\ncontrols:\n  cells:\n    - {}\n", "controls.cells"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			text := strings.Replace(baseConfig, tc.old, tc.new, 1)
			require.NotEqual(t, baseConfig, text)
			_, err := Parse([]byte(text), "")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadResolvesColumnFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.csv"), []byte("a,b,c\n0,1,2\n5,6,7\n"), 0o644))

	text := strings.Replace(baseConfig, "      shift_length: 1\n", "      shift_length: 1\n      file: x.csv\n", 1)
	text = strings.Replace(text, "      sets:\n        x: [0, 1, 2]\n", "", 1)
	text = strings.Replace(text, "      sets:\n        x: [2, 1, 0]\n", "", 1)
	path := filepath.Join(dir, "population.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	def := cfg.ScapeDefinition()
	require.Equal(t, []float64{0, 1, 2}, def.Data.Rows[0].Sets[0])
	require.Equal(t, []float64{5, 6, 7}, def.Data.Rows[1].Sets[0])

	_, err = Load(filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMissingColumnFile(t *testing.T) {
	text := strings.Replace(baseConfig, "      shift_length: 1\n", "      shift_length: 1\n      file: nope.csv\n", 1)
	_, err := Parse([]byte(text), t.TempDir())
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.Contains(t, err.Error(), "data.columns[0]")
}

func TestParseListedNets(t *testing.T) {
	records := make([]model.NetRecord, 4)
	for i := range records {
		records[i] = genotype.ToRecord("seeded", nn.NewRingNet(4, 1, nil))
	}
	extra, err := yaml.Marshal(struct {
		Nets []model.NetRecord `yaml:"nets"`
	}{Nets: records})
	require.NoError(t, err)

	cfg, err := Parse([]byte(baseConfig+string(extra)), "")
	require.NoError(t, err)
	nets, ids, err := cfg.InitialNets()
	require.NoError(t, err)
	require.Len(t, nets, 4)
	require.Equal(t, "seeded", ids[0])
	require.Equal(t, 1, nets[0].Cell(0).LinkCount())

	short, err := yaml.Marshal(struct {
		Nets []model.NetRecord `yaml:"nets"`
	}{Nets: records[:2]})
	require.NoError(t, err)
	_, err = Parse([]byte(baseConfig+string(short)), "")
	require.ErrorIs(t, err, ErrInvalidConfig)
}
