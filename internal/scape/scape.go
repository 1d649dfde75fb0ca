// Package scape feeds data collections into nets and scores them.
//
// A Scape owns the variables its formulas are bound to, so one instance must
// not be shared between goroutines. Use Clone to give each worker its own.
package scape

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spikenet/internal/expr"
	"spikenet/internal/nn"
)

var ErrInvalidDefinition = errors.New("invalid scape definition")

// CalculatedInput is an input cell fed by a formula instead of a data
// column. Its value is reset to Default at the start of every row.
type CalculatedInput struct {
	Name          string  `json:"name" yaml:"name"`
	Default       float64 `json:"default" yaml:"default"`
	UpdateFormula string  `json:"update_formula" yaml:"update_formula"`
}

// Output reads an output cell as activationCount/MaxActivations, capped at 1.
type Output struct {
	Name           string `json:"name" yaml:"name"`
	MaxActivations int    `json:"max_activations" yaml:"max_activations"`
}

type Definition struct {
	Data       Collection        `json:"data" yaml:"data"`
	Calculated []CalculatedInput `json:"calculated_inputs" yaml:"calculated_inputs"`
	Outputs    []Output          `json:"outputs" yaml:"outputs"`
	// Fitness holds one formula per data row. Lower totals rank better.
	Fitness []string `json:"fitness" yaml:"fitness"`
}

// InputCells is the number of leading net cells fed per frame.
func (d Definition) InputCells() int {
	return d.Data.InputWidth() + len(d.Calculated)
}

func (d Definition) OutputCells() int {
	return len(d.Outputs)
}

// Recorder observes Evaluate. It receives the cascade rounds of each frame
// through nn.Recorder, then one RecordFrame call once the frame's outputs
// have been read, then RecordRow once the row's fitness formula ran.
type Recorder interface {
	nn.Recorder
	RecordFrame(row, frame int, inputs, outputs []float64)
	RecordRow(row int, fitness float64)
}

type Scape struct {
	def Definition

	calculated []float64
	outputs    []float64
	windows    [][]float64

	updates []*expr.Evaluator
	fitness []*expr.Evaluator

	inputs  []float64
	pending []float64
}

func New(def Definition) (*Scape, error) {
	if err := def.Data.Validate(); err != nil {
		return nil, err
	}
	if len(def.Outputs) == 0 {
		return nil, fmt.Errorf("%w: at least one output is required", ErrInvalidDefinition)
	}
	for i, out := range def.Outputs {
		if out.MaxActivations < 1 {
			return nil, fmt.Errorf("%w: output %d max activations must be >= 1", ErrInvalidDefinition, i)
		}
	}
	if len(def.Fitness) != len(def.Data.Rows) {
		return nil, fmt.Errorf("%w: fitness formulas got=%d want=%d (one per row)",
			ErrInvalidDefinition, len(def.Fitness), len(def.Data.Rows))
	}

	s := &Scape{
		def:        def,
		calculated: make([]float64, len(def.Calculated)),
		outputs:    make([]float64, len(def.Outputs)),
		windows:    make([][]float64, len(def.Data.Columns)),
		inputs:     make([]float64, def.InputCells()),
		pending:    make([]float64, len(def.Calculated)),
	}

	bindings := expr.NewBindings()
	for i, col := range def.Data.Columns {
		s.windows[i] = def.Data.Window(0, i, 0)
		if err := bindings.Series(col.Name, &s.windows[i]); err != nil {
			return nil, fmt.Errorf("%w: column %d: %w", ErrInvalidDefinition, i, err)
		}
	}
	for i, in := range def.Calculated {
		if err := bindings.Scalar(strings.TrimSpace(in.Name), &s.calculated[i]); err != nil {
			return nil, fmt.Errorf("%w: calculated input %d: %w", ErrInvalidDefinition, i, err)
		}
	}
	for i, out := range def.Outputs {
		if err := bindings.Scalar(strings.TrimSpace(out.Name), &s.outputs[i]); err != nil {
			return nil, fmt.Errorf("%w: output %d: %w", ErrInvalidDefinition, i, err)
		}
	}

	s.updates = make([]*expr.Evaluator, len(def.Calculated))
	for i, in := range def.Calculated {
		e, err := expr.Compile(in.UpdateFormula, bindings)
		if err != nil {
			return nil, fmt.Errorf("%w: calculated input %s: %w", ErrInvalidDefinition, in.Name, err)
		}
		s.updates[i] = e
	}
	s.fitness = make([]*expr.Evaluator, len(def.Fitness))
	for i, formula := range def.Fitness {
		e, err := expr.Compile(formula, bindings)
		if err != nil {
			return nil, fmt.Errorf("%w: fitness row %d: %w", ErrInvalidDefinition, i, err)
		}
		s.fitness[i] = e
	}
	return s, nil
}

// Clone returns an independent Scape over the same read-only data.
func (s *Scape) Clone() *Scape {
	clone, err := New(s.def)
	if err != nil {
		panic(fmt.Sprintf("clone of a valid scape failed: %v", err))
	}
	return clone
}

func (s *Scape) Definition() Definition { return s.def }
func (s *Scape) InputCells() int        { return s.def.InputCells() }
func (s *Scape) OutputCells() int       { return s.def.OutputCells() }
func (s *Scape) RowCount() int          { return len(s.def.Data.Rows) }

// Evaluate stimulates net with every frame of the selected rows (all rows
// when rows is empty) and adds each row's fitness to the net. It returns the
// total added. rec may be nil.
func (s *Scape) Evaluate(ctx context.Context, net *nn.Net, maxRounds int, rows []int, rec Recorder) (float64, error) {
	if net.Len() < s.InputCells()+s.OutputCells() {
		return 0, fmt.Errorf("net has %d cells, scape needs %d", net.Len(), s.InputCells()+s.OutputCells())
	}
	if maxRounds < 1 {
		return 0, fmt.Errorf("max rounds must be >= 1")
	}

	var total float64
	if len(rows) == 0 {
		for row := range s.def.Data.Rows {
			delta, err := s.evaluateRow(ctx, net, maxRounds, row, rec)
			if err != nil {
				return total, err
			}
			total += delta
		}
		return total, nil
	}
	for _, row := range rows {
		if row < 0 || row >= len(s.def.Data.Rows) {
			return total, fmt.Errorf("row index %d out of range [0, %d)", row, len(s.def.Data.Rows))
		}
		delta, err := s.evaluateRow(ctx, net, maxRounds, row, rec)
		if err != nil {
			return total, err
		}
		total += delta
	}
	return total, nil
}

func (s *Scape) evaluateRow(ctx context.Context, net *nn.Net, maxRounds, row int, rec Recorder) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	for i, in := range s.def.Calculated {
		s.calculated[i] = in.Default
	}
	data := s.def.Data
	inputBase := data.InputWidth()
	outputBase := s.InputCells()

	var netRec nn.Recorder
	if rec != nil {
		netRec = rec
	}

	for frame := 0; frame < data.FrameCount; frame++ {
		cell := 0
		for c, col := range data.Columns {
			for sub := 0; sub < col.FrameLength; sub++ {
				s.inputs[cell] = data.DataPoint(row, c, frame, sub)
				cell++
			}
		}
		copy(s.inputs[inputBase:], s.calculated)

		net.Stimulate(s.inputs, maxRounds, netRec)

		for i, out := range s.def.Outputs {
			s.outputs[i] = net.OutputRatio(outputBase+i, out.MaxActivations)
		}
		if rec != nil {
			rec.RecordFrame(row, frame, s.inputs, s.outputs)
		}

		for c := range data.Columns {
			s.windows[c] = data.Window(row, c, frame+1)
		}
		for i, update := range s.updates {
			v, err := update.Eval()
			if err != nil {
				return 0, fmt.Errorf("row %d frame %d: calculated input %s: %w", row, frame, s.def.Calculated[i].Name, err)
			}
			s.pending[i] = v
		}
		copy(s.calculated, s.pending)
	}

	delta, err := s.fitness[row].Eval()
	if err != nil {
		return 0, fmt.Errorf("row %d fitness: %w", row, err)
	}
	net.AddFitness(delta)
	if rec != nil {
		rec.RecordRow(row, delta)
	}
	return delta, nil
}
