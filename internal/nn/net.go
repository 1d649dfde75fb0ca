package nn

import (
	"errors"
	"fmt"
)

// MinCells is the smallest net the topology operators support.
const MinCells = 3

var (
	ErrTooFewCells     = errors.New("net requires at least 3 cells")
	ErrCellIndex       = errors.New("cell index does not match position")
	ErrLinkOrder       = errors.New("links are not strictly ascending")
	ErrLinkTarget      = errors.New("link target out of range")
	ErrSelfLink        = errors.New("link targets its own cell")
	ErrLinkCount       = errors.New("link count out of range")
	ErrCellParameter   = errors.New("cell parameter out of range")
	ErrPriorLinkCount  = errors.New("prior link count mismatch")
	ErrDiffusalCoeff   = errors.New("input diffusal coefficient is stale")
	ErrNetSizeMismatch = errors.New("nets differ in cell count")
)

// MutationKind identifies one of the eight per-cell mutation operators.
type MutationKind int

const (
	MutationAddLink MutationKind = iota
	MutationReplaceLink
	MutationRemoveLink
	MutationLinkWeight
	MutationInternalCoeff
	MutationBroadcastCoeff
	MutationDecayRate
	MutationRefractoryPeriod

	mutationKindCount
)

func (k MutationKind) String() string {
	switch k {
	case MutationAddLink:
		return "add_link"
	case MutationReplaceLink:
		return "replace_link"
	case MutationRemoveLink:
		return "remove_link"
	case MutationLinkWeight:
		return "mutate_link_weight"
	case MutationInternalCoeff:
		return "mutate_internal_coeff"
	case MutationBroadcastCoeff:
		return "mutate_broadcast_coeff"
	case MutationDecayRate:
		return "mutate_decay_rate"
	case MutationRefractoryPeriod:
		return "mutate_refractory_period"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// Structural reports whether the kind changes link topology.
func (k MutationKind) Structural() bool {
	return k <= MutationRemoveLink
}

// Net is a fixed-size, index-addressed collection of cells plus the
// fitness accumulated during the current evaluation cycle (lower is better).
type Net struct {
	cells   []Cell
	fitness float64
}

// NewNet builds a net from cell genomes and derives every prior link count
// from the topology, adding one for each of the first inputCount cells.
func NewNet(params []CellParams, inputCount int) *Net {
	cells := make([]Cell, len(params))
	for i, p := range params {
		cells[i] = NewCell(p)
	}
	n := &Net{cells: cells}
	n.RecountPriorLinks(inputCount)
	return n
}

// NewRingNet synthesizes a net where every cell links to its successor and
// the last cell links back to the first. controls may be empty (defaults),
// a single shared control, or one control per cell.
func NewRingNet(totalCells, inputCount int, controls []Control) *Net {
	params := make([]CellParams, totalCells)
	for i := range params {
		target := i + 1
		if i == totalCells-1 {
			target = 0
		}
		params[i] = CellParams{
			Index:            i,
			Control:          controlAt(controls, i),
			InternalCoeff:    1.0,
			BroadcastCoeff:   1.0,
			DecayRate:        0.5,
			RefractoryPeriod: 2,
			Links:            []Link{{Target: target, Weight: 1.0}},
		}
	}
	return NewNet(params, inputCount)
}

func controlAt(controls []Control, i int) Control {
	switch {
	case len(controls) == 0:
		return DefaultControl()
	case len(controls) == 1:
		return controls[0]
	default:
		return controls[i]
	}
}

// RecountPriorLinks recomputes every cell's prior link count from the
// current topology.
func (n *Net) RecountPriorLinks(inputCount int) {
	counts := n.incomingCounts(inputCount)
	for i := range n.cells {
		n.cells[i].SetPriorLinkCount(counts[i])
	}
}

func (n *Net) incomingCounts(inputCount int) []int {
	counts := make([]int, len(n.cells))
	for i := range n.cells {
		if i < inputCount {
			counts[i]++
		}
		for _, link := range n.cells[i].links {
			counts[link.Target]++
		}
	}
	return counts
}

func (n *Net) Len() int { return len(n.cells) }

// Cell returns a pointer into the net's storage; callers must not retain it
// across Clone or Meiosis.
func (n *Net) Cell(i int) *Cell { return &n.cells[i] }

func (n *Net) Fitness() float64 { return n.fitness }

func (n *Net) ResetFitness() { n.fitness = 0 }

// AddFitness accumulates a fitness delta as given.
func (n *Net) AddFitness(delta float64) { n.fitness += delta }

// Params returns the genome of every cell in index order.
func (n *Net) Params() []CellParams {
	out := make([]CellParams, len(n.cells))
	for i := range n.cells {
		out[i] = n.cells[i].Params()
	}
	return out
}

// Clone returns an independent deep copy.
func (n *Net) Clone() *Net {
	out := &Net{cells: make([]Cell, len(n.cells)), fitness: n.fitness}
	for i := range n.cells {
		out.cells[i] = n.cells[i].clone()
	}
	return out
}

// CloneFrom overwrites every cell (and the fitness) with a deep copy of src.
func (n *Net) CloneFrom(src *Net) {
	if len(n.cells) != len(src.cells) {
		n.cells = make([]Cell, len(src.cells))
	}
	for i := range src.cells {
		n.cells[i] = src.cells[i].clone()
	}
	n.fitness = src.fitness
}

// Meiosis overwrites n with consecutive runs of cells taken by absolute index
// from mother or father. Each run is 1..maxSplice cells long, clamped to the
// cells still unfilled, and each parent is chosen with equal probability.
func (n *Net) Meiosis(mother, father *Net, maxSplice int, rng Rand) {
	total := len(mother.cells)
	if len(father.cells) != total {
		panic(ErrNetSizeMismatch)
	}
	if maxSplice < 1 {
		panic("meiosis requires maxSplice >= 1")
	}
	if len(n.cells) != total {
		n.cells = make([]Cell, total)
	}

	filled := 0
	for filled < total {
		splice := rng.Intn(maxSplice) + 1
		if splice > total-filled {
			splice = total - filled
		}
		parent := father
		if rng.Intn(2) == 1 {
			parent = mother
		}
		for i := filled; i < filled+splice; i++ {
			n.cells[i] = parent.cells[i].clone()
		}
		filled += splice
	}
}

// Mutate applies count mutations, each to a uniformly drawn cell with a
// uniformly drawn operator kind, and returns the kinds applied in order.
func (n *Net) Mutate(rng Rand, count int, amplitude float64) []MutationKind {
	applied := make([]MutationKind, 0, count)
	for i := 0; i < count; i++ {
		cellIndex := rng.Intn(len(n.cells))
		kind := MutationKind(rng.Intn(int(mutationKindCount)))
		applied = append(applied, n.ApplyMutation(rng, cellIndex, kind, amplitude))
	}
	return applied
}

// ApplyMutation runs one operator on one cell. Structural kinds go through
// MutateLinks, so the kind actually applied may differ from the one asked
// for when the link count is at a bound.
func (n *Net) ApplyMutation(rng Rand, cellIndex int, kind MutationKind, amplitude float64) MutationKind {
	cell := &n.cells[cellIndex]
	switch kind {
	case MutationAddLink, MutationReplaceLink, MutationRemoveLink:
		return n.MutateLinks(rng, cellIndex, kind)
	case MutationLinkWeight:
		cell.MutateLinkWeight(rng, amplitude)
	case MutationInternalCoeff:
		cell.MutateInternalCoeff(rng, amplitude)
	case MutationBroadcastCoeff:
		cell.MutateBroadcastCoeff(rng, amplitude)
	case MutationDecayRate:
		cell.MutateDecayRate(rng, amplitude)
	case MutationRefractoryPeriod:
		cell.MutateRefractoryPeriod(rng, amplitude)
	default:
		panic(fmt.Sprintf("unknown mutation kind %d", int(kind)))
	}
	return kind
}

// Validate checks the structural invariants of every cell. It does not
// compare prior link counts with the topology; see ValidatePriorLinks.
func (n *Net) Validate() error {
	total := len(n.cells)
	if total < MinCells {
		return ErrTooFewCells
	}
	for i := range n.cells {
		c := &n.cells[i]
		if c.index != i {
			return fmt.Errorf("cell %d: %w (index=%d)", i, ErrCellIndex, c.index)
		}
		if len(c.links) < 1 || len(c.links) > total-1 {
			return fmt.Errorf("cell %d: %w: %d", i, ErrLinkCount, len(c.links))
		}
		prev := -1
		for _, link := range c.links {
			if link.Target < 0 || link.Target >= total {
				return fmt.Errorf("cell %d: %w: %d", i, ErrLinkTarget, link.Target)
			}
			if link.Target == i {
				return fmt.Errorf("cell %d: %w", i, ErrSelfLink)
			}
			if link.Target <= prev {
				return fmt.Errorf("cell %d: %w at target %d", i, ErrLinkOrder, link.Target)
			}
			prev = link.Target
		}
		if c.internalCoeff < 0 {
			return fmt.Errorf("cell %d: %w: internal coeff %g", i, ErrCellParameter, c.internalCoeff)
		}
		if c.decayRate < 0 || c.decayRate > 1 {
			return fmt.Errorf("cell %d: %w: decay rate %g", i, ErrCellParameter, c.decayRate)
		}
		if c.refractoryPeriod < 1 {
			return fmt.Errorf("cell %d: %w: refractory period %d", i, ErrCellParameter, c.refractoryPeriod)
		}
		if c.control.RefractoryPeriodSpread < 1 {
			return fmt.Errorf("cell %d: %w: refractory period spread %d", i, ErrCellParameter, c.control.RefractoryPeriodSpread)
		}
		want := 1.0
		if c.priorLinkCount > 3 {
			want = 3.0 / float64(c.priorLinkCount)
		}
		if c.inputDiffusalCoeff != want {
			return fmt.Errorf("cell %d: %w", i, ErrDiffusalCoeff)
		}
	}
	return nil
}

// ValidatePriorLinks compares every stored prior link count with the count
// implied by the topology and the input bonus.
func (n *Net) ValidatePriorLinks(inputCount int) error {
	counts := n.incomingCounts(inputCount)
	for i := range n.cells {
		if n.cells[i].priorLinkCount != counts[i] {
			return fmt.Errorf("cell %d: %w: stored=%d actual=%d", i, ErrPriorLinkCount, n.cells[i].priorLinkCount, counts[i])
		}
	}
	return nil
}
