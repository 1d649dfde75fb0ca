package genotype

import (
	"errors"
	"fmt"
	"strings"

	"spikenet/internal/model"
	"spikenet/internal/nn"
)

var ErrInvalidNet = errors.New("invalid net record")

// Synthesize builds netCount ring nets sharing one layout. controls is
// passed through to nn.NewRingNet: empty for defaults, one shared entry, or
// one entry per cell.
func Synthesize(netCount, totalCells, inputCells int, controls []nn.Control) ([]*nn.Net, error) {
	if netCount <= 0 {
		return nil, fmt.Errorf("net count must be > 0")
	}
	if totalCells < nn.MinCells {
		return nil, fmt.Errorf("total cells must be >= %d", nn.MinCells)
	}
	if inputCells < 0 || inputCells > totalCells {
		return nil, fmt.Errorf("input cells must be in [0, %d]", totalCells)
	}
	if len(controls) > 1 && len(controls) != totalCells {
		return nil, fmt.Errorf("cell controls mismatch: got=%d want=1 or %d", len(controls), totalCells)
	}
	for i, control := range controls {
		if err := ValidateControl(control); err != nil {
			return nil, fmt.Errorf("cell control %d: %w", i, err)
		}
	}

	nets := make([]*nn.Net, netCount)
	for i := range nets {
		nets[i] = nn.NewRingNet(totalCells, inputCells, controls)
	}
	return nets, nil
}

func ValidateControl(c nn.Control) error {
	if c.RefractoryPeriodSpread < 1 {
		return fmt.Errorf("refractory period spread must be >= 1")
	}
	if c.BroadcastSignFlipFreq < 0 || c.BroadcastSignFlipFreq > 1 {
		return fmt.Errorf("broadcast sign flip frequency must be in [0, 1]")
	}
	if c.LinkSignFlipFreq < 0 || c.LinkSignFlipFreq > 1 {
		return fmt.Errorf("link sign flip frequency must be in [0, 1]")
	}
	return nil
}

// FromRecord validates a decoded net and converts it. Every structural
// invariant the engine assumes is checked here, so a record that passes can
// be mutated and stimulated without tripping engine panics.
func FromRecord(rec model.NetRecord, totalCells, inputCells int) (*nn.Net, error) {
	label := strings.TrimSpace(rec.ID)
	if label == "" {
		label = "<unnamed>"
	}
	if len(rec.Cells) != totalCells {
		return nil, fmt.Errorf("%w %s: cell count got=%d want=%d", ErrInvalidNet, label, len(rec.Cells), totalCells)
	}

	params := make([]nn.CellParams, len(rec.Cells))
	for i, cell := range rec.Cells {
		if err := validateCellRecord(cell, i, totalCells); err != nil {
			return nil, fmt.Errorf("%w %s: cell %d: %w", ErrInvalidNet, label, i, err)
		}
		params[i] = cellParams(cell)
	}

	net := nn.NewNet(params, inputCells)
	if err := net.Validate(); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidNet, label, err)
	}
	net.AddFitness(rec.Fitness)
	return net, nil
}

func validateCellRecord(cell model.CellRecord, position, totalCells int) error {
	if cell.Index != position {
		return nn.ErrCellIndex
	}
	if len(cell.Links) < 1 || len(cell.Links) > totalCells-1 {
		return fmt.Errorf("%w: %d", nn.ErrLinkCount, len(cell.Links))
	}
	prev := -1
	for _, link := range cell.Links {
		switch {
		case link.Target < 0 || link.Target >= totalCells:
			return fmt.Errorf("%w: %d", nn.ErrLinkTarget, link.Target)
		case link.Target == position:
			return nn.ErrSelfLink
		case link.Target <= prev:
			return fmt.Errorf("%w at target %d", nn.ErrLinkOrder, link.Target)
		}
		prev = link.Target
	}
	if cell.RefractoryPeriod < 1 {
		return fmt.Errorf("%w: refractory period %d", nn.ErrCellParameter, cell.RefractoryPeriod)
	}
	if err := ValidateControl(ControlFromRecord(cell.Control)); err != nil {
		return fmt.Errorf("%w: %w", nn.ErrCellParameter, err)
	}
	return nil
}

func cellParams(cell model.CellRecord) nn.CellParams {
	links := make([]nn.Link, len(cell.Links))
	for i, link := range cell.Links {
		links[i] = nn.Link{Target: link.Target, Weight: link.Weight}
	}
	return nn.CellParams{
		Index:            cell.Index,
		Control:          ControlFromRecord(cell.Control),
		InternalCoeff:    cell.InternalCoeff,
		BroadcastCoeff:   cell.BroadcastCoeff,
		DecayRate:        cell.DecayRate,
		RefractoryPeriod: cell.RefractoryPeriod,
		Links:            links,
	}
}

// ToRecord snapshots a net. The record is unversioned; storage stamps it.
func ToRecord(id string, net *nn.Net) model.NetRecord {
	params := net.Params()
	cells := make([]model.CellRecord, len(params))
	for i, p := range params {
		links := make([]model.LinkRecord, len(p.Links))
		for j, link := range p.Links {
			links[j] = model.LinkRecord{Target: link.Target, Weight: link.Weight}
		}
		cells[i] = model.CellRecord{
			Index:            p.Index,
			Control:          ControlToRecord(p.Control),
			InternalCoeff:    p.InternalCoeff,
			BroadcastCoeff:   p.BroadcastCoeff,
			DecayRate:        p.DecayRate,
			RefractoryPeriod: p.RefractoryPeriod,
			Links:            links,
		}
	}
	return model.NetRecord{ID: id, Fitness: net.Fitness(), Cells: cells}
}

func ControlFromRecord(c model.CellControl) nn.Control {
	return nn.Control{
		LinkWeightCenter:       c.LinkWeightCenter,
		InternalSpread:         c.InternalSpread,
		BroadcastSpread:        c.BroadcastSpread,
		LinkWeightSpread:       c.LinkWeightSpread,
		DecayRateSpread:        c.DecayRateSpread,
		RefractoryPeriodSpread: c.RefractoryPeriodSpread,
		BroadcastSignFlipFreq:  c.BroadcastSignFlipFreq,
		LinkSignFlipFreq:       c.LinkSignFlipFreq,
	}
}

func ControlToRecord(c nn.Control) model.CellControl {
	return model.CellControl{
		LinkWeightCenter:       c.LinkWeightCenter,
		InternalSpread:         c.InternalSpread,
		BroadcastSpread:        c.BroadcastSpread,
		LinkWeightSpread:       c.LinkWeightSpread,
		DecayRateSpread:        c.DecayRateSpread,
		RefractoryPeriodSpread: c.RefractoryPeriodSpread,
		BroadcastSignFlipFreq:  c.BroadcastSignFlipFreq,
		LinkSignFlipFreq:       c.LinkSignFlipFreq,
	}
}
