package nn

// Control holds the fixed per-cell parameters that scale later mutations.
type Control struct {
	LinkWeightCenter       float64
	InternalSpread         float64
	BroadcastSpread        float64
	LinkWeightSpread       float64
	DecayRateSpread        float64
	RefractoryPeriodSpread int
	BroadcastSignFlipFreq  float64
	LinkSignFlipFreq       float64
}

func DefaultControl() Control {
	return Control{
		LinkWeightCenter:       1.0,
		InternalSpread:         1.0,
		BroadcastSpread:        1.0,
		LinkWeightSpread:       1.0,
		DecayRateSpread:        1.0,
		RefractoryPeriodSpread: 2,
		BroadcastSignFlipFreq:  0.01,
		LinkSignFlipFreq:       0.01,
	}
}

// CellParams is the genome of a single cell as supplied by a constructor or
// a loader. Links must already be sorted, unique and free of self targets.
type CellParams struct {
	Index            int
	Control          Control
	InternalCoeff    float64
	BroadcastCoeff   float64
	DecayRate        float64
	RefractoryPeriod int
	Links            []Link
}

// Cell is one node of a net. Its prior link count is owned by the net and
// kept in step with every structural mutation.
type Cell struct {
	index   int
	control Control

	internalCoeff    float64
	broadcastCoeff   float64
	decayRate        float64
	refractoryPeriod int
	links            []Link

	priorLinkCount     int
	inputDiffusalCoeff float64

	stimulus                float64
	lastRoundChanged        int
	refractionCompleteRound int
	activationCount         int
}

func NewCell(p CellParams) Cell {
	return Cell{
		index:              p.Index,
		control:            p.Control,
		internalCoeff:      p.InternalCoeff,
		broadcastCoeff:     p.BroadcastCoeff,
		decayRate:          p.DecayRate,
		refractoryPeriod:   p.RefractoryPeriod,
		links:              copyLinks(p.Links),
		inputDiffusalCoeff: 1.0,
	}
}

func (c *Cell) Index() int { return c.index }
func (c *Cell) Control() Control { return c.control }
func (c *Cell) InternalCoeff() float64 { return c.internalCoeff }
func (c *Cell) BroadcastCoeff() float64 { return c.broadcastCoeff }
func (c *Cell) DecayRate() float64 { return c.decayRate }
func (c *Cell) RefractoryPeriod() int { return c.refractoryPeriod }
func (c *Cell) LinkCount() int { return len(c.links) }
func (c *Cell) PriorLinkCount() int { return c.priorLinkCount }
func (c *Cell) InputDiffusalCoeff() float64 { return c.inputDiffusalCoeff }
func (c *Cell) Stimulus() float64 { return c.stimulus }
func (c *Cell) LastRoundChanged() int { return c.lastRoundChanged }
func (c *Cell) RefractionCompleteRound() int { return c.refractionCompleteRound }
func (c *Cell) ActivationCount() int { return c.activationCount }

// Links returns a copy of the outgoing links in ascending target order.
func (c *Cell) Links() []Link {
	return copyLinks(c.links)
}

// Params returns the cell genome in constructor form.
func (c *Cell) Params() CellParams {
	return CellParams{
		Index:            c.index,
		Control:          c.control,
		InternalCoeff:    c.internalCoeff,
		BroadcastCoeff:   c.broadcastCoeff,
		DecayRate:        c.decayRate,
		RefractoryPeriod: c.refractoryPeriod,
		Links:            copyLinks(c.links),
	}
}

// SetPriorLinkCount stores the number of incoming links (input bonus
// included) and refreshes the diffusal coefficient.
func (c *Cell) SetPriorLinkCount(count int) {
	c.priorLinkCount = count
	c.updateInputDiffusalCoeff()
}

// Up to three incoming connections pass stimulus undiluted; beyond that the
// signal is shared proportionally.
func (c *Cell) updateInputDiffusalCoeff() {
	if c.priorLinkCount > 3 {
		c.inputDiffusalCoeff = 3.0 / float64(c.priorLinkCount)
		return
	}
	c.inputDiffusalCoeff = 1.0
}

func (c *Cell) adjustPriorLinkCount(delta int) {
	c.priorLinkCount += delta
	c.updateInputDiffusalCoeff()
}

func (c *Cell) clone() Cell {
	out := *c
	out.links = copyLinks(c.links)
	return out
}

// Reset clears the per-pass tracking state.
func (c *Cell) Reset() {
	c.stimulus = 0
	c.lastRoundChanged = 0
	c.refractionCompleteRound = 0
	c.activationCount = 0
}

// AddExternalStimulus applies external input in round 1.
func (c *Cell) AddExternalStimulus(value float64) {
	c.stimulus = value * c.inputDiffusalCoeff
	c.lastRoundChanged = 1
}

// TestActivation fires the cell when its stimulus reaches threshold.
func (c *Cell) TestActivation(round int) bool {
	if c.stimulus*c.internalCoeff >= 1.0 {
		c.activate(round)
		return true
	}
	return false
}

func (c *Cell) activate(round int) {
	c.stimulus = 0
	c.activationCount++
	c.refractionCompleteRound = round + c.refractoryPeriod
}

// DecayTo applies one decay step per round elapsed since the last change.
func (c *Cell) DecayTo(round int) {
	for c.lastRoundChanged < round {
		c.stimulus *= c.decayRate
		c.lastRoundChanged++
	}
}

// DecayedStimulus reports the stimulus the cell would hold at round without
// modifying it.
func (c *Cell) DecayedStimulus(round int) float64 {
	value := c.stimulus
	for r := c.lastRoundChanged; r < round; r++ {
		value *= c.decayRate
	}
	return value
}

// InRefraction reports whether the cell is still recovering at round.
func (c *Cell) InRefraction(round int) bool {
	return c.refractionCompleteRound > round
}

// Receive accumulates a weighted delta. Deltas arriving during the
// refractory period are dropped.
func (c *Cell) Receive(delta float64, round int) {
	if c.InRefraction(round) {
		return
	}
	if c.stimulus == 0 {
		c.stimulus = delta
		c.lastRoundChanged = round
		return
	}
	if c.lastRoundChanged < round {
		c.DecayTo(round)
	}
	c.stimulus += delta
	c.lastRoundChanged = round
}
