package nn

// MutateInternalCoeff shifts the activation gain. A shift that would make it
// negative is applied with the opposite sign instead.
func (c *Cell) MutateInternalCoeff(rng Rand, amplitude float64) {
	delta := (rng.Float64() - 0.5) * c.control.InternalSpread * amplitude
	if c.internalCoeff+delta >= 0 {
		c.internalCoeff += delta
		return
	}
	c.internalCoeff -= delta
}

func (c *Cell) MutateBroadcastCoeff(rng Rand, amplitude float64) {
	c.broadcastCoeff = shiftOrFlip(rng.Float64(), c.broadcastCoeff, c.control.BroadcastSignFlipFreq, c.control.BroadcastSpread, amplitude)
}

// MutateLinkWeight adjusts one random outgoing link.
func (c *Cell) MutateLinkWeight(rng Rand, amplitude float64) {
	pos := rng.Intn(len(c.links))
	c.links[pos].Weight = shiftOrFlip(rng.Float64(), c.links[pos].Weight, c.control.LinkSignFlipFreq, c.control.LinkWeightSpread, amplitude)
}

func shiftOrFlip(u, value, flipFreq, spread, amplitude float64) float64 {
	delta := (u - 0.5) * spread * amplitude
	if u < flipFreq {
		return -(value + delta)
	}
	return value + delta
}

// MutateDecayRate nudges the decay rate and clamps it to [0, 1].
func (c *Cell) MutateDecayRate(rng Rand, amplitude float64) {
	c.decayRate += (rng.Float64() - 0.5) * 0.1 * c.control.DecayRateSpread * amplitude
	switch {
	case c.decayRate < 0:
		c.decayRate = 0
	case c.decayRate > 1:
		c.decayRate = 1
	}
}

// MutateRefractoryPeriod lengthens or shortens the refractory period by at
// least one round. It never drops below 1.
func (c *Cell) MutateRefractoryPeriod(rng Rand, amplitude float64) {
	increase := rng.Intn(2) == 1
	step := int(float64(rng.Intn(c.control.RefractoryPeriodSpread))*amplitude) + 1
	if increase {
		c.refractoryPeriod += step
		return
	}
	c.refractoryPeriod -= step
	if c.refractoryPeriod < 1 {
		c.refractoryPeriod = 1
	}
}
