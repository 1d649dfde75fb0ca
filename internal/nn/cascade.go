package nn

// Recorder observes a stimulation pass. RecordRound is called once per round
// that produced activations, with the activated cell indices in activation
// order. The slice is reused after the call returns.
type Recorder interface {
	RecordRound(round int, activated []int)
}

// Stimulate runs one pass: every cell is reset, inputs[i] is applied to cell
// i in round 1, and activations then cascade along links for rounds
// 2..maxRounds, stopping early once a round activates nothing. rec may be
// nil.
func (n *Net) Stimulate(inputs []float64, maxRounds int, rec Recorder) {
	if len(inputs) > len(n.cells) {
		panic("more inputs than cells")
	}
	for i := range n.cells {
		n.cells[i].Reset()
	}

	current := make([]int, 0, len(n.cells))
	for i, value := range inputs {
		cell := &n.cells[i]
		cell.AddExternalStimulus(value)
		if cell.TestActivation(1) {
			current = append(current, i)
		}
	}
	if rec != nil && len(current) > 0 {
		rec.RecordRound(1, current)
	}

	next := make([]int, 0, len(n.cells))
	for round := 2; round <= maxRounds && len(current) > 0; round++ {
		for _, pre := range current {
			n.broadcast(pre, round)
		}
		next = next[:0]
		for _, pre := range current {
			for _, link := range n.cells[pre].links {
				if n.cells[link.Target].TestActivation(round) {
					next = append(next, link.Target)
				}
			}
		}
		if rec != nil && len(next) > 0 {
			rec.RecordRound(round, next)
		}
		current, next = next, current
	}
}

func (n *Net) broadcast(pre, round int) {
	cell := &n.cells[pre]
	for _, link := range cell.links {
		post := &n.cells[link.Target]
		post.Receive(cell.broadcastCoeff*post.inputDiffusalCoeff*link.Weight, round)
	}
}

// OutputRatio is the activation count of a cell over maxActivations, capped
// at 1.
func (n *Net) OutputRatio(cellIndex, maxActivations int) float64 {
	ratio := float64(n.cells[cellIndex].activationCount) / float64(maxActivations)
	if ratio > 1 {
		return 1
	}
	return ratio
}
