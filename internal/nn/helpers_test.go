package nn

import "fmt"

// scriptedRand replays fixed draws so tests can steer individual operators.
type scriptedRand struct {
	ints   []int
	floats []float64
}

func (r *scriptedRand) Intn(n int) int {
	if len(r.ints) == 0 {
		panic("scripted rand: out of ints")
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	if v < 0 || v >= n {
		panic(fmt.Sprintf("scripted rand: %d outside [0,%d)", v, n))
	}
	return v
}

func (r *scriptedRand) Float64() float64 {
	if len(r.floats) == 0 {
		panic("scripted rand: out of floats")
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

func linksTo(targets ...int) []Link {
	out := make([]Link, 0, len(targets))
	for _, target := range targets {
		out = append(out, Link{Target: target, Weight: 1})
	}
	return out
}

func testParams(index int, targets ...int) CellParams {
	return CellParams{
		Index:            index,
		Control:          DefaultControl(),
		InternalCoeff:    1,
		BroadcastCoeff:   1,
		DecayRate:        0.5,
		RefractoryPeriod: 2,
		Links:            linksTo(targets...),
	}
}

func targetsOf(c *Cell) []int {
	out := make([]int, 0, c.LinkCount())
	for _, link := range c.Links() {
		out = append(out, link.Target)
	}
	return out
}

func sameInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
