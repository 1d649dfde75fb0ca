package nn

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

type roundLog struct {
	rounds    []int
	activated [][]int
}

func (r *roundLog) RecordRound(round int, activated []int) {
	r.rounds = append(r.rounds, round)
	r.activated = append(r.activated, append([]int(nil), activated...))
}

func TestRingCascade(t *testing.T) {
	net := NewRingNet(3, 1, nil)
	log := &roundLog{}
	net.Stimulate([]float64{2.0}, 3, log)

	if !sameInts(log.rounds, []int{1, 2, 3}) {
		t.Fatalf("unexpected recorded rounds: %v", log.rounds)
	}
	for i, want := range [][]int{{0}, {1}, {2}} {
		if !sameInts(log.activated[i], want) {
			t.Fatalf("round %d: expected %v, got=%v", log.rounds[i], want, log.activated[i])
		}
	}
	for i := 0; i < 3; i++ {
		if got := net.Cell(i).ActivationCount(); got != 1 {
			t.Fatalf("cell %d: expected one activation, got=%d", i, got)
		}
	}
	if got := net.Cell(0).RefractionCompleteRound(); got != 3 {
		t.Fatalf("expected cell 0 refraction until round 3, got=%d", got)
	}

	net.Stimulate([]float64{2.0}, 5, nil)
	if got := net.Cell(0).ActivationCount(); got != 2 {
		t.Fatalf("expected cell 0 to fire again in round 4, got=%d", got)
	}
	if got := net.OutputRatio(1, 4); got != 0.5 {
		t.Fatalf("expected output ratio 0.5, got=%f", got)
	}
	if got := net.OutputRatio(1, 1); got != 1 {
		t.Fatalf("expected capped output ratio, got=%f", got)
	}
}

func TestCascadeStopsWhenQuiet(t *testing.T) {
	net := NewRingNet(4, 2, nil)
	log := &roundLog{}
	net.Stimulate([]float64{0.5, 0.2}, 50, log)
	if len(log.rounds) != 0 {
		t.Fatalf("expected no activations, got rounds %v", log.rounds)
	}
	for i := 0; i < net.Len(); i++ {
		if net.Cell(i).ActivationCount() != 0 {
			t.Fatalf("cell %d activated below threshold", i)
		}
	}
}

func TestAtMostOneActivationPerRound(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	net := NewRingNet(10, 4, nil)
	for i := 0; i < 400; i++ {
		net.Mutate(rng, 1, 1.5)
	}
	log := &roundLog{}
	net.Stimulate([]float64{3, 3, 3, 3}, 40, log)
	for i, activated := range log.activated {
		seen := map[int]bool{}
		for _, idx := range activated {
			if seen[idx] {
				t.Fatalf("round %d: cell %d activated twice", log.rounds[i], idx)
			}
			seen[idx] = true
		}
	}
}

func TestMeiosisCopiesWholeCells(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	mother := NewRingNet(12, 3, nil)
	father := NewRingNet(12, 3, nil)
	mother.Mutate(rng, 200, 1)
	father.Mutate(rng, 200, 1)

	child := NewRingNet(12, 3, nil)
	child.Meiosis(mother, father, 4, rng)
	if child.Len() != 12 {
		t.Fatalf("expected 12 cells, got=%d", child.Len())
	}
	mp, fp, cp := mother.Params(), father.Params(), child.Params()
	for i := range cp {
		if !reflect.DeepEqual(cp[i], mp[i]) && !reflect.DeepEqual(cp[i], fp[i]) {
			t.Fatalf("cell %d matches neither parent", i)
		}
		if child.Cell(i).PriorLinkCount() != mother.Cell(i).PriorLinkCount() && child.Cell(i).PriorLinkCount() != father.Cell(i).PriorLinkCount() {
			t.Fatalf("cell %d prior link count matches neither parent", i)
		}
	}
	if err := child.Validate(); err != nil {
		t.Fatalf("child invalid: %v", err)
	}
}

func TestMeiosisSpliceDraws(t *testing.T) {
	mother := NewRingNet(5, 1, nil)
	father := NewRingNet(5, 1, nil)
	for i := 0; i < 5; i++ {
		mother.Cell(i).internalCoeff = 10
		father.Cell(i).internalCoeff = 20
	}
	child := NewRingNet(5, 1, nil)
	child.Meiosis(mother, father, 3, &scriptedRand{ints: []int{1, 1, 2, 0}})

	want := []float64{10, 10, 20, 20, 20}
	for i, w := range want {
		if got := child.Cell(i).InternalCoeff(); got != w {
			t.Fatalf("cell %d: expected coeff %f, got=%f", i, w, got)
		}
	}
}

func TestCloneFromIsDeep(t *testing.T) {
	src := NewRingNet(4, 1, nil)
	src.AddFitness(2.5)
	dst := NewRingNet(4, 1, nil)
	dst.CloneFrom(src)
	if dst.Fitness() != 2.5 {
		t.Fatalf("expected fitness copied, got=%f", dst.Fitness())
	}
	src.AddLink(&scriptedRand{ints: []int{2}}, 0)
	if dst.Cell(0).LinkCount() != 1 {
		t.Fatal("clone shares link storage with source")
	}
}

func TestMutationDeterminism(t *testing.T) {
	run := func() ([]CellParams, float64, []MutationKind) {
		rng := rand.New(rand.NewSource(99))
		net := NewRingNet(8, 2, nil)
		other := NewRingNet(8, 2, nil)
		var kinds []MutationKind
		for i := 0; i < 50; i++ {
			kinds = append(kinds, net.Mutate(rng, 5, 1)...)
			other.Mutate(rng, 5, 1)
		}
		child := NewRingNet(8, 2, nil)
		child.Meiosis(net, other, 3, rng)
		child.RecountPriorLinks(2)
		child.Stimulate([]float64{1.7, 2.2}, 30, nil)
		child.AddFitness(child.OutputRatio(2, 3))
		return child.Params(), child.Fitness(), kinds
	}
	p1, f1, k1 := run()
	p2, f2, k2 := run()
	if !reflect.DeepEqual(p1, p2) || f1 != f2 || !reflect.DeepEqual(k1, k2) {
		t.Fatal("identical seeds produced different nets")
	}
}

func TestValidateReportsViolations(t *testing.T) {
	net := NewNet([]CellParams{testParams(0, 1), testParams(1, 1), testParams(2, 0)}, 1)
	if err := net.Validate(); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("expected self link error, got=%v", err)
	}
	net = NewNet([]CellParams{testParams(0, 2, 1), testParams(1, 2), testParams(2, 0)}, 1)
	if err := net.Validate(); !errors.Is(err, ErrLinkOrder) {
		t.Fatalf("expected link order error, got=%v", err)
	}
	net = NewNet([]CellParams{testParams(0, 1), testParams(1, 0)}, 1)
	if err := net.Validate(); !errors.Is(err, ErrTooFewCells) {
		t.Fatalf("expected too few cells error, got=%v", err)
	}
	net = NewRingNet(3, 1, nil)
	net.Cell(1).SetPriorLinkCount(4)
	if err := net.ValidatePriorLinks(1); !errors.Is(err, ErrPriorLinkCount) {
		t.Fatalf("expected prior link count error, got=%v", err)
	}
}

func TestMutationKindString(t *testing.T) {
	if MutationAddLink.String() != "add_link" || MutationRefractoryPeriod.String() != "mutate_refractory_period" {
		t.Fatal("unexpected mutation kind names")
	}
	if !MutationRemoveLink.Structural() || MutationLinkWeight.Structural() {
		t.Fatal("unexpected structural classification")
	}
}
