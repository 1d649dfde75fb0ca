package nn

import (
	"math/rand"
	"testing"
)

// expectedNearest finds the free index the outward walk must settle on: the
// closest free index above and below start, measured in steps that do not
// count the own index, preferring the upper one on ties.
func expectedNearest(taken map[int]bool, own, total, start int) int {
	forward, forwardSteps := -1, 0
	for i := start + 1; i < total; i++ {
		if i == own {
			continue
		}
		forwardSteps++
		if !taken[i] {
			forward = i
			break
		}
	}
	backward, backwardSteps := -1, 0
	for i := start - 1; i >= 0; i-- {
		if i == own {
			continue
		}
		backwardSteps++
		if !taken[i] {
			backward = i
			break
		}
	}
	switch {
	case forward < 0:
		return backward
	case backward < 0:
		return forward
	case forwardSteps <= backwardSteps:
		return forward
	default:
		return backward
	}
}

func TestNearestAvailableTargetExhaustive(t *testing.T) {
	for total := 3; total <= 8; total++ {
		for own := 0; own < total; own++ {
			others := make([]int, 0, total-1)
			for i := 0; i < total; i++ {
				if i != own {
					others = append(others, i)
				}
			}
			for mask := 1; mask < 1<<len(others); mask++ {
				var targets []int
				taken := map[int]bool{}
				for bit, idx := range others {
					if mask&(1<<bit) != 0 {
						targets = append(targets, idx)
						taken[idx] = true
					}
				}
				if len(targets) == total-1 {
					continue
				}
				links := linksTo(targets...)
				for start := range links {
					got, pos := nearestAvailableTarget(links, own, total, start)
					want := expectedNearest(taken, own, total, links[start].Target)
					if got != want {
						t.Fatalf("total=%d own=%d links=%v start=%d: got target %d want %d", total, own, targets, links[start].Target, got, want)
					}
					wantPos, found := searchLinks(links, got)
					if found || pos != wantPos {
						t.Fatalf("total=%d own=%d links=%v target=%d: got pos %d want %d (found=%v)", total, own, targets, got, pos, wantPos, found)
					}
				}
			}
		}
	}
}

func TestAddLinkFindsLastFreeIndex(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		params := make([]CellParams, 6)
		for i := range params {
			params[i] = testParams(i, (i+1)%6)
		}
		params[2] = testParams(2, 0, 1, 3, 5)
		net := NewNet(params, 2)
		net.AddLink(rand.New(rand.NewSource(seed)), 2)

		if got := targetsOf(net.Cell(2)); !sameInts(got, []int{0, 1, 3, 4, 5}) {
			t.Fatalf("seed %d: unexpected links %v", seed, got)
		}
		if err := net.Validate(); err != nil {
			t.Fatalf("seed %d: validate: %v", seed, err)
		}
		if err := net.ValidatePriorLinks(2); err != nil {
			t.Fatalf("seed %d: prior links: %v", seed, err)
		}
	}
}

func TestAddLinkUsesWeightCenter(t *testing.T) {
	params := []CellParams{testParams(0, 1), testParams(1, 2), testParams(2, 0), testParams(3, 0)}
	params[0].Control.LinkWeightCenter = 0.25
	net := NewNet(params, 1)
	net.AddLink(&scriptedRand{ints: []int{3}}, 0)

	links := net.Cell(0).Links()
	if len(links) != 2 || links[1].Target != 3 || links[1].Weight != 0.25 {
		t.Fatalf("unexpected links after add: %+v", links)
	}
	if got := net.Cell(3).PriorLinkCount(); got != 1 {
		t.Fatalf("expected prior link count 1 on new target, got=%d", got)
	}
}

func TestAddLinkRetriesOwnIndex(t *testing.T) {
	net := NewRingNet(4, 1, nil)
	net.AddLink(&scriptedRand{ints: []int{0, 0, 2}}, 0)
	if got := targetsOf(net.Cell(0)); !sameInts(got, []int{1, 2}) {
		t.Fatalf("unexpected links %v", got)
	}
}

func TestMutateLinksSelectionRule(t *testing.T) {
	net := NewRingNet(3, 1, nil)

	kind := net.MutateLinks(&scriptedRand{ints: []int{1, 2}}, 0, MutationRemoveLink)
	if kind != MutationAddLink {
		t.Fatalf("single link cell should add or replace, got=%s", kind)
	}
	if got := targetsOf(net.Cell(0)); !sameInts(got, []int{1, 2}) {
		t.Fatalf("unexpected links after add: %v", got)
	}
	if got := net.Cell(2).PriorLinkCount(); got != 2 {
		t.Fatalf("expected prior link count 2, got=%d", got)
	}

	kind = net.MutateLinks(&scriptedRand{ints: []int{0}}, 0, MutationAddLink)
	if kind != MutationRemoveLink {
		t.Fatalf("fully linked cell should remove, got=%s", kind)
	}
	if got := targetsOf(net.Cell(0)); !sameInts(got, []int{2}) {
		t.Fatalf("unexpected links after remove: %v", got)
	}
	if err := net.ValidatePriorLinks(1); err != nil {
		t.Fatalf("prior links: %v", err)
	}

	kind = net.MutateLinks(&scriptedRand{ints: []int{0, 0, 1}}, 0, MutationAddLink)
	if kind != MutationReplaceLink {
		t.Fatalf("expected replace, got=%s", kind)
	}
	if got := targetsOf(net.Cell(0)); !sameInts(got, []int{1}) {
		t.Fatalf("unexpected links after replace: %v", got)
	}
}

func TestReplaceLinkFreeTarget(t *testing.T) {
	net := NewRingNet(5, 1, nil)
	net.Cell(0).links[0].Weight = 0.7
	net.ReplaceLink(&scriptedRand{ints: []int{0, 3}}, 0)

	links := net.Cell(0).Links()
	if len(links) != 1 || links[0].Target != 3 || links[0].Weight != 0.7 {
		t.Fatalf("unexpected links after replace: %+v", links)
	}
	if got := net.Cell(1).PriorLinkCount(); got != 0 {
		t.Fatalf("expected old target prior count 0, got=%d", got)
	}
	if got := net.Cell(3).PriorLinkCount(); got != 2 {
		t.Fatalf("expected new target prior count 2, got=%d", got)
	}
}

func TestReplaceLinkCollisionKeepsOldLinkDuringSearch(t *testing.T) {
	params := []CellParams{
		testParams(0, 1, 2),
		testParams(1, 2),
		testParams(2, 3),
		testParams(3, 4),
		testParams(4, 0),
	}
	net := NewNet(params, 1)
	net.ReplaceLink(&scriptedRand{ints: []int{1, 1}}, 0)

	if got := targetsOf(net.Cell(0)); !sameInts(got, []int{1, 3}) {
		t.Fatalf("unexpected links after replace: %v", got)
	}
	if err := net.ValidatePriorLinks(1); err != nil {
		t.Fatalf("prior links: %v", err)
	}
}

func TestReplaceLinkOnFullCellIsNoop(t *testing.T) {
	params := []CellParams{testParams(0, 1, 2), testParams(1, 2), testParams(2, 0)}
	net := NewNet(params, 1)
	r := &scriptedRand{ints: []int{0, 2}}
	net.ReplaceLink(r, 0)
	if len(r.ints) != 0 {
		t.Fatalf("expected both draws consumed, left=%v", r.ints)
	}
	if got := targetsOf(net.Cell(0)); !sameInts(got, []int{1, 2}) {
		t.Fatalf("unexpected links: %v", got)
	}
}

func TestStructuralPreconditionsPanic(t *testing.T) {
	net := NewRingNet(3, 1, nil)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic removing the only link")
			}
		}()
		net.RemoveLink(&scriptedRand{ints: []int{0}}, 0)
	}()

	full := NewNet([]CellParams{testParams(0, 1, 2), testParams(1, 2), testParams(2, 0)}, 1)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic adding to a fully linked cell")
			}
		}()
		full.AddLink(&scriptedRand{ints: []int{1}}, 0)
	}()
}

func TestRandomMutationsPreserveInvariants(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		net := NewRingNet(9, 3, nil)
		for step := 0; step < 3000; step++ {
			net.Mutate(rng, 1, 1.0)
			if err := net.Validate(); err != nil {
				t.Fatalf("seed %d step %d: %v", seed, step, err)
			}
			if err := net.ValidatePriorLinks(3); err != nil {
				t.Fatalf("seed %d step %d: %v", seed, step, err)
			}
		}
	}
}
