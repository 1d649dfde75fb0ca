package nn

import "fmt"

// MutateLinks applies one structural operator to the cell at cellIndex and
// returns the operator actually used. A cell with a single link cannot lose
// it, so it is either extended or retargeted with equal probability; a cell
// linked to every other cell can only lose a link.
func (n *Net) MutateLinks(rng Rand, cellIndex int, kind MutationKind) MutationKind {
	count := len(n.cells[cellIndex].links)
	switch {
	case count == 1:
		if rng.Intn(2) == 1 {
			kind = MutationAddLink
		} else {
			kind = MutationReplaceLink
		}
	case count == len(n.cells)-1:
		kind = MutationRemoveLink
	}

	switch kind {
	case MutationAddLink:
		n.AddLink(rng, cellIndex)
	case MutationReplaceLink:
		n.ReplaceLink(rng, cellIndex)
	case MutationRemoveLink:
		n.RemoveLink(rng, cellIndex)
	default:
		panic(fmt.Sprintf("%s is not a structural mutation", kind))
	}
	return kind
}

// AddLink links the cell to a random free target. The new link carries the
// cell's link weight center.
func (n *Net) AddLink(rng Rand, cellIndex int) {
	total := len(n.cells)
	cell := &n.cells[cellIndex]
	if len(cell.links) >= total-1 {
		panic(fmt.Sprintf("cell %d: add link on a fully linked cell", cellIndex))
	}

	target := drawTarget(rng, total, cellIndex)
	pos, found := searchLinks(cell.links, target)
	if found {
		target, pos = nearestAvailableTarget(cell.links, cellIndex, total, pos)
	}
	cell.links = insertLink(cell.links, pos, Link{Target: target, Weight: cell.control.LinkWeightCenter})
	n.cells[target].adjustPriorLinkCount(1)
}

// RemoveLink drops a random link from the cell.
func (n *Net) RemoveLink(rng Rand, cellIndex int) {
	cell := &n.cells[cellIndex]
	if len(cell.links) <= 1 {
		panic(fmt.Sprintf("cell %d: remove link on a cell with a single link", cellIndex))
	}

	pos := rng.Intn(len(cell.links))
	target := cell.links[pos].Target
	cell.links = removeLink(cell.links, pos)
	n.cells[target].adjustPriorLinkCount(-1)
}

// ReplaceLink retargets a random link, keeping its weight. When the drawn
// target is taken the nearest free index is used instead. A fully linked
// cell has nowhere to move, so the draws are consumed and nothing changes.
func (n *Net) ReplaceLink(rng Rand, cellIndex int) {
	total := len(n.cells)
	cell := &n.cells[cellIndex]

	oldPos := rng.Intn(len(cell.links))
	target := drawTarget(rng, total, cellIndex)
	if len(cell.links) >= total-1 {
		return
	}

	if pos, found := searchLinks(cell.links, target); found {
		target, _ = nearestAvailableTarget(cell.links, cellIndex, total, pos)
	}

	old := cell.links[oldPos]
	cell.links = removeLink(cell.links, oldPos)
	pos, _ := searchLinks(cell.links, target)
	cell.links = insertLink(cell.links, pos, Link{Target: target, Weight: old.Weight})

	n.cells[old.Target].adjustPriorLinkCount(-1)
	n.cells[target].adjustPriorLinkCount(1)
}

func drawTarget(rng Rand, total, own int) int {
	for {
		target := rng.Intn(total)
		if target != own {
			return target
		}
	}
}

// nearestAvailableTarget walks outward from links[start], which collides
// with a drawn target, until it finds an index that is neither linked nor
// own. Each round tries one step forward and then one step backward, so
// ties go forward. Stepping over own costs nothing. It returns the free
// index and the position at which a link to it must be inserted.
func nearestAvailableTarget(links []Link, own, total, start int) (target, pos int) {
	fwd := cursor{pos: start, index: links[start].Target}
	back := fwd
	for !fwd.done || !back.done {
		if !fwd.done {
			if target, pos, ok := fwd.stepForward(links, own, total); ok {
				return target, pos
			}
		}
		if !back.done {
			if target, pos, ok := back.stepBackward(links, own); ok {
				return target, pos
			}
		}
	}
	panic(fmt.Sprintf("no free link target for cell %d among %d cells", own, total))
}

// cursor tracks the last linked index consumed in one direction and its
// position in the link slice.
type cursor struct {
	pos   int
	index int
	done  bool
}

func (c *cursor) stepForward(links []Link, own, total int) (int, int, bool) {
	c.pos++
	if c.pos >= len(links) {
		if c.index == total-1 || (c.index == total-2 && own == total-1) {
			c.done = true
			return 0, 0, false
		}
		c.index++
		if c.index == own {
			c.index++
		}
		return c.index, len(links), true
	}

	c.index++
	if c.index == own {
		c.index++
	}
	if c.index != links[c.pos].Target {
		return c.index, c.pos, true
	}
	return 0, 0, false
}

func (c *cursor) stepBackward(links []Link, own int) (int, int, bool) {
	c.pos--
	if c.pos < 0 {
		if c.index == 0 || (c.index == 1 && own == 0) {
			c.done = true
			return 0, 0, false
		}
		c.index--
		if c.index == own {
			c.index--
		}
		return c.index, 0, true
	}

	c.index--
	if c.index == own {
		c.index--
	}
	if c.index != links[c.pos].Target {
		return c.index, c.pos + 1, true
	}
	return 0, 0, false
}
