package nn

import (
	"cmp"
	"slices"
)

// Link is a weighted edge from the owning cell to Target.
type Link struct {
	Target int
	Weight float64
}

func copyLinks(links []Link) []Link {
	return append([]Link(nil), links...)
}

// searchLinks returns the position of target in the sorted links slice and
// whether it is present. When absent the position is the insertion point.
func searchLinks(links []Link, target int) (int, bool) {
	return slices.BinarySearchFunc(links, target, func(link Link, target int) int {
		return cmp.Compare(link.Target, target)
	})
}

func insertLink(links []Link, pos int, link Link) []Link {
	links = append(links, Link{})
	copy(links[pos+1:], links[pos:])
	links[pos] = link
	return links
}

func removeLink(links []Link, pos int) []Link {
	copy(links[pos:], links[pos+1:])
	return links[:len(links)-1]
}
