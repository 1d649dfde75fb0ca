package genotype

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"

	"spikenet/internal/nn"
)

type TopologySummary struct {
	TotalCells       int     `json:"total_cells"`
	TotalLinks       int     `json:"total_links"`
	MeanOutDegree    float64 `json:"mean_out_degree"`
	MaxPriorLinks    int     `json:"max_prior_links"`
	ReachableCells   int     `json:"reachable_cells"`
	ReachableOutputs int     `json:"reachable_outputs"`
	CyclicComponents int     `json:"cyclic_components"`
}

type NetSignature struct {
	Fingerprint string          `json:"fingerprint"`
	Summary     TopologySummary `json:"summary"`
}

// ComputeSignature fingerprints the link topology (targets and weight signs)
// and summarizes how signal can flow from the input cells to the outputs.
func ComputeSignature(net *nn.Net, inputCells, outputCells int) NetSignature {
	g := buildGraph(net)

	parts := make([]string, 0, net.Len())
	summary := TopologySummary{TotalCells: net.Len()}
	for i := 0; i < net.Len(); i++ {
		cell := net.Cell(i)
		summary.TotalLinks += cell.LinkCount()
		if p := cell.PriorLinkCount(); p > summary.MaxPriorLinks {
			summary.MaxPriorLinks = p
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d:", i)
		for _, link := range cell.Links() {
			sign := "+"
			if link.Weight < 0 {
				sign = "-"
			}
			fmt.Fprintf(&b, "%d%s,", link.Target, sign)
		}
		if cell.BroadcastCoeff() < 0 {
			b.WriteString("b-")
		}
		parts = append(parts, b.String())
	}
	if net.Len() > 0 {
		summary.MeanOutDegree = float64(summary.TotalLinks) / float64(net.Len())
	}

	reached := make(map[int64]struct{})
	bfs := traverse.BreadthFirst{
		Visit: func(n graph.Node) { reached[n.ID()] = struct{}{} },
	}
	for i := 0; i < inputCells && i < net.Len(); i++ {
		bfs.Walk(g, simple.Node(i), nil)
	}
	summary.ReachableCells = len(reached)
	for i := inputCells; i < inputCells+outputCells && i < net.Len(); i++ {
		if _, ok := reached[int64(i)]; ok {
			summary.ReachableOutputs++
		}
	}

	for _, component := range topo.TarjanSCC(g) {
		if len(component) > 1 {
			summary.CyclicComponents++
		}
	}

	digest := sha1.Sum([]byte(strings.Join(parts, "|")))
	return NetSignature{
		Fingerprint: hex.EncodeToString(digest[:8]),
		Summary:     summary,
	}
}

func buildGraph(net *nn.Net) *simple.DirectedGraph {
	g := simple.NewDirectedGraph()
	for i := 0; i < net.Len(); i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < net.Len(); i++ {
		for _, link := range net.Cell(i).Links() {
			g.SetEdge(g.NewEdge(simple.Node(i), simple.Node(link.Target)))
		}
	}
	return g
}
