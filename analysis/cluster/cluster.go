// Package cluster groups cells from their corrected coordinates: a shared
// nearest-neighbour graph, Louvain community detection on it, and the
// contingency diagnostics used to judge batch mixing and cluster agreement.
package cluster

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/mat"

	"github.com/crossbatch/scrna-integration-framework/analysis/neighbors"
)

// DefaultK is the neighbourhood size used by BuildSNNGraph when none is
// requested.
const DefaultK = 10

// Scheme selects how shared-neighbour edge weights are computed.
type Scheme string

const (
	// SchemeRank weights an edge by k - r/2 where r is the smallest sum of
	// ranks of a shared neighbour in the two neighbourhoods.
	SchemeRank Scheme = "rank"
	// SchemeNumber weights an edge by the number of shared neighbours.
	SchemeNumber Scheme = "number"
	// SchemeJaccard weights an edge by the Jaccard index of the two
	// neighbourhoods.
	SchemeJaccard Scheme = "jaccard"
)

// SNNOptions configures BuildSNNGraph.
type SNNOptions struct {
	// K is the number of nearest neighbours per cell. Defaults to DefaultK.
	K int
	// Scheme selects the edge weighting. Defaults to SchemeRank.
	Scheme Scheme
}

// BuildSNNGraph connects cells (rows of coords) that share at least one
// member of their nearest-neighbour sets. Each cell's set includes itself,
// so direct neighbours are always connected.
func BuildSNNGraph(coords *mat.Dense, opts SNNOptions) (*simple.WeightedUndirectedGraph, error) {
	n, _ := coords.Dims()
	if opts.K == 0 {
		opts.K = DefaultK
	}
	if opts.K < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", opts.K)
	}
	if opts.K > n-1 {
		return nil, fmt.Errorf("k=%d exceeds the %d other cells", opts.K, n-1)
	}
	switch opts.Scheme {
	case "":
		opts.Scheme = SchemeRank
	case SchemeRank, SchemeNumber, SchemeJaccard:
	default:
		return nil, fmt.Errorf("unknown weighting scheme %q", opts.Scheme)
	}

	knn, err := neighbors.FindSelfKNN(coords, opts.K)
	if err != nil {
		return nil, err
	}

	// rank[i][v] is v's position in i's neighbourhood; the cell itself has
	// rank 0.
	rank := make([]map[int]int, n)
	for i := 0; i < n; i++ {
		rank[i] = make(map[int]int, opts.K+1)
		rank[i][i] = 0
		for pos, v := range knn.Indices[i] {
			rank[i][v] = pos + 1
		}
	}

	// Invert the neighbourhoods so candidate pairs are cells sharing at
	// least one member.
	hosts := make([][]int, n)
	for i := 0; i < n; i++ {
		for v := range rank[i] {
			hosts[v] = append(hosts[v], i)
		}
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}

	type pairKey struct{ a, b int }
	done := map[pairKey]bool{}
	for _, cells := range hosts {
		for x := 0; x < len(cells); x++ {
			for y := x + 1; y < len(cells); y++ {
				a, b := cells[x], cells[y]
				if a > b {
					a, b = b, a
				}
				key := pairKey{a, b}
				if done[key] {
					continue
				}
				done[key] = true

				w := snnWeight(rank[a], rank[b], opts.K, opts.Scheme)
				if w > 0 {
					g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(b), W: w})
				}
			}
		}
	}

	return g, nil
}

func snnWeight(ra, rb map[int]int, k int, scheme Scheme) float64 {
	shared := 0
	bestRankSum := -1
	for v, rva := range ra {
		rvb, ok := rb[v]
		if !ok {
			continue
		}
		shared++
		if sum := rva + rvb; bestRankSum < 0 || sum < bestRankSum {
			bestRankSum = sum
		}
	}
	if shared == 0 {
		return 0
	}

	switch scheme {
	case SchemeNumber:
		return float64(shared)
	case SchemeJaccard:
		union := len(ra) + len(rb) - shared
		return float64(shared) / float64(union)
	default:
		return float64(k) - float64(bestRankSum)/2
	}
}

// Louvain partitions the graph by modularity maximization and returns one
// cluster label per node, labelled "0", "1", ... in order of each cluster's
// smallest node ID. A fixed seed gives a deterministic partition.
func Louvain(g graph.Undirected, resolution float64, seed uint64) ([]string, error) {
	if resolution <= 0 {
		resolution = 1
	}

	reduced := community.Modularize(g, resolution, rand.NewPCG(seed, seed))
	comms := reduced.Communities()
	sort.Slice(comms, func(a, b int) bool {
		return minNodeID(comms[a]) < minNodeID(comms[b])
	})

	var maxID int64
	for _, comm := range comms {
		for _, node := range comm {
			if node.ID() > maxID {
				maxID = node.ID()
			}
		}
	}

	labels := make([]string, maxID+1)
	for c, comm := range comms {
		for _, node := range comm {
			labels[node.ID()] = fmt.Sprint(c)
		}
	}

	return labels, nil
}

func minNodeID(nodes []graph.Node) int64 {
	id := nodes[0].ID()
	for _, n := range nodes[1:] {
		if n.ID() < id {
			id = n.ID()
		}
	}

	return id
}

// Xtab is a contingency table between two label vectors.
type Xtab struct {
	// Rows and Cols are the sorted distinct labels of each input.
	Rows []string
	Cols []string
	// Counts[i][j] is the number of positions labelled Rows[i] in the first
	// input and Cols[j] in the second.
	Counts [][]int
}

// Crosstab tabulates co-occurrences of two equal-length label vectors,
// e.g. cluster x batch to judge mixing, or cluster x cluster to compare
// partitions.
func Crosstab(a, b []string) (*Xtab, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("label vectors differ in length: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return nil, fmt.Errorf("no labels to tabulate")
	}

	rows := distinctSorted(a)
	cols := distinctSorted(b)
	rowIdx := indexOf(rows)
	colIdx := indexOf(cols)

	counts := make([][]int, len(rows))
	for i := range counts {
		counts[i] = make([]int, len(cols))
	}
	for i := range a {
		counts[rowIdx[a[i]]][colIdx[b[i]]]++
	}

	return &Xtab{Rows: rows, Cols: cols, Counts: counts}, nil
}

// Render returns the table in printable form, rows labelled in the first
// column.
func (x *Xtab) Render() string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader(append([]string{""}, x.Cols...))

	body := make([][]string, len(x.Rows))
	for i, row := range x.Rows {
		line := make([]string, 0, len(x.Cols)+1)
		line = append(line, row)
		for j := range x.Cols {
			line = append(line, fmt.Sprint(x.Counts[i][j]))
		}
		body[i] = line
	}
	table.AppendBulk(body)
	table.Render()

	return sb.String()
}

func distinctSorted(labels []string) []string {
	set := map[string]bool{}
	for _, l := range labels {
		set[l] = true
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	sort.Strings(out)

	return out
}

func indexOf(sorted []string) map[string]int {
	idx := make(map[string]int, len(sorted))
	for i, l := range sorted {
		idx[l] = i
	}

	return idx
}

// AdjustedRandIndex measures agreement between two partitions of the same
// cells, corrected for chance: 1 for identical partitions, near 0 for
// independent ones.
func AdjustedRandIndex(a, b []string) (float64, error) {
	xtab, err := Crosstab(a, b)
	if err != nil {
		return 0, err
	}

	choose2 := func(n int) float64 { return float64(n) * float64(n-1) / 2 }

	var sumCells, sumRows, sumCols float64
	for _, row := range xtab.Counts {
		rowTotal := 0
		for _, c := range row {
			sumCells += choose2(c)
			rowTotal += c
		}
		sumRows += choose2(rowTotal)
	}
	for j := range xtab.Cols {
		colTotal := 0
		for i := range xtab.Rows {
			colTotal += xtab.Counts[i][j]
		}
		sumCols += choose2(colTotal)
	}

	total := choose2(len(a))
	expected := sumRows * sumCols / total
	maxIndex := (sumRows + sumCols) / 2

	if maxIndex == expected {
		// Both partitions are trivial (all singletons or one cluster each);
		// they agree perfectly by construction.
		return 1, nil
	}

	return (sumCells - expected) / (maxIndex - expected), nil
}
