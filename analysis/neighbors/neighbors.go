// Package neighbors provides exact k-nearest-neighbour search over dense
// coordinate matrices. The search is brute force with the query rows spread
// over a worker pool, which is fast enough at the cell counts this pipeline
// handles and keeps the results exact and deterministic.
package neighbors

import (
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Result holds, for each query row, the indices of its k nearest reference
// rows and the matching Euclidean distances, both ordered by increasing
// distance with ties broken by increasing index.
type Result struct {
	Indices   [][]int
	Distances [][]float64
}

// K returns the number of neighbours per query row.
func (r *Result) K() int {
	if len(r.Indices) == 0 {
		return 0
	}

	return len(r.Indices[0])
}

// FindKNN returns the k nearest reference rows for every query row. Query
// and reference are cells x dims matrices over the same coordinate space.
func FindKNN(query, ref *mat.Dense, k int) (*Result, error) {
	_, dq := query.Dims()
	nr, dr := ref.Dims()
	if dq != dr {
		return nil, fmt.Errorf("query has %d dims, reference has %d", dq, dr)
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if k > nr {
		return nil, fmt.Errorf("k=%d exceeds the %d reference rows", k, nr)
	}

	return search(query, ref, k, -1)
}

// FindSelfKNN returns the k nearest rows of x for every row of x, excluding
// the row itself.
func FindSelfKNN(x *mat.Dense, k int) (*Result, error) {
	n, _ := x.Dims()
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if k > n-1 {
		return nil, fmt.Errorf("k=%d exceeds the %d other rows", k, n-1)
	}

	return search(x, x, k, 0)
}

// search runs the parallel scan. selfOffset is -1 for a cross search and 0
// when query and ref are the same matrix, in which case each row skips
// itself.
func search(query, ref *mat.Dense, k, selfOffset int) (*Result, error) {
	nq, dims := query.Dims()
	nr, _ := ref.Dims()

	res := &Result{
		Indices:   make([][]int, nq),
		Distances: make([][]float64, nq),
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for q := 0; q < nq; q++ {
		g.Go(func() error {
			d2 := make([]float64, nr)
			for r := 0; r < nr; r++ {
				if selfOffset == 0 && r == q {
					d2[r] = math.Inf(1)
					continue
				}
				var sum float64
				for j := 0; j < dims; j++ {
					diff := query.At(q, j) - ref.At(r, j)
					sum += diff * diff
				}
				d2[r] = sum
			}

			order := make([]int, nr)
			for i := range order {
				order[i] = i
			}
			sort.Slice(order, func(a, b int) bool {
				if d2[order[a]] != d2[order[b]] {
					return d2[order[a]] < d2[order[b]]
				}

				return order[a] < order[b]
			})

			idx := make([]int, k)
			dist := make([]float64, k)
			for i := 0; i < k; i++ {
				idx[i] = order[i]
				dist[i] = math.Sqrt(d2[order[i]])
			}
			res.Indices[q] = idx
			res.Distances[q] = dist

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return res, nil
}
