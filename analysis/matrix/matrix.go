// Package matrix provides the count-matrix types shared by the analysis stages.
// Matrices follow the domain convention of genes as rows and cells as columns.
package matrix

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Triplet is a single nonzero entry of a sparse matrix.
type Triplet struct {
	Row   int
	Col   int
	Value float64
}

// Sparse is a compressed sparse column matrix of float64 counts with row and
// column identifiers. Row indices are sorted within each column and explicit
// zeros are never stored. Dimensions are fixed after construction.
//
// Sparse implements gonum's mat.Matrix so it can be passed directly to dense
// routines where convenient.
type Sparse struct {
	rowIDs []string
	colIDs []string

	colPtr []int     // length ncols+1
	rowIdx []int     // length nnz, sorted within each column
	values []float64 // length nnz
}

// NewSparseFromTriplets builds a Sparse matrix from a list of triplets.
// Duplicate (row, col) entries are summed, matching MatrixMarket semantics.
// An empty triplet list yields a valid all-zero matrix.
func NewSparseFromTriplets(rowIDs, colIDs []string, triplets []Triplet) (*Sparse, error) {
	nrows, ncols := len(rowIDs), len(colIDs)
	for _, t := range triplets {
		if t.Row < 0 || t.Row >= nrows {
			return nil, fmt.Errorf("triplet row %d out of range [0, %d)", t.Row, nrows)
		}
		if t.Col < 0 || t.Col >= ncols {
			return nil, fmt.Errorf("triplet col %d out of range [0, %d)", t.Col, ncols)
		}
	}

	sorted := make([]Triplet, len(triplets))
	copy(sorted, triplets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Col != sorted[j].Col {
			return sorted[i].Col < sorted[j].Col
		}
		return sorted[i].Row < sorted[j].Row
	})

	cols := make([]int, 0, len(sorted))
	rowIdx := make([]int, 0, len(sorted))
	values := make([]float64, 0, len(sorted))
	for _, t := range sorted {
		if n := len(rowIdx); n > 0 && cols[n-1] == t.Col && rowIdx[n-1] == t.Row {
			values[n-1] += t.Value
			continue
		}
		cols = append(cols, t.Col)
		rowIdx = append(rowIdx, t.Row)
		values = append(values, t.Value)
	}

	colPtr := make([]int, ncols+1)
	for _, c := range cols {
		colPtr[c+1]++
	}
	for c := 0; c < ncols; c++ {
		colPtr[c+1] += colPtr[c]
	}

	s := &Sparse{
		rowIDs: rowIDs,
		colIDs: colIDs,
		colPtr: colPtr,
		rowIdx: rowIdx,
		values: values,
	}
	s.dropZeros()

	return s, nil
}

// dropZeros removes entries whose value is exactly zero.
func (s *Sparse) dropZeros() {
	_, ncols := s.Dims()
	keptPtr := make([]int, ncols+1)
	k := 0
	for c := 0; c < ncols; c++ {
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			if s.values[p] == 0 {
				continue
			}
			s.rowIdx[k] = s.rowIdx[p]
			s.values[k] = s.values[p]
			k++
		}
		keptPtr[c+1] = k
	}
	s.colPtr = keptPtr
	s.rowIdx = s.rowIdx[:k]
	s.values = s.values[:k]
}

// Builder assembles a Sparse matrix one gene row at a time, in the order
// parsers read them. Internally it accumulates compressed sparse rows and
// converts to column-compressed form in Build.
type Builder struct {
	colIDs []string
	rowIDs []string
	rowPtr []int
	colIdx []int
	values []float64
}

// NewBuilder creates a Builder for a matrix with the given column (cell) IDs.
func NewBuilder(colIDs []string) *Builder {
	return &Builder{
		colIDs: colIDs,
		rowPtr: []int{0},
	}
}

// AppendRow appends a dense row of values for one gene. Zeros are skipped.
func (b *Builder) AppendRow(rowID string, values []float64) error {
	if len(values) != len(b.colIDs) {
		return fmt.Errorf("row %q has %d values, expected %d", rowID, len(values), len(b.colIDs))
	}
	for c, v := range values {
		if v == 0 {
			continue
		}
		b.colIdx = append(b.colIdx, c)
		b.values = append(b.values, v)
	}
	b.rowIDs = append(b.rowIDs, rowID)
	b.rowPtr = append(b.rowPtr, len(b.colIdx))

	return nil
}

// AppendSparseRow appends a row given only its nonzero columns.
// Columns must be strictly increasing.
func (b *Builder) AppendSparseRow(rowID string, cols []int, values []float64) error {
	if len(cols) != len(values) {
		return fmt.Errorf("row %q has %d columns but %d values", rowID, len(cols), len(values))
	}
	prev := -1
	for i, c := range cols {
		if c < 0 || c >= len(b.colIDs) {
			return fmt.Errorf("row %q column %d out of range [0, %d)", rowID, c, len(b.colIDs))
		}
		if c <= prev {
			return fmt.Errorf("row %q columns not strictly increasing at %d", rowID, c)
		}
		prev = c
		if values[i] == 0 {
			continue
		}
		b.colIdx = append(b.colIdx, c)
		b.values = append(b.values, values[i])
	}
	b.rowIDs = append(b.rowIDs, rowID)
	b.rowPtr = append(b.rowPtr, len(b.colIdx))

	return nil
}

// NumRows returns the number of rows appended so far.
func (b *Builder) NumRows() int {
	return len(b.rowIDs)
}

// Build converts the accumulated rows into a Sparse matrix.
func (b *Builder) Build() (*Sparse, error) {
	nrows, ncols := len(b.rowIDs), len(b.colIDs)
	nnz := len(b.values)

	// Counting sort from row-compressed to column-compressed form.
	colPtr := make([]int, ncols+1)
	for _, c := range b.colIdx {
		colPtr[c+1]++
	}
	for c := 0; c < ncols; c++ {
		colPtr[c+1] += colPtr[c]
	}

	rowIdx := make([]int, nnz)
	values := make([]float64, nnz)
	next := make([]int, ncols)
	copy(next, colPtr[:ncols])
	for r := 0; r < nrows; r++ {
		for p := b.rowPtr[r]; p < b.rowPtr[r+1]; p++ {
			c := b.colIdx[p]
			rowIdx[next[c]] = r
			values[next[c]] = b.values[p]
			next[c]++
		}
	}

	return &Sparse{
		rowIDs: b.rowIDs,
		colIDs: b.colIDs,
		colPtr: colPtr,
		rowIdx: rowIdx,
		values: values,
	}, nil
}

// Dims returns the number of rows and columns.
func (s *Sparse) Dims() (r, c int) {
	return len(s.rowIDs), len(s.colIDs)
}

// NNZ returns the number of stored nonzero entries.
func (s *Sparse) NNZ() int {
	return len(s.values)
}

// RowIDs returns the row (gene) identifiers. The slice must not be modified.
func (s *Sparse) RowIDs() []string {
	return s.rowIDs
}

// ColIDs returns the column (cell) identifiers. The slice must not be modified.
func (s *Sparse) ColIDs() []string {
	return s.colIDs
}

// At returns the value at row i, column j.
func (s *Sparse) At(i, j int) float64 {
	nrows, ncols := s.Dims()
	if i < 0 || i >= nrows || j < 0 || j >= ncols {
		panic("matrix: index out of range")
	}
	lo, hi := s.colPtr[j], s.colPtr[j+1]
	p := lo + sort.SearchInts(s.rowIdx[lo:hi], i)
	if p < hi && s.rowIdx[p] == i {
		return s.values[p]
	}

	return 0
}

// T returns the transpose as a gonum matrix view.
func (s *Sparse) T() mat.Matrix {
	return mat.Transpose{Matrix: s}
}

// ToDense converts the matrix to a dense gonum matrix. A matrix with zero
// rows or columns converts to an empty dense matrix rather than panicking,
// since QC filters can legitimately discard every cell of a batch.
func (s *Sparse) ToDense() *mat.Dense {
	nrows, ncols := s.Dims()
	if nrows == 0 || ncols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(nrows, ncols, nil)
	for c := 0; c < ncols; c++ {
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			d.Set(s.rowIdx[p], c, s.values[p])
		}
	}

	return d
}

// DoColNonZero calls fn for each stored nonzero entry of column j.
func (s *Sparse) DoColNonZero(j int, fn func(i int, v float64)) {
	for p := s.colPtr[j]; p < s.colPtr[j+1]; p++ {
		fn(s.rowIdx[p], s.values[p])
	}
}
