package matrix

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ColSums returns the per-column (per-cell) sum of counts.
func (s *Sparse) ColSums() []float64 {
	_, ncols := s.Dims()
	sums := make([]float64, ncols)
	for c := 0; c < ncols; c++ {
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			sums[c] += s.values[p]
		}
	}

	return sums
}

// RowSums returns the per-row (per-gene) sum of counts.
func (s *Sparse) RowSums() []float64 {
	nrows, _ := s.Dims()
	sums := make([]float64, nrows)
	for p, r := range s.rowIdx {
		sums[r] += s.values[p]
	}

	return sums
}

// ColNonzeros returns the number of nonzero entries per column, the number of
// detected features per cell.
func (s *Sparse) ColNonzeros() []int {
	_, ncols := s.Dims()
	nz := make([]int, ncols)
	for c := 0; c < ncols; c++ {
		nz[c] = s.colPtr[c+1] - s.colPtr[c]
	}

	return nz
}

// RowMeans returns the per-row mean across all columns.
func (s *Sparse) RowMeans() []float64 {
	nrows, ncols := s.Dims()
	means := s.RowSums()
	if ncols == 0 {
		return means
	}
	for r := 0; r < nrows; r++ {
		means[r] /= float64(ncols)
	}

	return means
}

// SubsetRows returns a new matrix keeping the given rows in the given order.
func (s *Sparse) SubsetRows(indices []int) (*Sparse, error) {
	nrows, ncols := s.Dims()
	remap := make(map[int]int, len(indices))
	rowIDs := make([]string, len(indices))
	for newRow, oldRow := range indices {
		if oldRow < 0 || oldRow >= nrows {
			return nil, fmt.Errorf("row index %d out of range [0, %d)", oldRow, nrows)
		}
		if _, ok := remap[oldRow]; ok {
			return nil, fmt.Errorf("row index %d selected twice", oldRow)
		}
		remap[oldRow] = newRow
		rowIDs[newRow] = s.rowIDs[oldRow]
	}

	out := &Sparse{
		rowIDs: rowIDs,
		colIDs: s.colIDs,
		colPtr: make([]int, ncols+1),
	}
	type entry struct {
		row int
		val float64
	}
	var buf []entry
	for c := 0; c < ncols; c++ {
		buf = buf[:0]
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			if newRow, ok := remap[s.rowIdx[p]]; ok {
				buf = append(buf, entry{row: newRow, val: s.values[p]})
			}
		}
		// The subset order is arbitrary, so restore sorted row order per column.
		sort.Slice(buf, func(i, j int) bool { return buf[i].row < buf[j].row })
		for _, e := range buf {
			out.rowIdx = append(out.rowIdx, e.row)
			out.values = append(out.values, e.val)
		}
		out.colPtr[c+1] = len(out.rowIdx)
	}

	return out, nil
}

// SubsetCols returns a new matrix keeping the given columns in the given order.
func (s *Sparse) SubsetCols(indices []int) (*Sparse, error) {
	_, ncols := s.Dims()
	out := &Sparse{
		rowIDs: s.rowIDs,
		colIDs: make([]string, len(indices)),
		colPtr: make([]int, len(indices)+1),
	}
	for newCol, oldCol := range indices {
		if oldCol < 0 || oldCol >= ncols {
			return nil, fmt.Errorf("column index %d out of range [0, %d)", oldCol, ncols)
		}
		out.colIDs[newCol] = s.colIDs[oldCol]
		lo, hi := s.colPtr[oldCol], s.colPtr[oldCol+1]
		out.rowIdx = append(out.rowIdx, s.rowIdx[lo:hi]...)
		out.values = append(out.values, s.values[lo:hi]...)
		out.colPtr[newCol+1] = len(out.rowIdx)
	}

	return out, nil
}

// ScaleColumns returns a new matrix with each column divided by its factor.
// All factors must be positive.
func (s *Sparse) ScaleColumns(factors []float64) (*Sparse, error) {
	_, ncols := s.Dims()
	if len(factors) != ncols {
		return nil, fmt.Errorf("got %d factors for %d columns", len(factors), ncols)
	}
	for c, f := range factors {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("column %d: scaling factor must be positive and finite, got %v", c, f)
		}
	}

	out := &Sparse{
		rowIDs: s.rowIDs,
		colIDs: s.colIDs,
		colPtr: append([]int(nil), s.colPtr...),
		rowIdx: append([]int(nil), s.rowIdx...),
		values: make([]float64, len(s.values)),
	}
	for c := 0; c < ncols; c++ {
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			out.values[p] = s.values[p] / factors[c]
		}
	}

	return out, nil
}

// Log1pColumns produces a dense matrix of log2((count/factor) + pseudoCount)
// values, the log-normalized expression used downstream.
func (s *Sparse) Log1pColumns(factors []float64, pseudoCount float64) (*mat.Dense, error) {
	nrows, ncols := s.Dims()
	if nrows == 0 || ncols == 0 {
		return nil, fmt.Errorf("cannot log-normalize an empty matrix (%d x %d)", nrows, ncols)
	}
	if len(factors) != ncols {
		return nil, fmt.Errorf("got %d factors for %d columns", len(factors), ncols)
	}
	if pseudoCount <= 0 {
		return nil, fmt.Errorf("pseudo-count must be positive, got %v", pseudoCount)
	}
	for c, f := range factors {
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("column %d: size factor must be positive and finite, got %v", c, f)
		}
	}

	out := mat.NewDense(nrows, ncols, nil)
	if base := math.Log2(pseudoCount); base != 0 {
		for r := 0; r < nrows; r++ {
			for c := 0; c < ncols; c++ {
				out.Set(r, c, base)
			}
		}
	}
	for c := 0; c < ncols; c++ {
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			out.Set(s.rowIdx[p], c, math.Log2(s.values[p]/factors[c]+pseudoCount))
		}
	}

	return out, nil
}

// Bind column-binds the receiver with the given matrices. All matrices must
// share an identical row ID set in identical order.
func (s *Sparse) Bind(others ...*Sparse) (*Sparse, error) {
	mats := append([]*Sparse{s}, others...)
	for i, m := range mats[1:] {
		if err := sameRowIDs(s.rowIDs, m.rowIDs); err != nil {
			return nil, fmt.Errorf("matrix %d: %w", i+1, err)
		}
	}

	var ncols, nnz int
	for _, m := range mats {
		_, c := m.Dims()
		ncols += c
		nnz += m.NNZ()
	}

	out := &Sparse{
		rowIDs: s.rowIDs,
		colIDs: make([]string, 0, ncols),
		colPtr: make([]int, 1, ncols+1),
		rowIdx: make([]int, 0, nnz),
		values: make([]float64, 0, nnz),
	}
	for _, m := range mats {
		_, c := m.Dims()
		out.colIDs = append(out.colIDs, m.colIDs...)
		out.rowIdx = append(out.rowIdx, m.rowIdx...)
		out.values = append(out.values, m.values...)
		base := out.colPtr[len(out.colPtr)-1]
		for j := 1; j <= c; j++ {
			out.colPtr = append(out.colPtr, base+m.colPtr[j])
		}
	}

	return out, nil
}

// WithColIDs returns a matrix sharing the receiver's storage but carrying
// the given column IDs.
func (s *Sparse) WithColIDs(colIDs []string) (*Sparse, error) {
	_, ncols := s.Dims()
	if len(colIDs) != ncols {
		return nil, fmt.Errorf("got %d column IDs for %d columns", len(colIDs), ncols)
	}

	out := *s
	out.colIDs = append([]string(nil), colIDs...)

	return &out, nil
}

// WithRowIDs returns a matrix sharing the receiver's storage but carrying
// the given row IDs.
func (s *Sparse) WithRowIDs(rowIDs []string) (*Sparse, error) {
	nrows, _ := s.Dims()
	if len(rowIDs) != nrows {
		return nil, fmt.Errorf("got %d row IDs for %d rows", len(rowIDs), nrows)
	}

	out := *s
	out.rowIDs = append([]string(nil), rowIDs...)

	return &out, nil
}

// CollapseDuplicateRows sums rows sharing the same row ID, keeping the first
// occurrence's position. It returns the collapsed matrix and the number of
// rows removed.
func (s *Sparse) CollapseDuplicateRows() (*Sparse, int) {
	nrows, ncols := s.Dims()
	target := make([]int, nrows)
	firstByID := make(map[string]int, nrows)
	keptIDs := make([]string, 0, nrows)
	dropped := 0
	for r, id := range s.rowIDs {
		if first, ok := firstByID[id]; ok {
			target[r] = first
			dropped++
			continue
		}
		keep := len(keptIDs)
		firstByID[id] = keep
		target[r] = keep
		keptIDs = append(keptIDs, id)
	}
	if dropped == 0 {
		return s, 0
	}

	out := &Sparse{
		rowIDs: keptIDs,
		colIDs: s.colIDs,
		colPtr: make([]int, ncols+1),
	}
	col := make(map[int]float64, 64)
	rows := make([]int, 0, 64)
	for c := 0; c < ncols; c++ {
		clear(col)
		rows = rows[:0]
		for p := s.colPtr[c]; p < s.colPtr[c+1]; p++ {
			t := target[s.rowIdx[p]]
			if _, ok := col[t]; !ok {
				rows = append(rows, t)
			}
			col[t] += s.values[p]
		}
		sort.Ints(rows)
		for _, r := range rows {
			if v := col[r]; v != 0 {
				out.rowIdx = append(out.rowIdx, r)
				out.values = append(out.values, v)
			}
		}
		out.colPtr[c+1] = len(out.rowIdx)
	}

	return out, dropped
}

func sameRowIDs(a, b []string) error {
	if len(a) != len(b) {
		return fmt.Errorf("row count mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("row ID mismatch at %d: %q vs %q", i, a[i], b[i])
		}
	}

	return nil
}

// DenseSubsetRows returns a new dense matrix keeping the given rows in order.
func DenseSubsetRows(m *mat.Dense, indices []int) (*mat.Dense, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("no rows selected")
	}
	nrows, ncols := m.Dims()
	out := mat.NewDense(len(indices), ncols, nil)
	for newRow, oldRow := range indices {
		if oldRow < 0 || oldRow >= nrows {
			return nil, fmt.Errorf("row index %d out of range [0, %d)", oldRow, nrows)
		}
		out.SetRow(newRow, mat.Row(nil, oldRow, m))
	}

	return out, nil
}

// DenseSubsetCols returns a new dense matrix keeping the given columns in order.
func DenseSubsetCols(m *mat.Dense, indices []int) (*mat.Dense, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("no columns selected")
	}
	nrows, ncols := m.Dims()
	out := mat.NewDense(nrows, len(indices), nil)
	for newCol, oldCol := range indices {
		if oldCol < 0 || oldCol >= ncols {
			return nil, fmt.Errorf("column index %d out of range [0, %d)", oldCol, ncols)
		}
		out.SetCol(newCol, mat.Col(nil, oldCol, m))
	}

	return out, nil
}

// DenseBindCols column-binds dense matrices with matching row counts.
func DenseBindCols(ms ...*mat.Dense) (*mat.Dense, error) {
	if len(ms) == 0 {
		return nil, fmt.Errorf("no matrices to bind")
	}
	nrows, _ := ms[0].Dims()
	ncols := 0
	for i, m := range ms {
		r, c := m.Dims()
		if r != nrows {
			return nil, fmt.Errorf("matrix %d: row count mismatch: %d vs %d", i, r, nrows)
		}
		ncols += c
	}

	out := mat.NewDense(nrows, ncols, nil)
	offset := 0
	for _, m := range ms {
		_, c := m.Dims()
		for j := 0; j < c; j++ {
			out.SetCol(offset+j, mat.Col(nil, j, m))
		}
		offset += c
	}

	return out, nil
}
