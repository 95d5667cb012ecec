// Package experiment provides the cell-by-gene container shared by all
// analysis stages: named assays over a fixed gene and cell universe, typed
// gene/cell annotation tables, and reduced-dimension results.
package experiment

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
)

// AssayCounts and AssayLogCounts are the conventional assay names used by the
// pipeline stages.
const (
	AssayCounts    = "counts"
	AssayLogCounts = "logcounts"
)

// Assay is a genes x cells matrix stored in an Experiment. Both
// *matrix.Sparse and *mat.Dense satisfy it.
type Assay interface {
	Dims() (r, c int)
}

// Experiment holds assays, gene and cell annotations, and reduced-dimension
// representations for one dataset or a combination of datasets.
//
// Invariants, checked at construction and on every mutation: every assay has
// dimensions genes x cells matching RowData and ColData lengths; the counts
// assay's row and column IDs match the annotation tables' IDs in order; every
// reduced dimension has one row per cell.
type Experiment struct {
	rowData *Table
	colData *Table

	assays     map[string]Assay
	assayOrder []string

	reducedDims map[string]*mat.Dense
	redDimOrder []string
}

// New creates an Experiment from a counts matrix and optional annotation
// tables. Nil tables are initialized empty over the matrix's identifiers.
func New(counts *matrix.Sparse, rowData, colData *Table) (*Experiment, error) {
	if counts == nil {
		return nil, fmt.Errorf("counts matrix is required")
	}
	if rowData == nil {
		rowData = NewTable(counts.RowIDs())
	}
	if colData == nil {
		colData = NewTable(counts.ColIDs())
	}

	if err := sameIDs("gene", counts.RowIDs(), rowData.IDs()); err != nil {
		return nil, err
	}
	if err := sameIDs("cell", counts.ColIDs(), colData.IDs()); err != nil {
		return nil, err
	}

	return &Experiment{
		rowData:     rowData,
		colData:     colData,
		assays:      map[string]Assay{AssayCounts: counts},
		assayOrder:  []string{AssayCounts},
		reducedDims: map[string]*mat.Dense{},
	}, nil
}

func sameIDs(kind string, a, b []string) error {
	if len(a) != len(b) {
		return fmt.Errorf("%s ID count mismatch: %d vs %d", kind, len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("%s ID mismatch at %d: %q vs %q", kind, i, a[i], b[i])
		}
	}

	return nil
}

// NumGenes returns the number of genes (rows).
func (e *Experiment) NumGenes() int {
	return e.rowData.Len()
}

// NumCells returns the number of cells (columns).
func (e *Experiment) NumCells() int {
	return e.colData.Len()
}

// GeneIDs returns the gene identifiers. The slice must not be modified.
func (e *Experiment) GeneIDs() []string {
	return e.rowData.IDs()
}

// CellIDs returns the cell identifiers. The slice must not be modified.
func (e *Experiment) CellIDs() []string {
	return e.colData.IDs()
}

// RowData returns the gene annotation table.
func (e *Experiment) RowData() *Table {
	return e.rowData
}

// ColData returns the cell annotation table.
func (e *Experiment) ColData() *Table {
	return e.colData
}

// Assay returns a named assay.
func (e *Experiment) Assay(name string) (Assay, bool) {
	a, ok := e.assays[name]
	return a, ok
}

// AssayNames returns assay names in insertion order.
func (e *Experiment) AssayNames() []string {
	return append([]string(nil), e.assayOrder...)
}

// SetAssay stores a named assay after validating its dimensions.
func (e *Experiment) SetAssay(name string, a Assay) error {
	r, c := a.Dims()
	if r != e.NumGenes() || c != e.NumCells() {
		return fmt.Errorf("assay %q is %dx%d, experiment is %dx%d", name, r, c, e.NumGenes(), e.NumCells())
	}
	if sp, ok := a.(*matrix.Sparse); ok {
		if err := sameIDs("gene", sp.RowIDs(), e.GeneIDs()); err != nil {
			return fmt.Errorf("assay %q: %w", name, err)
		}
		if err := sameIDs("cell", sp.ColIDs(), e.CellIDs()); err != nil {
			return fmt.Errorf("assay %q: %w", name, err)
		}
	}
	if _, ok := e.assays[name]; !ok {
		e.assayOrder = append(e.assayOrder, name)
	}
	e.assays[name] = a

	return nil
}

// Counts returns the counts assay, or nil when absent or not sparse.
func (e *Experiment) Counts() *matrix.Sparse {
	sp, _ := e.assays[AssayCounts].(*matrix.Sparse)
	return sp
}

// LogCounts returns the logcounts assay, or nil when absent or not dense.
func (e *Experiment) LogCounts() *mat.Dense {
	d, _ := e.assays[AssayLogCounts].(*mat.Dense)
	return d
}

// ReducedDim returns a named reduced-dimension matrix (cells x dims).
func (e *Experiment) ReducedDim(name string) (*mat.Dense, bool) {
	d, ok := e.reducedDims[name]
	return d, ok
}

// ReducedDimNames returns reduced-dimension names in insertion order.
func (e *Experiment) ReducedDimNames() []string {
	return append([]string(nil), e.redDimOrder...)
}

// SetReducedDim stores a reduced-dimension matrix after validating that it
// has one row per cell.
func (e *Experiment) SetReducedDim(name string, d *mat.Dense) error {
	r, _ := d.Dims()
	if r != e.NumCells() {
		return fmt.Errorf("reduced dim %q has %d rows for %d cells", name, r, e.NumCells())
	}
	if _, ok := e.reducedDims[name]; !ok {
		e.redDimOrder = append(e.redDimOrder, name)
	}
	e.reducedDims[name] = d

	return nil
}

// SubsetGenes returns a new Experiment keeping the given gene rows in order.
// Reduced dimensions are carried over unchanged as they are per-cell.
func (e *Experiment) SubsetGenes(indices []int) (*Experiment, error) {
	rowData, err := e.rowData.Subset(indices)
	if err != nil {
		return nil, fmt.Errorf("row data: %w", err)
	}

	// The cell table is cloned so annotating the subset never mutates the
	// parent experiment.
	out := &Experiment{
		rowData:     rowData,
		colData:     e.colData.Clone(),
		assays:      make(map[string]Assay, len(e.assays)),
		assayOrder:  append([]string(nil), e.assayOrder...),
		reducedDims: make(map[string]*mat.Dense, len(e.reducedDims)),
		redDimOrder: append([]string(nil), e.redDimOrder...),
	}
	for name, d := range e.reducedDims {
		out.reducedDims[name] = d
	}
	for _, name := range e.assayOrder {
		switch a := e.assays[name].(type) {
		case *matrix.Sparse:
			sub, err := a.SubsetRows(indices)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			out.assays[name] = sub
		case *mat.Dense:
			sub, err := matrix.DenseSubsetRows(a, indices)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			out.assays[name] = sub
		default:
			return nil, fmt.Errorf("assay %q: unsupported assay type %T", name, a)
		}
	}

	return out, nil
}

// SubsetGenesByID returns a new Experiment keeping the named genes in order.
func (e *Experiment) SubsetGenesByID(ids []string) (*Experiment, error) {
	byID := make(map[string]int, e.NumGenes())
	for i, id := range e.GeneIDs() {
		if _, ok := byID[id]; !ok {
			byID[id] = i
		}
	}
	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		i, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("gene %q not present", id)
		}
		indices = append(indices, i)
	}

	return e.SubsetGenes(indices)
}

// SubsetCells returns a new Experiment keeping the given cell columns in
// order. Reduced dimensions are subset along their rows.
func (e *Experiment) SubsetCells(indices []int) (*Experiment, error) {
	colData, err := e.colData.Subset(indices)
	if err != nil {
		return nil, fmt.Errorf("col data: %w", err)
	}

	out := &Experiment{
		rowData:     e.rowData.Clone(),
		colData:     colData,
		assays:      make(map[string]Assay, len(e.assays)),
		assayOrder:  append([]string(nil), e.assayOrder...),
		reducedDims: make(map[string]*mat.Dense, len(e.reducedDims)),
		redDimOrder: append([]string(nil), e.redDimOrder...),
	}
	for _, name := range e.assayOrder {
		switch a := e.assays[name].(type) {
		case *matrix.Sparse:
			sub, err := a.SubsetCols(indices)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			out.assays[name] = sub
		case *mat.Dense:
			sub, err := matrix.DenseSubsetCols(a, indices)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			out.assays[name] = sub
		default:
			return nil, fmt.Errorf("assay %q: unsupported assay type %T", name, a)
		}
	}
	for _, name := range e.redDimOrder {
		sub, err := matrix.DenseSubsetRows(e.reducedDims[name], indices)
		if err != nil {
			return nil, fmt.Errorf("reduced dim %q: %w", name, err)
		}
		out.reducedDims[name] = sub
	}

	return out, nil
}

// SubsetCellsMask returns a new Experiment keeping cells where keep is true.
func (e *Experiment) SubsetCellsMask(keep []bool) (*Experiment, error) {
	if len(keep) != e.NumCells() {
		return nil, fmt.Errorf("mask has %d entries for %d cells", len(keep), e.NumCells())
	}
	indices := make([]int, 0, len(keep))
	for i, k := range keep {
		if k {
			indices = append(indices, i)
		}
	}

	return e.SubsetCells(indices)
}

// CommonGenes returns the genes present in every experiment, in the first
// experiment's order.
func CommonGenes(exps ...*Experiment) []string {
	if len(exps) == 0 {
		return nil
	}

	sets := make([]map[string]struct{}, len(exps)-1)
	for i, exp := range exps[1:] {
		set := make(map[string]struct{}, exp.NumGenes())
		for _, id := range exp.GeneIDs() {
			set[id] = struct{}{}
		}
		sets[i] = set
	}

	common := []string{}
	for _, id := range exps[0].GeneIDs() {
		inAll := true
		for _, set := range sets {
			if _, ok := set[id]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, id)
		}
	}

	return common
}

// BindCells merges experiments over an identical gene universe into one,
// tagging each cell's origin in a new ColData string column. Cell IDs are
// prefixed with their batch name to stay unique. Assays present in every
// input are bound; others are dropped, as are reduced dimensions. ColData
// columns are kept only when present with the same kind in every input.
func BindCells(exps []*Experiment, batchNames []string, batchCol string) (*Experiment, error) {
	if len(exps) == 0 {
		return nil, fmt.Errorf("no experiments to bind")
	}
	if len(batchNames) != len(exps) {
		return nil, fmt.Errorf("got %d batch names for %d experiments", len(batchNames), len(exps))
	}
	for i, exp := range exps[1:] {
		if err := sameIDs("gene", exps[0].GeneIDs(), exp.GeneIDs()); err != nil {
			return nil, fmt.Errorf("experiment %d: %w", i+1, err)
		}
	}

	// Shared ColData columns, in the first experiment's order.
	shared := []string{}
	for _, name := range exps[0].colData.ColNames() {
		kind, _ := exps[0].colData.ColKindOf(name)
		inAll := true
		for _, exp := range exps[1:] {
			k, ok := exp.colData.ColKindOf(name)
			if !ok || k != kind {
				inAll = false
				break
			}
		}
		if inAll {
			shared = append(shared, name)
		}
	}

	// Assays present in every experiment, in the first experiment's order.
	sharedAssays := []string{}
	for _, name := range exps[0].assayOrder {
		inAll := true
		for _, exp := range exps[1:] {
			if _, ok := exp.assays[name]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			sharedAssays = append(sharedAssays, name)
		}
	}

	totalCells := 0
	for _, exp := range exps {
		totalCells += exp.NumCells()
	}

	ids := make([]string, 0, totalCells)
	batch := make([]string, 0, totalCells)
	for i, exp := range exps {
		for _, id := range exp.CellIDs() {
			ids = append(ids, batchNames[i]+"."+id)
			batch = append(batch, batchNames[i])
		}
	}

	colData := NewTable(ids)
	for _, name := range shared {
		kind, _ := exps[0].colData.ColKindOf(name)
		var err error
		switch kind {
		case ColString:
			vals := make([]string, 0, totalCells)
			for _, exp := range exps {
				col, _ := exp.colData.StrCol(name)
				vals = append(vals, col...)
			}
			err = colData.AddStrCol(name, vals)
		case ColNumber:
			vals := make([]float64, 0, totalCells)
			for _, exp := range exps {
				col, _ := exp.colData.NumCol(name)
				vals = append(vals, col...)
			}
			err = colData.AddNumCol(name, vals)
		case ColInt:
			vals := make([]int, 0, totalCells)
			for _, exp := range exps {
				col, _ := exp.colData.IntCol(name)
				vals = append(vals, col...)
			}
			err = colData.AddIntCol(name, vals)
		case ColBool:
			vals := make([]bool, 0, totalCells)
			for _, exp := range exps {
				col, _ := exp.colData.BoolCol(name)
				vals = append(vals, col...)
			}
			err = colData.AddBoolCol(name, vals)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := colData.AddStrCol(batchCol, batch); err != nil {
		return nil, err
	}

	out := &Experiment{
		rowData:     exps[0].rowData.Clone(),
		colData:     colData,
		assays:      make(map[string]Assay, len(sharedAssays)),
		reducedDims: map[string]*mat.Dense{},
	}
	for _, name := range sharedAssays {
		switch first := exps[0].assays[name].(type) {
		case *matrix.Sparse:
			rest := make([]*matrix.Sparse, 0, len(exps)-1)
			for i, exp := range exps[1:] {
				sp, ok := exp.assays[name].(*matrix.Sparse)
				if !ok {
					return nil, fmt.Errorf("assay %q: experiment %d is not sparse", name, i+1)
				}
				rest = append(rest, sp)
			}
			bound, err := first.Bind(rest...)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			renamed, err := bound.WithColIDs(ids)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			out.assays[name] = renamed
			out.assayOrder = append(out.assayOrder, name)
		case *mat.Dense:
			all := make([]*mat.Dense, 0, len(exps))
			for i, exp := range exps {
				d, ok := exp.assays[name].(*mat.Dense)
				if !ok {
					return nil, fmt.Errorf("assay %q: experiment %d is not dense", name, i)
				}
				all = append(all, d)
			}
			bound, err := matrix.DenseBindCols(all...)
			if err != nil {
				return nil, fmt.Errorf("assay %q: %w", name, err)
			}
			out.assays[name] = bound
			out.assayOrder = append(out.assayOrder, name)
		default:
			return nil, fmt.Errorf("assay %q: unsupported assay type %T", name, first)
		}
	}

	return out, nil
}
