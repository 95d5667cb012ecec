// Package parse reads count matrices and cell-annotation tables in the
// formats the dataset repositories publish: dense delimited tables with a
// gene column and a cell-ID header, MatrixMarket triplets with companion
// gene/barcode lists, and delimited metadata tables. Parsers enforce the
// alignment rules the pipeline depends on: annotation rows must match matrix
// columns exactly, duplicate gene rows collapse by sum with a logged count,
// and malformed numeric fields fail with their row and column named.
package parse

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// DenseCounts parses a dense counts table: a header line of cell IDs
// (optionally preceded by a gene-column label) followed by one line per
// gene. Duplicate gene rows are summed.
func DenseCounts(lggr logger.Logger, r io.Reader, comma rune, src string) (*matrix.Sparse, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", src, err)
	}
	cells := append([]string(nil), header...)

	first, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%s: no count rows after the header", src)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	// The header may or may not carry a label for the gene column; the first
	// data row settles it.
	switch len(first) {
	case len(cells) + 1:
	case len(cells):
		cells = cells[1:]
	default:
		return nil, fmt.Errorf("%s: row 2 has %d fields, header has %d cells", src, len(first), len(cells))
	}

	b := matrix.NewBuilder(cells)
	values := make([]float64, len(cells))

	appendRow := func(record []string, line int) error {
		if len(record) != len(cells)+1 {
			return fmt.Errorf("%s: row %d has %d fields, want %d (gene + %d cells)",
				src, line, len(record), len(cells)+1, len(cells))
		}
		gene := record[0]
		for j, field := range record[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return fmt.Errorf("%s: malformed count %q at row %d (gene %q), column %d (cell %q)",
					src, field, line, gene, j+2, cells[j])
			}
			values[j] = v
		}

		return b.AppendRow(gene, values)
	}

	if err := appendRow(first, 2); err != nil {
		return nil, err
	}
	for line := 3; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		if err := appendRow(record, line); err != nil {
			return nil, err
		}
	}

	sp, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	return collapse(lggr, sp, src), nil
}

// MatrixMarket parses a MatrixMarket coordinate file together with its
// companion gene and barcode lists (one identifier per line; extra
// tab-separated fields after the identifier are ignored). Duplicate
// coordinates sum, matching the format's semantics; duplicate gene IDs
// collapse by sum.
func MatrixMarket(lggr logger.Logger, mm, genes, cells io.Reader, src string) (*matrix.Sparse, error) {
	rowIDs, err := readIDList(genes, src+" (genes)")
	if err != nil {
		return nil, err
	}
	colIDs, err := readIDList(cells, src+" (barcodes)")
	if err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(mm)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		triplets []matrix.Triplet
		sized    bool
		line     int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "%") {
			continue
		}
		fields := strings.Fields(text)

		if !sized {
			if len(fields) != 3 {
				return nil, fmt.Errorf("%s: size line %d has %d fields, want 3", src, line, len(fields))
			}
			nr, err1 := strconv.Atoi(fields[0])
			nc, err2 := strconv.Atoi(fields[1])
			nnz, err3 := strconv.Atoi(fields[2])
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fmt.Errorf("%s: malformed size line %d: %q", src, line, text)
			}
			if nr != len(rowIDs) {
				return nil, fmt.Errorf("%s: matrix declares %d rows, genes file lists %d", src, nr, len(rowIDs))
			}
			if nc != len(colIDs) {
				return nil, fmt.Errorf("%s: matrix declares %d columns, barcodes file lists %d", src, nc, len(colIDs))
			}
			triplets = make([]matrix.Triplet, 0, nnz)
			sized = true
			continue
		}

		if len(fields) != 3 {
			return nil, fmt.Errorf("%s: entry line %d has %d fields, want 3", src, line, len(fields))
		}
		i, err1 := strconv.Atoi(fields[0])
		j, err2 := strconv.Atoi(fields[1])
		v, err3 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("%s: malformed entry at line %d: %q", src, line, text)
		}
		triplets = append(triplets, matrix.Triplet{Row: i - 1, Col: j - 1, Value: v})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if !sized {
		return nil, fmt.Errorf("%s: no size line found", src)
	}

	sp, err := matrix.NewSparseFromTriplets(rowIDs, colIDs, triplets)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	return collapse(lggr, sp, src), nil
}

// collapse sums duplicate gene rows and logs how many were folded.
func collapse(lggr logger.Logger, sp *matrix.Sparse, src string) *matrix.Sparse {
	collapsed, n := sp.CollapseDuplicateRows()
	if n > 0 {
		lggr.Infow("Collapsed duplicate gene rows by sum", "source", src, "duplicates", n)
	}

	return collapsed
}

func readIDList(r io.Reader, src string) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ids []string
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		// 10x-style lists carry "<id>\t<symbol>"; the identifier leads.
		ids = append(ids, strings.Fields(text)[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: no identifiers found", src)
	}

	return ids, nil
}

// CellMetadata parses a delimited annotation table: a header of column
// names and one row per cell, identified by the idColumn (the first column
// when empty). All columns load as strings; typed derivations happen
// downstream.
func CellMetadata(r io.Reader, comma rune, idColumn, src string) (*experiment.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", src, err)
	}

	idIdx := 0
	if idColumn != "" {
		idIdx = -1
		for i, name := range header {
			if name == idColumn {
				idIdx = i
				break
			}
		}
		if idIdx < 0 {
			return nil, fmt.Errorf("%s: ID column %q not in header %v", src, idColumn, header)
		}
	}

	var (
		ids  []string
		cols = make([][]string, len(header))
	)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src, err)
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("%s: row %d has %d fields, header has %d", src, line, len(record), len(header))
		}
		ids = append(ids, record[idIdx])
		for i, field := range record {
			cols[i] = append(cols[i], field)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: no annotation rows after the header", src)
	}

	table := experiment.NewTable(ids)
	for i, name := range header {
		if i == idIdx {
			continue
		}
		if err := table.AddStrCol(name, cols[i]); err != nil {
			return nil, fmt.Errorf("%s: column %q: %w", src, name, err)
		}
	}

	return table, nil
}

// AlignMetadata reorders an annotation table to the matrix's column order.
// The table must cover the matrix columns exactly: every cell annotated
// once, no extras, no missing.
func AlignMetadata(table *experiment.Table, colIDs []string, src string) (*experiment.Table, error) {
	if table.Len() != len(colIDs) {
		return nil, fmt.Errorf("%s: %d annotation rows for %d matrix columns", src, table.Len(), len(colIDs))
	}

	pos := make(map[string]int, table.Len())
	for i, id := range table.IDs() {
		if _, dup := pos[id]; dup {
			return nil, fmt.Errorf("%s: duplicate annotation row for cell %q", src, id)
		}
		pos[id] = i
	}

	indices := make([]int, len(colIDs))
	for j, id := range colIDs {
		i, ok := pos[id]
		if !ok {
			return nil, fmt.Errorf("%s: matrix column %q has no annotation row", src, id)
		}
		indices[j] = i
	}

	aligned, err := table.Subset(indices)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}

	return aligned, nil
}
