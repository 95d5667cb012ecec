package experiment

import (
	"encoding/json"
	"fmt"
)

// ColKind identifies the value type of a Table column.
type ColKind string

const (
	ColString ColKind = "string"
	ColNumber ColKind = "number"
	ColInt    ColKind = "int"
	ColBool   ColKind = "bool"
)

type tableCol struct {
	kind  ColKind
	strs  []string
	nums  []float64
	ints  []int
	bools []bool
}

func (c *tableCol) len() int {
	switch c.kind {
	case ColString:
		return len(c.strs)
	case ColNumber:
		return len(c.nums)
	case ColInt:
		return len(c.ints)
	default:
		return len(c.bools)
	}
}

// Table holds ordered typed annotation columns keyed by row identifiers.
// It is the in-memory analog of a data frame of gene or cell annotations.
type Table struct {
	ids   []string
	order []string
	cols  map[string]*tableCol
}

// NewTable creates an empty Table over the given row identifiers.
func NewTable(ids []string) *Table {
	return &Table{
		ids:  ids,
		cols: map[string]*tableCol{},
	}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.ids)
}

// IDs returns the row identifiers. The slice must not be modified.
func (t *Table) IDs() []string {
	return t.ids
}

// ColNames returns column names in insertion order.
func (t *Table) ColNames() []string {
	return append([]string(nil), t.order...)
}

// HasCol reports whether a column with the given name exists.
func (t *Table) HasCol(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// ColKindOf returns the kind of the named column.
func (t *Table) ColKindOf(name string) (ColKind, bool) {
	c, ok := t.cols[name]
	if !ok {
		return "", false
	}

	return c.kind, true
}

func (t *Table) addCol(name string, c *tableCol) error {
	if c.len() != len(t.ids) {
		return fmt.Errorf("column %q has %d values for %d rows", name, c.len(), len(t.ids))
	}
	if _, ok := t.cols[name]; !ok {
		t.order = append(t.order, name)
	}
	t.cols[name] = c

	return nil
}

// AddStrCol adds or replaces a string column.
func (t *Table) AddStrCol(name string, values []string) error {
	return t.addCol(name, &tableCol{kind: ColString, strs: values})
}

// AddNumCol adds or replaces a float64 column.
func (t *Table) AddNumCol(name string, values []float64) error {
	return t.addCol(name, &tableCol{kind: ColNumber, nums: values})
}

// AddIntCol adds or replaces an int column.
func (t *Table) AddIntCol(name string, values []int) error {
	return t.addCol(name, &tableCol{kind: ColInt, ints: values})
}

// AddBoolCol adds or replaces a bool column.
func (t *Table) AddBoolCol(name string, values []bool) error {
	return t.addCol(name, &tableCol{kind: ColBool, bools: values})
}

// StrCol returns a string column by name.
func (t *Table) StrCol(name string) ([]string, bool) {
	c, ok := t.cols[name]
	if !ok || c.kind != ColString {
		return nil, false
	}

	return c.strs, true
}

// NumCol returns a float64 column by name.
func (t *Table) NumCol(name string) ([]float64, bool) {
	c, ok := t.cols[name]
	if !ok || c.kind != ColNumber {
		return nil, false
	}

	return c.nums, true
}

// IntCol returns an int column by name.
func (t *Table) IntCol(name string) ([]int, bool) {
	c, ok := t.cols[name]
	if !ok || c.kind != ColInt {
		return nil, false
	}

	return c.ints, true
}

// BoolCol returns a bool column by name.
func (t *Table) BoolCol(name string) ([]bool, bool) {
	c, ok := t.cols[name]
	if !ok || c.kind != ColBool {
		return nil, false
	}

	return c.bools, true
}

// Subset returns a new Table keeping the given rows in the given order.
func (t *Table) Subset(indices []int) (*Table, error) {
	ids := make([]string, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(t.ids) {
			return nil, fmt.Errorf("row index %d out of range [0, %d)", idx, len(t.ids))
		}
		ids[i] = t.ids[idx]
	}

	out := NewTable(ids)
	for _, name := range t.order {
		c := t.cols[name]
		nc := &tableCol{kind: c.kind}
		switch c.kind {
		case ColString:
			nc.strs = make([]string, len(indices))
			for i, idx := range indices {
				nc.strs[i] = c.strs[idx]
			}
		case ColNumber:
			nc.nums = make([]float64, len(indices))
			for i, idx := range indices {
				nc.nums[i] = c.nums[idx]
			}
		case ColInt:
			nc.ints = make([]int, len(indices))
			for i, idx := range indices {
				nc.ints[i] = c.ints[idx]
			}
		case ColBool:
			nc.bools = make([]bool, len(indices))
			for i, idx := range indices {
				nc.bools[i] = c.bools[idx]
			}
		}
		if err := out.addCol(name, nc); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := NewTable(append([]string(nil), t.ids...))
	for _, name := range t.order {
		c := t.cols[name]
		nc := &tableCol{kind: c.kind}
		switch c.kind {
		case ColString:
			nc.strs = append([]string(nil), c.strs...)
		case ColNumber:
			nc.nums = append([]float64(nil), c.nums...)
		case ColInt:
			nc.ints = append([]int(nil), c.ints...)
		case ColBool:
			nc.bools = append([]bool(nil), c.bools...)
		}
		out.order = append(out.order, name)
		out.cols[name] = nc
	}

	return out
}

// Append concatenates the rows of another Table. Both tables must have the
// same columns with the same kinds.
func (t *Table) Append(other *Table) (*Table, error) {
	if len(t.order) != len(other.order) {
		return nil, fmt.Errorf("column count mismatch: %d vs %d", len(t.order), len(other.order))
	}
	for _, name := range t.order {
		oc, ok := other.cols[name]
		if !ok {
			return nil, fmt.Errorf("column %q missing from appended table", name)
		}
		if oc.kind != t.cols[name].kind {
			return nil, fmt.Errorf("column %q kind mismatch: %s vs %s", name, t.cols[name].kind, oc.kind)
		}
	}

	ids := make([]string, 0, len(t.ids)+len(other.ids))
	ids = append(ids, t.ids...)
	ids = append(ids, other.ids...)

	out := NewTable(ids)
	for _, name := range t.order {
		c, oc := t.cols[name], other.cols[name]
		nc := &tableCol{kind: c.kind}
		switch c.kind {
		case ColString:
			nc.strs = append(append([]string(nil), c.strs...), oc.strs...)
		case ColNumber:
			nc.nums = append(append([]float64(nil), c.nums...), oc.nums...)
		case ColInt:
			nc.ints = append(append([]int(nil), c.ints...), oc.ints...)
		case ColBool:
			nc.bools = append(append([]bool(nil), c.bools...), oc.bools...)
		}
		if err := out.addCol(name, nc); err != nil {
			return nil, err
		}
	}

	return out, nil
}

type tableColJSON struct {
	Name  string    `json:"name"`
	Kind  ColKind   `json:"kind"`
	Strs  []string  `json:"strs,omitempty"`
	Nums  []float64 `json:"nums,omitempty"`
	Ints  []int     `json:"ints,omitempty"`
	Bools []bool    `json:"bools,omitempty"`
}

type tableJSON struct {
	IDs     []string       `json:"ids"`
	Columns []tableColJSON `json:"columns"`
}

// MarshalJSON implements json.Marshaler.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := tableJSON{IDs: t.ids, Columns: make([]tableColJSON, 0, len(t.order))}
	for _, name := range t.order {
		c := t.cols[name]
		out.Columns = append(out.Columns, tableColJSON{
			Name:  name,
			Kind:  c.kind,
			Strs:  c.strs,
			Nums:  c.nums,
			Ints:  c.ints,
			Bools: c.bools,
		})
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in tableJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	loaded := NewTable(in.IDs)
	for _, c := range in.Columns {
		var err error
		switch c.Kind {
		case ColString:
			err = loaded.AddStrCol(c.Name, c.Strs)
		case ColNumber:
			err = loaded.AddNumCol(c.Name, c.Nums)
		case ColInt:
			err = loaded.AddIntCol(c.Name, c.Ints)
		case ColBool:
			err = loaded.AddBoolCol(c.Name, c.Bools)
		default:
			err = fmt.Errorf("unknown column kind %q", c.Kind)
		}
		if err != nil {
			return err
		}
	}
	*t = *loaded

	return nil
}
