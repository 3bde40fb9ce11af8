package engine

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/spf13/cast"
)

// Section names in ModelData
const (
	SectionBuses        = "buses"
	SectionLines        = "lines"
	SectionTransformers = "transformers"
	SectionLoads        = "loads"
	SectionGenerators   = "generators"
)

// Group names the engine expects after adaptation
const (
	FlatGroup        = ""
	GroupDynamicLoad = "DynamicLoad"
	GroupDynTrafo    = "DynTrafo"
	GroupGenerator   = "GEN"
	GroupLine        = "Line"
)

// Table is a header row plus loosely typed data rows
type Table struct {
	Header []string `json:"header" yaml:"header"`
	Rows   [][]any  `json:"rows" yaml:"rows"`
}

// Section holds the tables of one component kind keyed by model group.
// A section that has not been adapted keeps its table under FlatGroup.
type Section map[string]Table

// ModelData is a network template before it is built into a System
type ModelData struct {
	Name     string             `json:"name" yaml:"name"`
	BaseMVA  float64            `json:"base_mva" yaml:"base_mva"`
	Freq     float64            `json:"f" yaml:"f"`
	SlackBus string             `json:"slack_bus" yaml:"slack_bus"`
	Sections map[string]Section `json:"sections" yaml:"sections"`
}

// Column returns the index of name in the header or -1
func (t Table) Column(name string) int {
	return slices.Index(t.Header, name)
}

// Value returns the cell at row for column name
func (t Table) Value(row int, name string) (any, error) {
	col := t.Column(name)
	if col < 0 {
		return nil, fmt.Errorf("column %q not in table", name)
	}
	if row < 0 || row >= len(t.Rows) {
		return nil, fmt.Errorf("row %d: %w", row, ErrIndexOutOfRange)
	}
	if col >= len(t.Rows[row]) {
		return nil, fmt.Errorf("row %d has no column %q", row, name)
	}
	return t.Rows[row][col], nil
}

// Float reads a numeric cell. Numeric strings are accepted.
func (t Table) Float(row int, name string) (float64, error) {
	v, err := t.Value(row, name)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Errorf("row %d column %q: %w", row, name, err)
	}
	return f, nil
}

// Text reads a cell as a string
func (t Table) Text(row int, name string) (string, error) {
	v, err := t.Value(row, name)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

// Clone returns a deep copy of the table
func (t Table) Clone() Table {
	out := Table{Header: slices.Clone(t.Header), Rows: make([][]any, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = slices.Clone(r)
	}
	return out
}

// WithDefaultColumns appends each missing column with its default value
func (t Table) WithDefaultColumns(names []string, defaults []any) Table {
	out := t.Clone()
	for i, name := range names {
		if out.Column(name) >= 0 {
			continue
		}
		out.Header = append(out.Header, name)
		for r := range out.Rows {
			out.Rows[r] = append(out.Rows[r], defaults[i])
		}
	}
	return out
}

// Clone returns a deep copy of the model
func (m *ModelData) Clone() *ModelData {
	out := &ModelData{
		Name:     m.Name,
		BaseMVA:  m.BaseMVA,
		Freq:     m.Freq,
		SlackBus: m.SlackBus,
		Sections: make(map[string]Section, len(m.Sections)),
	}
	for name, sec := range m.Sections {
		cp := make(Section, len(sec))
		for g, t := range sec {
			cp[g] = t.Clone()
		}
		out.Sections[name] = cp
	}
	return out
}

// Table returns the table of a section group
func (m *ModelData) Table(section, group string) (Table, bool) {
	sec, ok := m.Sections[section]
	if !ok {
		return Table{}, false
	}
	t, ok := sec[group]
	return t, ok
}

// Adapt rewrites a template into the group layout the engine expects: the
// flat load list becomes the DynamicLoad group and the flat transformer
// table becomes the DynTrafo group with unity ratio_from/ratio_to columns
// added when absent. The input is not modified and adapting twice is a no-op.
func Adapt(m *ModelData) *ModelData {
	out := m.Clone()

	if loads, ok := out.Sections[SectionLoads]; ok {
		if flat, ok := loads[FlatGroup]; ok {
			if _, exists := loads[GroupDynamicLoad]; !exists {
				loads[GroupDynamicLoad] = flat
			}
			delete(loads, FlatGroup)
		}
	}

	if trafos, ok := out.Sections[SectionTransformers]; ok {
		src, ok := trafos[GroupDynTrafo]
		if !ok {
			src, ok = trafos[FlatGroup]
		}
		if ok {
			trafos[GroupDynTrafo] = src.WithDefaultColumns(
				[]string{"ratio_from", "ratio_to"},
				[]any{1.0, 1.0},
			)
			delete(trafos, FlatGroup)
		}
	}

	return out
}

// MemoryCatalog is a Catalog over an in-memory set of templates
type MemoryCatalog struct {
	mu     sync.RWMutex
	models map[string]*ModelData
}

// NewMemoryCatalog creates a catalog holding the given templates
func NewMemoryCatalog(models ...*ModelData) *MemoryCatalog {
	c := &MemoryCatalog{models: make(map[string]*ModelData, len(models))}
	for _, m := range models {
		c.Add(m)
	}
	return c
}

// Add registers or replaces a template under its name
func (c *MemoryCatalog) Add(m *ModelData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models[m.Name] = m.Clone()
}

// Networks returns the template names in sorted order
func (c *MemoryCatalog) Networks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns a copy of the named template
func (c *MemoryCatalog) Load(name string) (*ModelData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrModelNotFound)
	}
	return m.Clone(), nil
}
