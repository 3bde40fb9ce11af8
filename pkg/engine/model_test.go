package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleModel() *ModelData {
	return &ModelData{
		Name:    "two-bus",
		BaseMVA: 100,
		Freq:    50,
		Sections: map[string]Section{
			SectionLoads: {
				FlatGroup: {
					Header: []string{"name", "bus", "P", "Q", "model"},
					Rows:   [][]any{{"L1", "B2", 100.0, 20.0, "Z"}},
				},
			},
			SectionTransformers: {
				FlatGroup: {
					Header: []string{"name", "from_bus", "to_bus", "S_n", "X"},
					Rows: [][]any{
						{"T1", "B1", "B2", 900.0, "0.15"},
						{"T2", "B3", "B4", 900.0, 0.15},
					},
				},
			},
		},
	}
}

func TestAdaptWrapsLoadsAndTransformers(t *testing.T) {
	in := sampleModel()
	out := Adapt(in)

	loads, ok := out.Table(SectionLoads, GroupDynamicLoad)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "bus", "P", "Q", "model"}, loads.Header)
	_, flat := out.Table(SectionLoads, FlatGroup)
	assert.False(t, flat)

	trafos, ok := out.Table(SectionTransformers, GroupDynTrafo)
	require.True(t, ok)
	assert.Equal(t, []string{"name", "from_bus", "to_bus", "S_n", "X", "ratio_from", "ratio_to"}, trafos.Header)
	for r := range trafos.Rows {
		from, err := trafos.Float(r, "ratio_from")
		require.NoError(t, err)
		to, err := trafos.Float(r, "ratio_to")
		require.NoError(t, err)
		assert.Equal(t, 1.0, from)
		assert.Equal(t, 1.0, to)
	}

	// input untouched
	_, stillFlat := in.Table(SectionLoads, FlatGroup)
	assert.True(t, stillFlat)
	orig, _ := in.Table(SectionTransformers, FlatGroup)
	assert.Len(t, orig.Header, 5)
}

func TestAdaptKeepsExistingRatios(t *testing.T) {
	in := sampleModel()
	tbl := in.Sections[SectionTransformers][FlatGroup]
	tbl.Header = append(tbl.Header, "ratio_from")
	tbl.Rows[0] = append(tbl.Rows[0], 1.05)
	tbl.Rows[1] = append(tbl.Rows[1], 0.95)
	in.Sections[SectionTransformers][FlatGroup] = tbl

	out := Adapt(in)
	trafos, _ := out.Table(SectionTransformers, GroupDynTrafo)
	assert.Equal(t, []string{"name", "from_bus", "to_bus", "S_n", "X", "ratio_from", "ratio_to"}, trafos.Header)

	r0, _ := trafos.Float(0, "ratio_from")
	r1, _ := trafos.Float(1, "ratio_from")
	assert.Equal(t, 1.05, r0)
	assert.Equal(t, 0.95, r1)
}

func TestAdaptIsIdempotent(t *testing.T) {
	once := Adapt(sampleModel())
	twice := Adapt(once)
	assert.Equal(t, once, twice)
}

func TestTableAccessors(t *testing.T) {
	tbl := sampleModel().Sections[SectionTransformers][FlatGroup]

	x, err := tbl.Float(0, "X")
	require.NoError(t, err)
	assert.InDelta(t, 0.15, x, 1e-12)

	name, err := tbl.Text(1, "name")
	require.NoError(t, err)
	assert.Equal(t, "T2", name)

	_, err = tbl.Float(0, "name")
	assert.Error(t, err)
	_, err = tbl.Value(0, "missing")
	assert.Error(t, err)
	_, err = tbl.Value(5, "X")
	assert.True(t, errors.Is(err, ErrIndexOutOfRange))
}

func TestMemoryCatalog(t *testing.T) {
	c := NewMemoryCatalog(sampleModel(), &ModelData{Name: "a-net"})
	assert.Equal(t, []string{"a-net", "two-bus"}, c.Networks())

	m, err := c.Load("two-bus")
	require.NoError(t, err)
	m.Sections[SectionLoads][FlatGroup].Rows[0][2] = 999.0

	again, err := c.Load("two-bus")
	require.NoError(t, err)
	p, _ := again.Sections[SectionLoads][FlatGroup].Float(0, "P")
	assert.Equal(t, 100.0, p, "catalog must hand out copies")

	_, err = c.Load("nope")
	assert.ErrorIs(t, err, ErrModelNotFound)
}

func TestModelLoadErrorMessage(t *testing.T) {
	err := &ModelLoadError{Network: "k9", Wrapped: ErrModelNotFound}
	assert.Equal(t, "Network k9 not found", err.Error())
	assert.ErrorIs(t, err, ErrModelNotFound)

	other := &ModelLoadError{Network: "k9", Wrapped: errors.New("bad table")}
	assert.Equal(t, "load network k9: bad table", other.Error())

	conv := &ConvergenceError{Stage: "power flow", Wrapped: ErrPowerFlow}
	assert.Equal(t, "power flow: engine: power flow did not converge", conv.Error())
	var target *ConvergenceError
	assert.True(t, errors.As(error(conv), &target))
}
