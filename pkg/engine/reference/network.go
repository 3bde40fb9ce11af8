package reference

import (
	"fmt"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
)

type line struct {
	name      string
	from, to  int
	y         complex128
	bHalf     float64
	connected bool
}

type trafo struct {
	name      string
	from, to  int
	y         complex128
	ratioFrom float64
	ratioTo   float64
}

type load struct {
	name string
	bus  int
	g, b float64
}

type generator struct {
	name string
	bus  int
	sn   float64
	vSet float64
	e    float64 // internal EMF magnitude, set by the power flow
	p    float64 // dispatch, system pu
	m    float64 // 2H on system base
	d    float64
	xdt  float64
	pm   float64
}

type network struct {
	baseMVA float64
	freq    float64
	slack   int // generator index
	buses   []string
	busIdx  map[string]int
	lines   []line
	trafos  []trafo
	loads   []load
	gens    []generator
}

func optFloat(t engine.Table, row int, col string, def float64) (float64, error) {
	if t.Column(col) < 0 {
		return def, nil
	}
	return t.Float(row, col)
}

func (n *network) bus(t engine.Table, row int, col string) (int, error) {
	name, err := t.Text(row, col)
	if err != nil {
		return 0, err
	}
	idx, ok := n.busIdx[name]
	if !ok {
		return 0, fmt.Errorf("row %d: unknown bus %q", row, name)
	}
	return idx, nil
}

func parseNetwork(m *engine.ModelData) (*network, error) {
	n := &network{
		baseMVA: m.BaseMVA,
		freq:    m.Freq,
		busIdx:  make(map[string]int),
	}
	if n.baseMVA <= 0 {
		n.baseMVA = 100
	}
	if n.freq <= 0 {
		n.freq = 50
	}

	buses, ok := m.Table(engine.SectionBuses, engine.FlatGroup)
	if !ok || len(buses.Rows) == 0 {
		return nil, fmt.Errorf("model %s has no buses", m.Name)
	}
	for r := range buses.Rows {
		name, err := buses.Text(r, "name")
		if err != nil {
			return nil, fmt.Errorf("buses: %w", err)
		}
		n.busIdx[name] = len(n.buses)
		n.buses = append(n.buses, name)
	}

	if err := n.parseLines(m); err != nil {
		return nil, fmt.Errorf("lines: %w", err)
	}
	if err := n.parseTrafos(m); err != nil {
		return nil, fmt.Errorf("transformers: %w", err)
	}
	if err := n.parseLoads(m); err != nil {
		return nil, fmt.Errorf("loads: %w", err)
	}
	if err := n.parseGens(m); err != nil {
		return nil, fmt.Errorf("generators: %w", err)
	}
	if len(n.gens) == 0 {
		return nil, fmt.Errorf("model %s has no generators", m.Name)
	}

	for i, g := range n.gens {
		if m.SlackBus != "" && n.buses[g.bus] == m.SlackBus {
			n.slack = i
		}
	}
	return n, nil
}

func (n *network) parseLines(m *engine.ModelData) error {
	t, ok := m.Table(engine.SectionLines, engine.GroupLine)
	if !ok {
		t, ok = m.Table(engine.SectionLines, engine.FlatGroup)
	}
	if !ok {
		return nil
	}
	for r := range t.Rows {
		name, err := t.Text(r, "name")
		if err != nil {
			return err
		}
		from, err := n.bus(t, r, "from_bus")
		if err != nil {
			return err
		}
		to, err := n.bus(t, r, "to_bus")
		if err != nil {
			return err
		}
		length, err := optFloat(t, r, "length", 1)
		if err != nil {
			return err
		}
		res, err := optFloat(t, r, "R", 0)
		if err != nil {
			return err
		}
		x, err := t.Float(r, "X")
		if err != nil {
			return err
		}
		b, err := optFloat(t, r, "B", 0)
		if err != nil {
			return err
		}
		z := complex(res*length, x*length)
		if z == 0 {
			return fmt.Errorf("line %s has zero impedance", name)
		}
		n.lines = append(n.lines, line{
			name:      name,
			from:      from,
			to:        to,
			y:         1 / z,
			bHalf:     b * length / 2,
			connected: true,
		})
	}
	return nil
}

func (n *network) parseTrafos(m *engine.ModelData) error {
	t, ok := m.Table(engine.SectionTransformers, engine.GroupDynTrafo)
	if !ok {
		return nil
	}
	for r := range t.Rows {
		name, err := t.Text(r, "name")
		if err != nil {
			return err
		}
		from, err := n.bus(t, r, "from_bus")
		if err != nil {
			return err
		}
		to, err := n.bus(t, r, "to_bus")
		if err != nil {
			return err
		}
		sn, err := optFloat(t, r, "S_n", n.baseMVA)
		if err != nil {
			return err
		}
		res, err := optFloat(t, r, "R", 0)
		if err != nil {
			return err
		}
		x, err := t.Float(r, "X")
		if err != nil {
			return err
		}
		rf, err := optFloat(t, r, "ratio_from", 1)
		if err != nil {
			return err
		}
		rt, err := optFloat(t, r, "ratio_to", 1)
		if err != nil {
			return err
		}
		z := complex(res, x) * complex(n.baseMVA/sn, 0)
		if z == 0 {
			return fmt.Errorf("transformer %s has zero impedance", name)
		}
		n.trafos = append(n.trafos, trafo{name: name, from: from, to: to, y: 1 / z, ratioFrom: rf, ratioTo: rt})
	}
	return nil
}

func (n *network) parseLoads(m *engine.ModelData) error {
	t, ok := m.Table(engine.SectionLoads, engine.GroupDynamicLoad)
	if !ok {
		return nil
	}
	for r := range t.Rows {
		name, err := t.Text(r, "name")
		if err != nil {
			return err
		}
		bus, err := n.bus(t, r, "bus")
		if err != nil {
			return err
		}
		p, err := t.Float(r, "P")
		if err != nil {
			return err
		}
		q, err := optFloat(t, r, "Q", 0)
		if err != nil {
			return err
		}
		// constant admittance at nominal voltage
		n.loads = append(n.loads, load{name: name, bus: bus, g: p / n.baseMVA, b: q / n.baseMVA})
	}
	return nil
}

func (n *network) parseGens(m *engine.ModelData) error {
	t, ok := m.Table(engine.SectionGenerators, engine.GroupGenerator)
	if !ok {
		return nil
	}
	for r := range t.Rows {
		name, err := t.Text(r, "name")
		if err != nil {
			return err
		}
		bus, err := n.bus(t, r, "bus")
		if err != nil {
			return err
		}
		sn, err := optFloat(t, r, "S_n", n.baseMVA)
		if err != nil {
			return err
		}
		v, err := optFloat(t, r, "V", 1)
		if err != nil {
			return err
		}
		p, err := t.Float(r, "P")
		if err != nil {
			return err
		}
		h, err := t.Float(r, "H")
		if err != nil {
			return err
		}
		d, err := optFloat(t, r, "D", 0)
		if err != nil {
			return err
		}
		xdt, err := t.Float(r, "X_d_t")
		if err != nil {
			return err
		}
		if h <= 0 || xdt <= 0 {
			return fmt.Errorf("generator %s needs positive H and X_d_t", name)
		}
		scale := sn / n.baseMVA
		n.gens = append(n.gens, generator{
			name: name,
			bus:  bus,
			sn:   sn,
			vSet: v,
			e:    v,
			p:    p / n.baseMVA,
			m:    2 * h * scale,
			d:    d * scale,
			xdt:  xdt / scale,
		})
	}
	return nil
}

// networkAdmittance stamps lines and transformers only
func (n *network) networkAdmittance() [][]complex128 {
	y := newMatrix(len(n.buses))
	for _, l := range n.lines {
		if !l.connected {
			continue
		}
		sh := complex(0, l.bHalf)
		y[l.from][l.from] += l.y + sh
		y[l.to][l.to] += l.y + sh
		y[l.from][l.to] -= l.y
		y[l.to][l.from] -= l.y
	}
	for _, t := range n.trafos {
		a := complex(t.ratioFrom/t.ratioTo, 0)
		y[t.from][t.from] += t.y / (a * a)
		y[t.to][t.to] += t.y
		y[t.from][t.to] -= t.y / a
		y[t.to][t.from] -= t.y / a
	}
	return y
}
