package reference

import (
	"fmt"
	"math/cmplx"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
)

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("index %d of %d: %w", i, n, engine.ErrIndexOutOfRange)
	}
	return nil
}

type loadGroup struct{ s *System }

func (g loadGroup) Len() int { return len(g.s.net.loads) }

func (g loadGroup) Setpoints(index int) (float64, float64, error) {
	if err := checkIndex(index, g.Len()); err != nil {
		return 0, 0, err
	}
	l := g.s.net.loads[index]
	return l.g, l.b, nil
}

func (g loadGroup) SetSetpoints(index int, gs, bs float64) error {
	if err := checkIndex(index, g.Len()); err != nil {
		return err
	}
	g.s.net.loads[index].g = gs
	g.s.net.loads[index].b = bs
	return nil
}

func (g loadGroup) Current(x []float64, v []complex128) []complex128 {
	out := make([]complex128, g.Len())
	for i, l := range g.s.net.loads {
		out[i] = complex(l.g, -l.b) * v[l.bus]
	}
	return out
}

func (g loadGroup) power(v []complex128) []complex128 {
	cur := g.Current(nil, v)
	out := make([]complex128, len(cur))
	for i, l := range g.s.net.loads {
		out[i] = v[l.bus] * cmplx.Conj(cur[i])
	}
	return out
}

func (g loadGroup) ActivePower(x []float64, v []complex128) []float64 {
	s := g.power(v)
	out := make([]float64, len(s))
	for i := range s {
		out[i] = real(s[i])
	}
	return out
}

func (g loadGroup) ReactivePower(x []float64, v []complex128) []float64 {
	s := g.power(v)
	out := make([]float64, len(s))
	for i := range s {
		out[i] = imag(s[i])
	}
	return out
}

type genGroup struct{ s *System }

func (g genGroup) Len() int { return len(g.s.net.gens) }

func (g genGroup) StateBlock(index int) (int, int, error) {
	if err := checkIndex(index, g.Len()); err != nil {
		return 0, 0, err
	}
	return 2 * index, 2, nil
}

func (g genGroup) MechanicalPower(index int) (float64, error) {
	if err := checkIndex(index, g.Len()); err != nil {
		return 0, err
	}
	return g.s.net.gens[index].pm, nil
}

func (g genGroup) SetMechanicalPower(index int, p float64) error {
	if err := checkIndex(index, g.Len()); err != nil {
		return err
	}
	g.s.net.gens[index].pm = p
	return nil
}

func (g genGroup) Speed(x []float64, v []complex128) []float64 {
	out := make([]float64, g.Len())
	for i := range out {
		out[i] = speed(x, i)
	}
	return out
}

func (g genGroup) Current(x []float64, v []complex128) []complex128 {
	out := make([]complex128, g.Len())
	for i := range out {
		out[i] = g.s.genCurrent(i, angle(x, i), v)
	}
	return out
}

type lineGroup struct{ s *System }

func (g lineGroup) Len() int { return len(g.s.net.lines) }

func (g lineGroup) Names() []string {
	out := make([]string, g.Len())
	for i, l := range g.s.net.lines {
		out[i] = l.name
	}
	return out
}

func (g lineGroup) find(name string) (*line, error) {
	for i := range g.s.net.lines {
		if g.s.net.lines[i].name == name {
			return &g.s.net.lines[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, engine.ErrLineNotFound)
}

func (g lineGroup) Disconnect(name string) error {
	l, err := g.find(name)
	if err != nil {
		return err
	}
	l.connected = false
	return nil
}

func (g lineGroup) Reconnect(name string) error {
	l, err := g.find(name)
	if err != nil {
		return err
	}
	l.connected = true
	return nil
}

func (g lineGroup) Flows(x []float64, v []complex128) []engine.LineFlow {
	out := make([]engine.LineFlow, g.Len())
	for i, l := range g.s.net.lines {
		if !l.connected {
			continue
		}
		vf, vt := v[l.from], v[l.to]
		sh := complex(0, l.bHalf)
		iFrom := (vf-vt)*l.y + vf*sh
		iTo := (vt-vf)*l.y + vt*sh
		sFrom := vf * cmplx.Conj(iFrom)
		sTo := vt * cmplx.Conj(iTo)
		out[i] = engine.LineFlow{PFrom: real(sFrom), QFrom: imag(sFrom), PTo: real(sTo), QTo: imag(sTo)}
	}
	return out
}

type trafoGroup struct{ s *System }

func (g trafoGroup) Len() int { return len(g.s.net.trafos) }

func (g trafoGroup) RatioFrom(index int) (float64, error) {
	if err := checkIndex(index, g.Len()); err != nil {
		return 0, err
	}
	return g.s.net.trafos[index].ratioFrom, nil
}

func (g trafoGroup) SetRatioFrom(index int, ratio float64) error {
	if err := checkIndex(index, g.Len()); err != nil {
		return err
	}
	if ratio <= 0 {
		return fmt.Errorf("transformer %d: ratio must be positive, got %g", index, ratio)
	}
	g.s.net.trafos[index].ratioFrom = ratio
	return nil
}

func (g trafoGroup) currents(v []complex128) ([]complex128, []complex128) {
	from := make([]complex128, g.Len())
	to := make([]complex128, g.Len())
	for i, t := range g.s.net.trafos {
		a := complex(t.ratioFrom/t.ratioTo, 0)
		through := (v[t.from]/a - v[t.to]) * t.y
		from[i] = through / a
		to[i] = -through
	}
	return from, to
}

func (g trafoGroup) CurrentFrom(x []float64, v []complex128) []complex128 {
	from, _ := g.currents(v)
	return from
}

func (g trafoGroup) CurrentTo(x []float64, v []complex128) []complex128 {
	_, to := g.currents(v)
	return to
}
