// Package scheduler applies configured perturbations to an engine System
// at each time step, in a fixed order: load steps, line outages and
// reconnections, short circuit, tap changes.
package scheduler

import (
	"fmt"

	"github.com/dd0wney/cluso-gridsim/pkg/engine"
	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/params"
)

// TapWindow is how long a tap change override stays active
const TapWindow = 9.0

type loadStep struct {
	cfg    params.LoadStep
	event  *Event
	failed bool
}

type tapState struct {
	index    int
	base     float64
	haveBase bool
	override bool
	current  float64
	failed   bool
}

// Scheduler owns the events of one run. It is not safe for concurrent use;
// the driver calls it from the run goroutine only.
type Scheduler struct {
	p        *params.Parameters
	sys      engine.System
	logger   logging.Logger
	observer Observer

	events []*Event

	steps []loadStep

	outages      []params.Outage
	outageEvents map[string]*Event
	reconnEvents map[string]*Event
	disconnected map[string]bool
	reconnected  map[string]bool
	discFailed   map[string]bool
	reconFailed  map[string]bool

	fault      *Event
	faultOn    bool
	faultError bool

	taps     map[int]*tapState
	tapOrder []int
	tapEvent map[int]*Event
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithObserver sets the observer notified of every event outcome
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// New builds a Scheduler for a parameter snapshot
func New(p *params.Parameters, sys engine.System, opts ...Option) *Scheduler {
	s := &Scheduler{
		p:            p,
		sys:          sys,
		logger:       logging.NewNopLogger(),
		outageEvents: make(map[string]*Event),
		reconnEvents: make(map[string]*Event),
		disconnected: make(map[string]bool),
		reconnected:  make(map[string]bool),
		discFailed:   make(map[string]bool),
		reconFailed:  make(map[string]bool),
		taps:         make(map[int]*tapState),
		tapEvent:     make(map[int]*Event),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(logging.Component("scheduler"))

	for _, st := range []params.LoadStep{p.Step1, p.Step2} {
		if st.GSetp == 0 && st.BSetp == 0 {
			continue
		}
		ev := s.add(KindLoadStep, fmt.Sprintf("load %d", st.LoadIndex), st.Time)
		s.steps = append(s.steps, loadStep{cfg: st, event: ev})
	}

	if p.LineOutage.Enabled {
		s.outages = p.LineOutage.Outages
		for _, o := range s.outages {
			if o.LineID == "" || o.Time == nil {
				continue
			}
			if _, ok := s.outageEvents[o.LineID]; !ok {
				s.outageEvents[o.LineID] = s.add(KindLineOutage, o.LineID, *o.Time)
			}
			if _, ok := s.reconnEvents[o.LineID]; !ok && o.Reconnect.Enabled {
				s.reconnEvents[o.LineID] = s.add(KindLineReconnect, o.LineID, o.Reconnect.Time)
			}
		}
	}

	if p.ShortCircuit.Active() {
		start, _, _ := p.ShortCircuit.Window()
		s.fault = s.add(KindShortCircuit, fmt.Sprintf("bus %d", p.ShortCircuit.BusID.Value), start)
	}

	if p.TapChanger.Enabled {
		for _, c := range p.TapChanger.Changes {
			if !c.TransformerID.Valid {
				continue
			}
			idx := c.TransformerID.Value
			if _, ok := s.taps[idx]; !ok {
				s.taps[idx] = &tapState{index: idx}
				s.tapOrder = append(s.tapOrder, idx)
				s.tapEvent[idx] = s.add(KindTapChange, fmt.Sprintf("transformer %d", idx), c.Time)
			}
		}
	}
	return s
}

func (s *Scheduler) add(kind Kind, target string, t float64) *Event {
	ev := &Event{Kind: kind, Target: target, Time: t}
	s.events = append(s.events, ev)
	return ev
}

// Events returns a copy of every configured event and its status
func (s *Scheduler) Events() []Event {
	out := make([]Event, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}

func (s *Scheduler) observe(kind Kind, ok bool) {
	if s.observer != nil {
		s.observer.ObserveEvent(string(kind), ok)
	}
}

func (s *Scheduler) applied(r *Report, ev *Event, kind Kind, target string, t float64) {
	if ev != nil && ev.Status == StatusPending {
		ev.Status = StatusApplied
		ev.AppliedAt = t
	}
	r.Occurred = append(r.Occurred, Occurrence{Kind: kind, Target: target, T: t})
	s.observe(kind, true)
	s.logger.Info("event applied", logging.Kind(string(kind)), logging.String("target", target), logging.SimTime(t))
}

func (s *Scheduler) failed(r *Report, ev *Event, kind Kind, target string, t float64, err error) {
	eerr := &EventError{Kind: kind, Target: target, T: t, Err: err}
	if ev != nil && ev.Status == StatusPending {
		ev.Status = StatusFailed
		ev.Error = err.Error()
	}
	r.Errors = append(r.Errors, eerr)
	s.observe(kind, false)
	s.logger.Error("event failed", logging.Kind(string(kind)), logging.String("target", target), logging.SimTime(t), logging.Error(err))
}

// Apply applies every perturbation due at time t
func (s *Scheduler) Apply(t float64) Report {
	r := Report{T: t}
	s.applyLoadSteps(&r, t)
	s.applyLines(&r, t)
	s.applyFault(&r, t)
	s.applyTaps(&r, t)
	return r
}

func (s *Scheduler) applyLoadSteps(r *Report, t float64) {
	loads := s.sys.Loads()
	for i := range s.steps {
		st := &s.steps[i]
		if t < st.cfg.Time || st.failed {
			continue
		}
		target := st.event.Target
		g, b, err := loads.Setpoints(st.cfg.LoadIndex)
		if err == nil {
			if st.cfg.GSetp != 0 {
				g = st.cfg.GSetp
			}
			if st.cfg.BSetp != 0 {
				b = st.cfg.BSetp
			}
			err = loads.SetSetpoints(st.cfg.LoadIndex, g, b)
		}
		if err != nil {
			st.failed = true
			s.failed(r, st.event, KindLoadStep, target, t, err)
			continue
		}
		if st.event.Status == StatusPending {
			s.applied(r, st.event, KindLoadStep, target, t)
		}
	}
}

func (s *Scheduler) applyLines(r *Report, t float64) {
	if !s.p.LineOutage.Enabled {
		return
	}
	lines := s.sys.Lines()
	for _, o := range s.outages {
		id := o.LineID
		if id == "" {
			continue
		}
		if o.Time != nil && t >= *o.Time && !s.disconnected[id] && !s.discFailed[id] {
			if err := lines.Disconnect(id); err != nil {
				s.discFailed[id] = true
				s.failed(r, s.outageEvents[id], KindLineOutage, id, t, err)
			} else {
				s.disconnected[id] = true
				s.applied(r, s.outageEvents[id], KindLineOutage, id, t)
			}
		}
		if o.Reconnect.Enabled && s.disconnected[id] && !s.reconnected[id] && !s.reconFailed[id] && t >= o.Reconnect.Time {
			if err := lines.Reconnect(id); err != nil {
				s.reconFailed[id] = true
				s.failed(r, s.reconnEvents[id], KindLineReconnect, id, t, err)
			} else {
				s.reconnected[id] = true
				s.applied(r, s.reconnEvents[id], KindLineReconnect, id, t)
			}
		}
	}
}

// FaultAdmittanceAt returns the fault admittance the configured bus should
// carry at time t, and whether a fault is configured at all.
func FaultAdmittanceAt(sc params.ShortCircuit, t float64) (complex128, bool) {
	if !sc.Active() {
		return 0, false
	}
	start, end, adm := sc.Window()
	if start <= t && t <= end {
		return complex(adm, 0), true
	}
	return 0, true
}

// ApplyFault sets the fault admittance for time t. The derivative wrapper
// calls it at every engine evaluation time.
func (s *Scheduler) ApplyFault(t float64) error {
	y, ok := FaultAdmittanceAt(s.p.ShortCircuit, t)
	if !ok {
		return nil
	}
	return s.sys.SetFaultAdmittance(s.p.ShortCircuit.BusID.Value, y)
}

func (s *Scheduler) applyFault(r *Report, t float64) {
	if s.fault == nil {
		return
	}
	y, _ := FaultAdmittanceAt(s.p.ShortCircuit, t)
	if err := s.ApplyFault(t); err != nil {
		if !s.faultError {
			s.faultError = true
			s.failed(r, s.fault, KindShortCircuit, s.fault.Target, t, err)
		}
		return
	}
	on := y != 0
	if on == s.faultOn {
		return
	}
	s.faultOn = on
	if on {
		s.applied(r, s.fault, KindShortCircuit, s.fault.Target, t)
	} else {
		s.applied(r, nil, KindFaultCleared, s.fault.Target, t)
	}
}

// tapTarget returns the ratio override active for transformer idx at t
func (s *Scheduler) tapTarget(idx int, t float64) (float64, bool) {
	var (
		ratio  float64
		active bool
	)
	for _, c := range s.p.TapChanger.Changes {
		if !c.TransformerID.Valid || c.TransformerID.Value != idx {
			continue
		}
		if c.Time <= t && t < c.Time+TapWindow {
			ratio, active = c.RatioChange, true
		}
	}
	return ratio, active
}

func (s *Scheduler) applyTaps(r *Report, t float64) {
	if !s.p.TapChanger.Enabled {
		return
	}
	trafos := s.sys.Transformers()
	for _, idx := range s.tapOrder {
		st := s.taps[idx]
		if st.failed {
			continue
		}
		ev := s.tapEvent[idx]
		target := ev.Target

		ratio, active := s.tapTarget(idx, t)
		if !st.haveBase {
			if !active {
				continue
			}
			base, err := trafos.RatioFrom(idx)
			if err != nil {
				st.failed = true
				s.failed(r, ev, KindTapChange, target, t, err)
				continue
			}
			st.base, st.haveBase = base, true
		}

		switch {
		case active && (!st.override || st.current != ratio):
			if err := trafos.SetRatioFrom(idx, ratio); err != nil {
				st.failed = true
				s.failed(r, ev, KindTapChange, target, t, err)
				continue
			}
			st.override, st.current = true, ratio
			s.applied(r, ev, KindTapChange, target, t)
		case !active && st.override:
			if err := trafos.SetRatioFrom(idx, st.base); err != nil {
				st.failed = true
				s.failed(r, nil, KindTapRestore, target, t, err)
				continue
			}
			st.override = false
			s.applied(r, nil, KindTapRestore, target, t)
		}
	}
}
