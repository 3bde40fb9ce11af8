// Package aggregate accumulates step records and finalizes the result set
// of a run.
package aggregate

import (
	"time"

	"github.com/dd0wney/cluso-gridsim/pkg/collector"
	"github.com/dd0wney/cluso-gridsim/pkg/modal"
	"github.com/dd0wney/cluso-gridsim/pkg/scheduler"
)

// Columns stores every StepRecord field as one array per key
type Columns struct {
	T                []float64             `json:"t"`
	X                [][]float64           `json:"x"`
	V                [][]collector.Complex `json:"v"`
	VMagnitude       [][]float64           `json:"v_magnitude"`
	VAngle           [][]float64           `json:"v_angle"`
	GenSpeed         [][]float64           `json:"gen_speed"`
	GenI             [][]collector.Complex `json:"gen_I"`
	LoadI            [][]collector.Complex `json:"load_I"`
	LoadP            [][]float64           `json:"load_P"`
	LoadQ            [][]float64           `json:"load_Q"`
	TrafoCurrentFrom [][]collector.Complex `json:"trafo_current_from"`
	TrafoCurrentTo   [][]collector.Complex `json:"trafo_current_to"`
}

func newColumns() Columns {
	return Columns{
		T:                []float64{},
		X:                [][]float64{},
		V:                [][]collector.Complex{},
		VMagnitude:       [][]float64{},
		VAngle:           [][]float64{},
		GenSpeed:         [][]float64{},
		GenI:             [][]collector.Complex{},
		LoadI:            [][]collector.Complex{},
		LoadP:            [][]float64{},
		LoadQ:            [][]float64{},
		TrafoCurrentFrom: [][]collector.Complex{},
		TrafoCurrentTo:   [][]collector.Complex{},
	}
}

func (c *Columns) append(r *collector.StepRecord) {
	c.T = append(c.T, r.T)
	c.X = append(c.X, r.X)
	c.V = append(c.V, r.V)
	c.VMagnitude = append(c.VMagnitude, r.VMagnitude)
	c.VAngle = append(c.VAngle, r.VAngle)
	c.GenSpeed = append(c.GenSpeed, r.GenSpeed)
	c.GenI = append(c.GenI, r.GenI)
	c.LoadI = append(c.LoadI, r.LoadI)
	c.LoadP = append(c.LoadP, r.LoadP)
	c.LoadQ = append(c.LoadQ, r.LoadQ)
	c.TrafoCurrentFrom = append(c.TrafoCurrentFrom, r.TrafoCurrentFrom)
	c.TrafoCurrentTo = append(c.TrafoCurrentTo, r.TrafoCurrentTo)
}

// LineFlow is the final power flow through one line
type LineFlow struct {
	PFrom float64 `json:"p_from"`
	QFrom float64 `json:"q_from"`
	PTo   float64 `json:"p_to"`
	QTo   float64 `json:"q_to"`
}

// BusPower is the complex power at one bus
type BusPower struct {
	P float64 `json:"p"`
	Q float64 `json:"q"`
}

// ResultSet is everything a completed run produced
type ResultSet struct {
	RunID           string    `json:"run_id"`
	Network         string    `json:"network"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`

	Columns

	Lines       map[string]LineFlow `json:"lines"`
	Eigenvalues *modal.EigenReport  `json:"eigenvalues"`
	BusPower    []BusPower          `json:"bus_power,omitempty"`
	BusPowerRaw []string            `json:"bus_power_raw,omitempty"`
	Events      []scheduler.Event   `json:"events,omitempty"`
}

// Steps returns the number of recorded steps
func (r *ResultSet) Steps() int {
	return len(r.T)
}

// FinalTime returns the time of the last step, or zero without steps
func (r *ResultSet) FinalTime() float64 {
	if len(r.T) == 0 {
		return 0
	}
	return r.T[len(r.T)-1]
}
