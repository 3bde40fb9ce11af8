// Package params holds simulation parameters, their defaults and the
// store the API merges partial updates into.
package params

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// LoadStep changes the setpoints of one load from Time on. A zero setpoint
// keeps the engine's current value.
type LoadStep struct {
	Time      float64 `json:"time" yaml:"time" validate:"gte=0"`
	LoadIndex int     `json:"load_index" yaml:"load_index" validate:"gte=0"`
	GSetp     float64 `json:"g_setp" yaml:"g_setp"`
	BSetp     float64 `json:"b_setp" yaml:"b_setp"`
}

type Reconnect struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Time    float64 `json:"time" yaml:"time"`
}

// Outage disconnects a line at Time and optionally reconnects it later
type Outage struct {
	LineID    string    `json:"lineId" yaml:"lineId"`
	Time      *float64  `json:"time,omitempty" yaml:"time,omitempty"`
	Reconnect Reconnect `json:"reconnect" yaml:"reconnect"`
}

type LineOutage struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Outages []Outage `json:"outages" yaml:"outages"`
}

// ShortCircuit applies a fault admittance at one bus for a time window
type ShortCircuit struct {
	BusID      Index    `json:"busId" yaml:"busId"`
	StartTime  *float64 `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	Duration   *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Admittance *float64 `json:"admittance,omitempty" yaml:"admittance,omitempty"`
}

// Active reports whether a bus is configured
func (sc ShortCircuit) Active() bool {
	return sc.BusID.Valid
}

// Window returns the fault window. Missing fields read as zero.
func (sc ShortCircuit) Window() (start, end, admittance float64) {
	if sc.StartTime != nil {
		start = *sc.StartTime
	}
	end = start
	if sc.Duration != nil {
		end += *sc.Duration
	}
	if sc.Admittance != nil {
		admittance = *sc.Admittance
	}
	return start, end, admittance
}

type TapChange struct {
	TransformerID Index   `json:"transformerId" yaml:"transformerId"`
	Time          float64 `json:"time" yaml:"time"`
	RatioChange   float64 `json:"ratioChange" yaml:"ratioChange"`
}

type TapChanger struct {
	Enabled bool        `json:"enabled" yaml:"enabled"`
	Changes []TapChange `json:"changes" yaml:"changes"`
}

// NoiseGroup configures setpoint noise for one component group
type NoiseGroup struct {
	Enabled    bool    `json:"enabled" yaml:"enabled"`
	Magnitude  float64 `json:"magnitude" yaml:"magnitude" validate:"gte=0"`
	FilterTime float64 `json:"filter_time" yaml:"filter_time" validate:"gte=0"`
}

type NoiseParams struct {
	Loads      NoiseGroup `json:"loads" yaml:"loads"`
	Generators NoiseGroup `json:"generators" yaml:"generators"`
}

// Parameters is one complete simulation configuration
type Parameters struct {
	Version      uint64         `json:"version" yaml:"-"`
	Network      string         `json:"network" yaml:"network" validate:"required"`
	TEnd         float64        `json:"t_end" yaml:"t_end" validate:"gt=0"`
	Step1        LoadStep       `json:"step1" yaml:"step1"`
	Step2        LoadStep       `json:"step2" yaml:"step2"`
	LineOutage   LineOutage     `json:"lineOutage" yaml:"lineOutage"`
	ShortCircuit ShortCircuit   `json:"shortCircuit" yaml:"shortCircuit"`
	TapChanger   TapChanger     `json:"tapChanger" yaml:"tapChanger"`
	Noise        *NoiseParams   `json:"noiseParams,omitempty" yaml:"noiseParams,omitempty"`
	PLL          map[string]any `json:"pllParams,omitempty" yaml:"pllParams,omitempty"`
}

func float(v float64) *float64 { return &v }

// Defaults returns the built-in parameter set
func Defaults() *Parameters {
	return &Parameters{
		Network: "k2a",
		TEnd:    20,
		Step1:   LoadStep{Time: 1.0},
		Step2:   LoadStep{Time: 2.0},
		LineOutage: LineOutage{
			Enabled: true,
			Outages: []Outage{},
		},
		ShortCircuit: ShortCircuit{
			StartTime:  float(0),
			Duration:   float(0),
			Admittance: float(0),
		},
		TapChanger: TapChanger{
			Enabled: true,
			Changes: []TapChange{{}},
		},
	}
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return float(*p)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy
func (p *Parameters) Clone() *Parameters {
	out := *p
	if p.LineOutage.Outages != nil {
		out.LineOutage.Outages = make([]Outage, len(p.LineOutage.Outages))
		for i, o := range p.LineOutage.Outages {
			o.Time = clonePtr(o.Time)
			out.LineOutage.Outages[i] = o
		}
	}
	out.ShortCircuit.StartTime = clonePtr(p.ShortCircuit.StartTime)
	out.ShortCircuit.Duration = clonePtr(p.ShortCircuit.Duration)
	out.ShortCircuit.Admittance = clonePtr(p.ShortCircuit.Admittance)
	out.TapChanger.Changes = slices.Clone(p.TapChanger.Changes)
	if p.Noise != nil {
		n := *p.Noise
		out.Noise = &n
	}
	if p.PLL != nil {
		out.PLL = cloneValue(p.PLL).(map[string]any)
	}
	return &out
}

// Patch is a partial update keyed by top-level parameter name
type Patch map[string]json.RawMessage

// Keys returns the patch keys in sorted order
func (p Patch) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// ParsePatch decodes a JSON object into a Patch
func ParsePatch(data []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	return p, nil
}

// LoadFile reads a YAML parameter file over the defaults
func LoadFile(path string) (*Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	p := Defaults()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse parameters %s: %w", path, err)
	}
	return p, nil
}
