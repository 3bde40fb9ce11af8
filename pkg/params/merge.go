package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/validation"
)

// Top-level parameter names
const (
	KeyNetwork      = "network"
	KeyTEnd         = "t_end"
	KeyStep1        = "step1"
	KeyStep2        = "step2"
	KeyLineOutage   = "lineOutage"
	KeyShortCircuit = "shortCircuit"
	KeyTapChanger   = "tapChanger"
	KeyNoise        = "noiseParams"
	KeyPLL          = "pllParams"
)

func decodeInto[T any](raw json.RawMessage, dst *T) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*dst = v
	return nil
}

// Merge applies a shallow update: every key present in patch replaces the
// whole top-level value. Unknown keys are returned, not applied.
func Merge(base *Parameters, patch Patch) (*Parameters, []string, error) {
	out := base.Clone()
	var unknown []string

	for _, key := range patch.Keys() {
		raw := patch[key]
		var err error
		switch key {
		case KeyNetwork:
			err = decodeInto(raw, &out.Network)
		case KeyTEnd:
			err = decodeInto(raw, &out.TEnd)
		case KeyStep1:
			err = decodeInto(raw, &out.Step1)
		case KeyStep2:
			err = decodeInto(raw, &out.Step2)
		case KeyLineOutage:
			err = decodeInto(raw, &out.LineOutage)
		case KeyShortCircuit:
			err = decodeInto(raw, &out.ShortCircuit)
			if errors.Is(err, ErrInvalidIndex) {
				return nil, nil, validation.Failf(key, "Invalid short circuit bus ID. Please select a valid bus or leave empty for no short circuit.")
			}
		case KeyTapChanger:
			err = decodeInto(raw, &out.TapChanger)
		case KeyNoise:
			err = decodeInto(raw, &out.Noise)
		case KeyPLL:
			err = decodeInto(raw, &out.PLL)
		case "version":
			// assigned by the store
		default:
			unknown = append(unknown, key)
		}
		if err != nil {
			return nil, nil, validation.Failf(key, "%s: %v", key, err)
		}
	}
	return out, unknown, nil
}

// Validate checks p. Cross-field rules run for the named sections only, or
// for every section when none are named.
func Validate(p *Parameters, sections ...string) error {
	if err := validation.Struct(p); err != nil {
		return err
	}
	check := func(key string) bool {
		if len(sections) == 0 {
			return true
		}
		for _, s := range sections {
			if s == key {
				return true
			}
		}
		return false
	}

	if check(KeyShortCircuit) {
		sc := p.ShortCircuit
		if sc.BusID.Valid && sc.BusID.Value < 0 {
			return validation.Failf(KeyShortCircuit, "Invalid short circuit bus ID. Please select a valid bus or leave empty for no short circuit.")
		}
		if sc.Active() && (sc.StartTime == nil || sc.Duration == nil || sc.Admittance == nil) {
			return validation.Failf(KeyShortCircuit, "Short circuit is configured but missing required parameters (startTime, duration, or admittance).")
		}
	}

	if check(KeyLineOutage) && p.LineOutage.Enabled {
		for i, o := range p.LineOutage.Outages {
			if o.LineID != "" && o.Time == nil {
				return validation.Failf(KeyLineOutage, "Line outage #%d is configured but missing required time parameter.", i+1)
			}
		}
	}

	if check(KeyTapChanger) && p.TapChanger.Enabled {
		for i, c := range p.TapChanger.Changes {
			if !c.TransformerID.Valid || c.TransformerID.Value < 0 {
				return validation.Failf(KeyTapChanger, "Please select a transformer for tap change #%d or disable tap changer functionality.", i+1)
			}
		}
	}
	return nil
}

// Store is the live parameter set shared by the API. Every merge bumps
// the version.
type Store struct {
	mu      sync.RWMutex
	current *Parameters
	logger  logging.Logger
}

// NewStore creates a store seeded with initial, or Defaults when nil
func NewStore(initial *Parameters, logger logging.Logger) *Store {
	if initial == nil {
		initial = Defaults()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cur := initial.Clone()
	cur.Version = 1
	return &Store{current: cur, logger: logger.With(logging.Component("params"))}
}

// Get returns a snapshot of the current parameters
func (s *Store) Get() *Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update merges patch into the live parameters and returns the result
func (s *Store) Update(patch Patch) (*Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, unknown, err := Merge(s.current, patch)
	if err != nil {
		return nil, err
	}
	next.Version = s.current.Version + 1
	s.current = next

	fields := []logging.Field{
		logging.Int64("version", int64(next.Version)),
		logging.Any("keys", patch.Keys()),
	}
	if len(unknown) > 0 {
		fields = append(fields, logging.Any("ignored", unknown))
	}
	s.logger.Info("parameters updated", fields...)
	return next.Clone(), nil
}

// Resolve returns the live parameters with patch applied, without storing
// the result. The sections present in patch are validated.
func (s *Store) Resolve(patch Patch) (*Parameters, error) {
	s.mu.RLock()
	base := s.current
	out, _, err := Merge(base, patch)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if err := Validate(out, patch.Keys()...); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parameters) String() string {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("<parameters: %v>", err)
	}
	return string(data)
}
