package params

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dd0wney/cluso-gridsim/pkg/logging"
	"github.com/dd0wney/cluso-gridsim/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patch(t *testing.T, body string) Patch {
	t.Helper()
	p, err := ParsePatch([]byte(body))
	require.NoError(t, err)
	return p
}

func TestDefaults(t *testing.T) {
	p := Defaults()
	assert.Equal(t, "k2a", p.Network)
	assert.Equal(t, 20.0, p.TEnd)
	assert.Equal(t, 1.0, p.Step1.Time)
	assert.Equal(t, 2.0, p.Step2.Time)
	assert.True(t, p.LineOutage.Enabled)
	assert.Empty(t, p.LineOutage.Outages)
	assert.False(t, p.ShortCircuit.Active())
	assert.True(t, p.TapChanger.Enabled)
	assert.Len(t, p.TapChanger.Changes, 1)
	assert.False(t, p.TapChanger.Changes[0].TransformerID.Valid)
}

func TestIndexDecoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Index
		wantErr bool
	}{
		{`3`, IndexOf(3), false},
		{`"7"`, IndexOf(7), false},
		{`" 08 "`, IndexOf(8), false},
		{`""`, Index{}, false},
		{`null`, Index{}, false},
		{`"bus7"`, Index{}, true},
		{`1.5`, Index{}, true},
		{`true`, Index{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got Index
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIndex)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIndexEncoding(t *testing.T) {
	data, err := json.Marshal(ShortCircuit{BusID: IndexOf(4)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"busId":4}`, string(data))

	data, err = json.Marshal(ShortCircuit{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"busId":null}`, string(data))
}

func TestCloneIsDeep(t *testing.T) {
	p := Defaults()
	p.LineOutage.Outages = []Outage{{LineID: "L1", Time: float(1)}}
	p.PLL = map[string]any{"gain": map[string]any{"kp": 1.0}}
	p.Noise = &NoiseParams{Loads: NoiseGroup{Enabled: true, Magnitude: 0.1, FilterTime: 1}}

	c := p.Clone()
	require.Equal(t, p, c)

	*c.LineOutage.Outages[0].Time = 5
	*c.ShortCircuit.StartTime = 3
	c.TapChanger.Changes[0].Time = 9
	c.PLL["gain"].(map[string]any)["kp"] = 2.0
	c.Noise.Loads.Magnitude = 1

	assert.Equal(t, 1.0, *p.LineOutage.Outages[0].Time)
	assert.Equal(t, 0.0, *p.ShortCircuit.StartTime)
	assert.Equal(t, 0.0, p.TapChanger.Changes[0].Time)
	assert.Equal(t, 1.0, p.PLL["gain"].(map[string]any)["kp"])
	assert.Equal(t, 0.1, p.Noise.Loads.Magnitude)
}

func TestMergeIsShallow(t *testing.T) {
	base := Defaults()
	out, unknown, err := Merge(base, patch(t, `{
		"t_end": 5,
		"shortCircuit": {"busId": "2", "startTime": 1},
		"colour": "blue"
	}`))
	require.NoError(t, err)

	assert.Equal(t, 5.0, out.TEnd)
	assert.Equal(t, IndexOf(2), out.ShortCircuit.BusID)
	assert.Equal(t, 1.0, *out.ShortCircuit.StartTime)
	assert.Nil(t, out.ShortCircuit.Duration, "section replaced as a whole")
	assert.Equal(t, []string{"colour"}, unknown)

	assert.Equal(t, 20.0, base.TEnd, "base untouched")
}

func TestMergeRejectsBadBusID(t *testing.T) {
	_, _, err := Merge(Defaults(), patch(t, `{"shortCircuit": {"busId": "bus-7"}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, validation.ErrInvalid)
	assert.Contains(t, err.Error(), "Invalid short circuit bus ID")

	_, _, err = Merge(Defaults(), patch(t, `{"t_end": "soon"}`))
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "empty bus id means no fault",
			body: `{"shortCircuit": {"busId": ""}}`,
		},
		{
			name:    "fault without window",
			body:    `{"shortCircuit": {"busId": 3}}`,
			wantErr: "Short circuit is configured but missing required parameters (startTime, duration, or admittance).",
		},
		{
			name: "complete fault",
			body: `{"shortCircuit": {"busId": 3, "startTime": 1, "duration": 0.1, "admittance": 1e6}}`,
		},
		{
			name:    "outage without time",
			body:    `{"lineOutage": {"enabled": true, "outages": [{"lineId": "L1", "time": 1}, {"lineId": "L2"}]}}`,
			wantErr: "Line outage #2 is configured but missing required time parameter.",
		},
		{
			name: "disabled outages are not checked",
			body: `{"lineOutage": {"enabled": false, "outages": [{"lineId": "L2"}]}}`,
		},
		{
			name:    "tap change without transformer",
			body:    `{"tapChanger": {"enabled": true, "changes": [{"transformerId": "", "time": 1, "ratioChange": 1.1}]}}`,
			wantErr: "Please select a transformer for tap change #1 or disable tap changer functionality.",
		},
		{
			name: "tap change with transformer",
			body: `{"tapChanger": {"enabled": true, "changes": [{"transformerId": "0", "time": 1, "ratioChange": 1.1}]}}`,
		},
		{
			name:    "non-positive end time",
			body:    `{"t_end": 0}`,
			wantErr: "Parameters.TEnd: must be greater than 0",
		},
		{
			name:    "negative load index",
			body:    `{"step1": {"time": 1, "load_index": -1}}`,
			wantErr: "Parameters.Step1.LoadIndex: must be at least 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := patch(t, tt.body)
			merged, _, err := Merge(Defaults(), p)
			require.NoError(t, err)

			err = Validate(merged, p.Keys()...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
			assert.True(t, errors.Is(err, validation.ErrInvalid))
		})
	}
}

func TestStoreUpdateAndResolve(t *testing.T) {
	rec := logging.NewRecorder()
	s := NewStore(nil, rec)
	assert.Equal(t, uint64(1), s.Get().Version)

	updated, err := s.Update(patch(t, `{"network": "sm2", "t_end": 3}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)
	assert.Equal(t, "sm2", s.Get().Network)
	assert.Equal(t, 1, rec.Count(logging.InfoLevel, "parameters updated"))

	snap, err := s.Resolve(patch(t, `{"t_end": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.TEnd)
	assert.Equal(t, "sm2", snap.Network)
	assert.Equal(t, 3.0, s.Get().TEnd, "resolve does not store")

	_, err = s.Resolve(patch(t, `{"tapChanger": {"enabled": true, "changes": [{}]}}`))
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = s.Update(patch(t, `{"step1": "nope"}`))
	assert.Error(t, err)
	assert.Equal(t, uint64(2), s.Get().Version)
}

func TestStoreSnapshotsAreIndependent(t *testing.T) {
	s := NewStore(nil, nil)
	snap := s.Get()
	snap.TapChanger.Changes[0].RatioChange = 9

	assert.Equal(t, 0.0, s.Get().TapChanger.Changes[0].RatioChange)
}

func TestStoreConcurrentUpdates(t *testing.T) {
	s := NewStore(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(Patch{KeyTEnd: json.RawMessage(`4`)})
			assert.NoError(t, err)
			_ = s.Get()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(21), s.Get().Version)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: sm2
t_end: 5
step1:
  time: 0.5
  load_index: 0
  g_setp: 1.2
shortCircuit:
  busId: "1"
  startTime: 1
  duration: 0.05
  admittance: 100
noiseParams:
  loads: {enabled: true, magnitude: 0.01, filter_time: 0.5}
`), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sm2", p.Network)
	assert.Equal(t, 5.0, p.TEnd)
	assert.Equal(t, 1.2, p.Step1.GSetp)
	assert.Equal(t, 2.0, p.Step2.Time, "defaults kept")
	assert.Equal(t, IndexOf(1), p.ShortCircuit.BusID)
	require.NotNil(t, p.Noise)
	assert.True(t, p.Noise.Loads.Enabled)
	assert.NoError(t, Validate(p, KeyShortCircuit))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
