package collector

import (
	"encoding/json"
	"math"
	"math/cmplx"
)

// Complex is a complex number that serializes as {"real": .., "imag": ..}.
// Non-finite parts serialize as null.
type Complex complex128

type complexJSON struct {
	Real *float64 `json:"real"`
	Imag *float64 `json:"imag"`
}

func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (c Complex) MarshalJSON() ([]byte, error) {
	return json.Marshal(complexJSON{Real: finite(real(c)), Imag: finite(imag(c))})
}

func (c *Complex) UnmarshalJSON(data []byte) error {
	var raw complexJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	re, im := math.NaN(), math.NaN()
	if raw.Real != nil {
		re = *raw.Real
	}
	if raw.Imag != nil {
		im = *raw.Imag
	}
	*c = Complex(complex(re, im))
	return nil
}

// Abs returns the magnitude
func (c Complex) Abs() float64 { return cmplx.Abs(complex128(c)) }

// Complexes converts engine values for serialization
func Complexes(v []complex128) []Complex {
	out := make([]Complex, len(v))
	for i, z := range v {
		out[i] = Complex(z)
	}
	return out
}
