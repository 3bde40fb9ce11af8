package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Index is an optional component index that accepts a JSON number, a
// numeric string, an empty string or null. Empty and null mean "unset".
type Index struct {
	Value int
	Valid bool
}

// IndexOf returns a set Index
func IndexOf(v int) Index {
	return Index{Value: v, Valid: true}
}

// ErrInvalidIndex is returned for values that are not a whole number
var ErrInvalidIndex = errors.New("invalid index")

func (i *Index) set(raw any) error {
	if _, ok := raw.(bool); ok {
		return fmt.Errorf("%w: %v", ErrInvalidIndex, raw)
	}
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			*i = Index{}
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidIndex, s)
		}
		*i = IndexOf(v)
		return nil
	}
	if f, ok := raw.(float64); ok && f != math.Trunc(f) {
		return fmt.Errorf("%w: %v", ErrInvalidIndex, f)
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIndex, err)
	}
	*i = IndexOf(v)
	return nil
}

func (i *Index) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*i = Index{}
		return nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return i.set(raw)
}

func (i Index) MarshalJSON() ([]byte, error) {
	if !i.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(i.Value)
}

func (i *Index) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" {
		*i = Index{}
		return nil
	}
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return i.set(raw)
}

func (i Index) MarshalYAML() (any, error) {
	if !i.Valid {
		return nil, nil
	}
	return i.Value, nil
}

func (i Index) String() string {
	if !i.Valid {
		return "none"
	}
	return fmt.Sprint(i.Value)
}
