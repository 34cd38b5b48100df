package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-tensordecode/models/postprocess"
	"github.com/pkg/errors"
)

// Params holds declared converter parameters as decoded from YAML or JSON.
//
// Scalars may be numbers, booleans or strings. Lists may be YAML/JSON sequences or
// strings separated by commas or whitespace.
type Params map[string]any

// Has reports whether key is declared.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Float returns the float value of key, or def when it is not declared.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %v", key, err)
	}
	return f, nil
}

// Threshold returns a float value of key that must lie within [0,1].
func (p Params) Threshold(key string, def float64) (float64, error) {
	f, err := p.Float(key, def)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 {
		return 0, errors.Wrapf(postprocess.ErrInvalidConfig, "%s must be within [0,1], got %g", key, f)
	}
	return f, nil
}

// Int returns the integer value of key, or def when it is not declared.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %v", key, err)
	}
	if f != float64(int(f)) {
		return 0, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %g is not an integer", key, f)
	}
	return int(f), nil
}

// Bool returns the boolean value of key, or def when it is not declared.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %v", key, err)
		}
		return parsed, nil
	default:
		return false, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %T is not a boolean", key, v)
	}
}

// Strings returns the list value of key, or nil when it is not declared.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...), nil
	case string:
		return splitList(l), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			out = append(out, toString(item))
		}
		return out, nil
	default:
		return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %T is not a list", key, v)
	}
}

// Floats returns the numeric list value of key, or nil when it is not declared.
func (p Params) Floats(key string) ([]float64, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}

	var items []any
	switch l := v.(type) {
	case []float64:
		return append([]float64(nil), l...), nil
	case []float32:
		out := make([]float64, len(l))
		for i, f := range l {
			out[i] = float64(f)
		}
		return out, nil
	case []int:
		out := make([]float64, len(l))
		for i, n := range l {
			out[i] = float64(n)
		}
		return out, nil
	case string:
		for _, s := range splitList(l) {
			items = append(items, s)
		}
	case []any:
		items = l
	default:
		return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "%s: %T is not a list", key, v)
	}

	out := make([]float64, 0, len(items))
	for i, item := range items {
		f, err := toFloat(item)
		if err != nil {
			return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "%s[%d]: %v", key, i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Ints returns the integer list value of key, or nil when it is not declared.
func (p Params) Ints(key string) ([]int, error) {
	fs, err := p.Floats(key)
	if err != nil || fs == nil {
		return nil, err
	}
	out := make([]int, len(fs))
	for i, f := range fs {
		if f != float64(int(f)) {
			return nil, errors.Wrapf(postprocess.ErrInvalidConfig, "%s[%d]: %g is not an integer", key, i, f)
		}
		out[i] = int(f)
	}
	return out, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '[' || r == ']'
	})
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, errors.Errorf("%T is not a number", v)
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
