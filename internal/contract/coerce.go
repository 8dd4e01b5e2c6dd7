package contract

import (
	"encoding/json"
	"math"

	"github.com/pitabwire/odoorest/model"
)

// Float bounds of int64; 1<<63 itself is out of range.
const (
	minInt64Float = -(1 << 63)
	maxInt64Float = 1 << 63
)

// floatToInt64 accepts whole floats that fit in int64. NaN and the
// infinities fail the range check.
func floatToInt64(f float64) (int64, bool) {
	if !(f >= minInt64Float && f < maxInt64Float) || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// toInt64 converts any integral number to int64.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return floatToInt64(float64(n))
	case float64:
		return floatToInt64(n)
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toIDs(v any) ([]int64, bool) {
	switch ids := v.(type) {
	case []int64:
		out := make([]int64, len(ids))
		copy(out, ids)
		return out, true
	case []int:
		out := make([]int64, len(ids))
		for i, id := range ids {
			out[i] = int64(id)
		}
		return out, true
	case []any:
		out := make([]int64, len(ids))
		for i, raw := range ids {
			id, ok := toInt64(raw)
			if !ok {
				return nil, false
			}
			out[i] = id
		}
		return out, true
	}
	return nil, false
}

func toFields(v any) ([]string, bool) {
	switch fields := v.(type) {
	case nil:
		return AllFields, true
	case []string:
		out := make([]string, len(fields))
		copy(out, fields)
		return out, true
	case []any:
		out := make([]string, len(fields))
		for i, raw := range fields {
			s, ok := raw.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toNonNegativeInt(v any) (int, bool) {
	n, ok := toInt64(v)
	if !ok || n < 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

func toValues(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}
	return nil, false
}

func toCondition(v any) (model.Condition, bool) {
	switch c := v.(type) {
	case model.Condition:
		return c, c.Field != "" && c.Operator != ""
	case []any:
		if len(c) != 3 {
			return model.Condition{}, false
		}
		return tripleToCondition(c[0], c[1], c[2])
	case [3]any:
		return tripleToCondition(c[0], c[1], c[2])
	}
	return model.Condition{}, false
}

func tripleToCondition(field, op, value any) (model.Condition, bool) {
	f, ok := field.(string)
	if !ok || f == "" {
		return model.Condition{}, false
	}
	o, ok := op.(string)
	if !ok || o == "" {
		return model.Condition{}, false
	}
	return model.Condition{Field: f, Operator: o, Value: value}, true
}

func toDomain(v any) (model.Domain, bool) {
	var entries []any
	switch d := v.(type) {
	case model.Domain:
		entries = make([]any, len(d))
		for i, c := range d {
			entries[i] = c
		}
	case []model.Condition:
		entries = make([]any, len(d))
		for i, c := range d {
			entries[i] = c
		}
	case [][]any:
		entries = make([]any, len(d))
		for i, c := range d {
			entries[i] = c
		}
	case []any:
		entries = d
	default:
		return nil, false
	}

	out := make(model.Domain, 0, len(entries))
	for _, e := range entries {
		c, ok := toCondition(e)
		if !ok {
			return nil, false
		}
		out = append(out, c)
	}
	return out, true
}

func toAfterExecution(v any) (model.AfterExecutionFunc, bool) {
	switch fn := v.(type) {
	case model.AfterExecutionFunc:
		return fn, fn != nil
	case func(any, model.Params) (any, error):
		return fn, fn != nil
	case func(any, model.Params) any:
		if fn == nil {
			return nil, false
		}
		return func(result any, p model.Params) (any, error) { return fn(result, p), nil }, true
	}
	return nil, false
}

func toCustomResponse(v any) (model.CustomResponseFunc, bool) {
	switch fn := v.(type) {
	case model.CustomResponseFunc:
		return fn, fn != nil
	case func(any, model.Params) (any, error):
		return fn, fn != nil
	case func(any, model.Params) any:
		if fn == nil {
			return nil, false
		}
		return func(result any, p model.Params) (any, error) { return fn(result, p), nil }, true
	}
	return nil, false
}
