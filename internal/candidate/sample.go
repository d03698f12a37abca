package candidate

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
)

// Sample draws every parameter of r in declaration order: uniform for int
// and float, log-uniform for log_float and uniform over choices for
// categorical.
func Sample(rng *rand.Rand, r Range) map[string]interface{} {
	params := make(map[string]interface{}, len(r.Params))
	for _, p := range r.Params {
		switch p.Kind {
		case KindInt:
			lo, hi := int(p.Low), int(p.High)
			params[p.Name] = lo + rng.Intn(hi-lo+1)
		case KindFloat:
			params[p.Name] = p.Low + rng.Float64()*(p.High-p.Low)
		case KindLogFloat:
			lo, hi := math.Log(p.Low), math.Log(p.High)
			params[p.Name] = math.Exp(lo + rng.Float64()*(hi-lo))
		case KindCategorical:
			params[p.Name] = p.Choices[rng.Intn(len(p.Choices))]
		}
	}
	return params
}

// Int reads an integer parameter.
func Int(params map[string]interface{}, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("parameter %s: %v is not an integer", name, v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", name, err)
		}
		return int(n), nil
	case nil:
		return 0, fmt.Errorf("parameter %s is missing", name)
	default:
		return 0, fmt.Errorf("parameter %s: unexpected type %T", name, v)
	}
}

// Float reads a float parameter.
func Float(params map[string]interface{}, name string) (float64, error) {
	switch v := params[name].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("parameter %s: %w", name, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("parameter %s is missing", name)
	default:
		return 0, fmt.Errorf("parameter %s: unexpected type %T", name, v)
	}
}
