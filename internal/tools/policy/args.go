package policy

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Args is a decoded tool argument object. Numbers are kept as json.Number.
type Args map[string]any

// DecodeArgs decodes a raw argument object. An absent or null body yields
// an empty map; anything other than a JSON object is a bad request.
func DecodeArgs(raw json.RawMessage) (Args, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Args{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var args Args
	if err := dec.Decode(&args); err != nil {
		return nil, BadRequest("invalid_args", "args must be an object")
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// String returns the string value of key and whether it was a string.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

// Command returns args.cmd as a list of strings.
func (a Args) Command() ([]string, error) {
	list, ok := a["cmd"].([]any)
	if !ok || len(list) == 0 {
		return nil, BadRequest("invalid_cmd", "invalid cmd")
	}
	cmd := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, BadRequest("invalid_cmd", "invalid cmd")
		}
		cmd = append(cmd, s)
	}
	return cmd, nil
}

// Int reads key as an integer, falling back to def when absent or unparsable.
func (a Args) Int(key string, def int) int {
	v, ok := a[key]
	if !ok {
		return def
	}
	n, ok := toInt(v)
	if !ok {
		return def
	}
	return n
}

// ClampTimeout coerces v into [MinTimeoutS, MaxTimeoutS], using def when v
// cannot be read as an integer.
func ClampTimeout(v any, def int) int {
	n, ok := toInt(v)
	if !ok {
		n = def
	}
	return Clamp(n, MinTimeoutS, MaxTimeoutS)
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return x, true
	case int64:
		return clampInt64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return clampFloat(x), true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return clampInt64(i), true
		}
		if f, err := x.Float64(); err == nil {
			return clampFloat(f), true
		}
		return 0, false
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return clampInt64(i), true
	default:
		return 0, false
	}
}

func clampInt64(i int64) int {
	if i > math.MaxInt32 {
		return math.MaxInt32
	}
	if i < math.MinInt32 {
		return math.MinInt32
	}
	return int(i)
}

func clampFloat(f float64) int {
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return int(f)
}
