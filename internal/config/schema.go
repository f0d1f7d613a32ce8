package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the value types a parameter can hold.
type Kind int

const (
	KindFloat Kind = iota
	KindInt
	KindBool
	KindString
	KindEnum
	KindDuration
	KindStringList
)

// Entry describes one registered parameter: its type, bounds, and default.
type Entry struct {
	Key     string
	Kind    Kind
	Default any
	Min     float64
	Max     float64
	HasMin  bool
	HasMax  bool
	Enum    []string
	Help    string
}

// CrossCheck validates relationships between keys after per-key validation.
type CrossCheck struct {
	Name  string
	Check func(values map[string]any) error
}

// Schema is the registry of known parameters.
type Schema struct {
	entries map[string]Entry
	crosses []CrossCheck
}

// NewSchema builds an empty schema registry.
func NewSchema() *Schema {
	return &Schema{entries: make(map[string]Entry)}
}

// Register adds an entry; repeated registration of a key overwrites it.
func (s *Schema) Register(e Entry) {
	s.entries[e.Key] = e
}

// RegisterCross adds a cross-field validator.
func (s *Schema) RegisterCross(c CrossCheck) {
	s.crosses = append(s.crosses, c)
}

// Defaults returns a fresh value map seeded with every default.
func (s *Schema) Defaults() map[string]any {
	out := make(map[string]any, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.Default
	}
	return out
}

// Keys returns every registered key.
func (s *Schema) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Normalize coerces a raw value (possibly a string from an operator command)
// into the entry's canonical type, validating bounds and enum membership.
func (s *Schema) Normalize(key string, raw any) (any, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", key)
	}
	switch e.Kind {
	case KindFloat:
		v, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if e.HasMin && v < e.Min {
			return nil, fmt.Errorf("%s: %.4g below minimum %.4g", key, v, e.Min)
		}
		if e.HasMax && v > e.Max {
			return nil, fmt.Errorf("%s: %.4g above maximum %.4g", key, v, e.Max)
		}
		return v, nil
	case KindInt:
		v, err := toInt(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if e.HasMin && float64(v) < e.Min {
			return nil, fmt.Errorf("%s: %d below minimum %.0f", key, v, e.Min)
		}
		if e.HasMax && float64(v) > e.Max {
			return nil, fmt.Errorf("%s: %d above maximum %.0f", key, v, e.Max)
		}
		return v, nil
	case KindBool:
		switch t := raw.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, fmt.Errorf("%s: not a boolean: %q", key, t)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%s: not a boolean: %v", key, raw)
	case KindString:
		if v, ok := raw.(string); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%s: not a string: %v", key, raw)
	case KindEnum:
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%s: not a string: %v", key, raw)
		}
		for _, allowed := range e.Enum {
			if v == allowed {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%s: %q not in {%s}", key, v, strings.Join(e.Enum, ", "))
	case KindDuration:
		switch t := raw.(type) {
		case time.Duration:
			return t, nil
		case string:
			d, err := time.ParseDuration(t)
			if err != nil {
				return nil, fmt.Errorf("%s: bad duration: %q", key, t)
			}
			return d, nil
		case int:
			return time.Duration(t) * time.Second, nil
		case float64:
			return time.Duration(t * float64(time.Second)), nil
		}
		return nil, fmt.Errorf("%s: not a duration: %v", key, raw)
	case KindStringList:
		switch t := raw.(type) {
		case []string:
			return append([]string(nil), t...), nil
		case []any:
			out := make([]string, 0, len(t))
			for _, item := range t {
				str, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s: list element not a string: %v", key, item)
				}
				out = append(out, str)
			}
			return out, nil
		case string:
			if t == "" {
				return []string{}, nil
			}
			parts := strings.Split(t, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts, nil
		}
		return nil, fmt.Errorf("%s: not a string list: %v", key, raw)
	}
	return nil, fmt.Errorf("%s: unsupported kind", key)
}

// ValidateAll runs cross-field checks over a candidate value set.
func (s *Schema) ValidateAll(values map[string]any) error {
	for _, c := range s.crosses {
		if err := c.Check(values); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

func toFloat(raw any) (float64, error) {
	switch t := raw.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return v, nil
	}
	return 0, fmt.Errorf("not a number: %v", raw)
}

func toInt(raw any) (int, error) {
	switch t := raw.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("not an integer: %v", t)
		}
		return int(t), nil
	case string:
		v, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return v, nil
	}
	return 0, fmt.Errorf("not an integer: %v", raw)
}
