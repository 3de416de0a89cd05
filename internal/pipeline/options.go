package pipeline

import (
	"fmt"
	"maps"

	"gopkg.in/yaml.v3"
)

// Merge deep-merges override over base and returns a new map. Nested maps
// merge key by key; any other value replaces the base value.
func Merge(base Options, override map[string]any) Options {
	out := make(Options, len(base)+len(override))
	for k, v := range base {
		if m, ok := asMap(v); ok {
			out[k] = map[string]any(Merge(m, nil))
			continue
		}
		out[k] = v
	}
	for k, v := range override {
		om, isMap := asMap(v)
		bm, baseIsMap := asMap(out[k])
		if isMap && baseIsMap {
			out[k] = map[string]any(Merge(bm, om))
			continue
		}
		if isMap {
			out[k] = map[string]any(Merge(om, nil))
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Options:
		return map[string]any(m), true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// disabled reports whether an override value switches a stage off.
func disabled(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}

// Sub returns the nested options stored under key. The second result is
// false when the value is literally false.
func (o Options) Sub(key string) (Options, bool) {
	v, ok := o[key]
	if !ok {
		return Options{}, true
	}
	if disabled(v) {
		return nil, false
	}
	if m, ok := asMap(v); ok {
		return Options(maps.Clone(m)), true
	}
	return Options{}, true
}

// DecodeOptions decodes merged options into a typed struct using its yaml tags.
func DecodeOptions(opts Options, out any) error {
	raw, err := yaml.Marshal(map[string]any(opts))
	if err != nil {
		return fmt.Errorf("pipeline: encode options: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("pipeline: decode options: %w", err)
	}
	return nil
}
