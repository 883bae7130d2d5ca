package config

import (
	"fmt"
	"reflect"

	"github.com/goccy/go-yaml"
)

// RedactedValue is the placeholder string used for redacted secrets.
const RedactedValue = "[REDACTED]"

// RedactConfig returns a deep copy of cfg with all string fields tagged
// `redact:"true"` replaced by RedactedValue. The original cfg is not mutated.
// Served by the admin /config endpoint so tokens and webhook secrets never
// appear in inspection output.
func RedactConfig(cfg *Config) (*Config, error) {
	// Deep copy via YAML round-trip.
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("redact: marshal failed: %w", err)
	}
	var cp Config
	if err := yaml.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("redact: unmarshal failed: %w", err)
	}
	redactFields(reflect.ValueOf(&cp).Elem())
	return &cp, nil
}

// redactFields walks a struct value and sets every non-empty string field
// tagged `redact:"true"` to RedactedValue.
func redactFields(v reflect.Value) {
	walkStructStrings(v, func(field reflect.Value, tag reflect.StructTag) {
		if tag.Get("redact") == "true" && field.String() != "" {
			field.SetString(RedactedValue)
		}
	})
}

// walkStructStrings walks a reflect.Value recursively, calling fn for every
// settable string field it encounters.
func walkStructStrings(v reflect.Value, fn func(field reflect.Value, tag reflect.StructTag)) {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		walkStructStrings(v.Elem(), fn)

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := v.Field(i)
			sf := t.Field(i)
			if !f.CanSet() {
				continue
			}

			switch f.Kind() {
			case reflect.String:
				fn(f, sf.Tag)
			case reflect.Struct, reflect.Ptr:
				walkStructStrings(f, fn)
			case reflect.Slice:
				if f.Type().Elem().Kind() == reflect.Struct {
					for j := 0; j < f.Len(); j++ {
						walkStructStrings(f.Index(j), fn)
					}
				}
			}
		}
	}
}
