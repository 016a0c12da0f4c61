// Package cfg decodes free-form config maps (driver sections) into typed structs.
package cfg

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Setter is implemented by config structs that fill in their own defaults.
type Setter interface {
	ApplyDefaults()
}

// Decode decodes input into the target pointer c.
// If c implements Setter, ApplyDefaults is called after decoding.
func Decode(input map[string]any, c any) error {
	_, err := decode(input, c, nil)
	return err
}

// DecodeWithUnused decodes input into c and returns the sorted keys it did not use.
func DecodeWithUnused(input map[string]any, c any) ([]string, error) {
	var md mapstructure.Metadata
	return decode(input, c, &md)
}

// DecodeStrict decodes input into c and fails if any key is unused.
func DecodeStrict(input map[string]any, c any) error {
	unused, err := DecodeWithUnused(input, c)
	if err != nil {
		return err
	}
	if len(unused) > 0 {
		return fmt.Errorf("unused config keys: %v", unused)
	}
	return nil
}

func decode(input map[string]any, c any, md *mapstructure.Metadata) ([]string, error) {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         md,
		Result:           c,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(input); err != nil {
		return nil, err
	}

	if s, ok := c.(Setter); ok {
		s.ApplyDefaults()
	}

	if md == nil {
		return nil, nil
	}
	unused := md.Unused
	sort.Strings(unused)
	return unused, nil
}
