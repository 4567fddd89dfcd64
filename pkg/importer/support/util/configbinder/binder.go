// Package configbinder binds loosely-typed string property maps onto typed option structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties takes a map of string properties (e.g., CLI flags or job parameters)
// and binds them to a target struct. The target struct should use `mapstructure`
// tags (which are compatible with `yaml` tags).
func BindProperties(props map[string]string, target interface{}) error {
	if len(props) == 0 {
		return nil
	}

	// mapstructure requires map[string]interface{} for binding.
	intermediateMap := make(map[string]interface{}, len(props))
	for k, v := range props {
		intermediateMap[k] = v
	}

	config := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   target,
		// WeaklyTypedInput allows converting strings to numbers, bools, etc.
		WeaklyTypedInput: true,
		TagName:          "yaml",
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(intermediateMap); err != nil {
		targetType := reflect.TypeOf(target)
		if targetType.Kind() == reflect.Ptr {
			targetType = targetType.Elem()
		}
		return fmt.Errorf("failed to bind properties to struct %s: %w", targetType.Name(), err)
	}

	return nil
}
