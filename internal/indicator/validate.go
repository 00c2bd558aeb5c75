package indicator

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"aadhaar-velocity/internal/model"
)

var validate = validator.New()

// ValidateDefinition checks a single definition's fields and preset reference.
func ValidateDefinition(def model.IndicatorDefinition) error {
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("definition %q: %w", def.Name, err)
	}
	if def.Preset != "" {
		if _, ok := Lookup(def.Preset); !ok {
			return fmt.Errorf("definition %q: %w: %q", def.Name, ErrUnknownPreset, def.Preset)
		}
	}
	return nil
}

// ValidateDefinitions validates every definition and rejects duplicate names.
func ValidateDefinitions(defs []model.IndicatorDefinition) error {
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if err := ValidateDefinition(def); err != nil {
			return err
		}
		if seen[def.Name] {
			return fmt.Errorf("duplicate definition name %q", def.Name)
		}
		seen[def.Name] = true
	}
	return nil
}
