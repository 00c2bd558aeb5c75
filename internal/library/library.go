// Package library loads the custom indicator library: a YAML file of
// user-authored definitions that seeds the definition store at startup.
//
//	version: 1
//	indicators:
//	  - name: Spike Detector
//	    kind: pane
//	    script: |
//	      return [point(d.time, d.raw_bio - d.raw_enrol) for d in data]
//	  - name: Weekly EMA
//	    preset: EMA
package library

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"aadhaar-velocity/internal/indicator"
	"aadhaar-velocity/internal/model"
)

// Library is the parsed file.
type Library struct {
	Version    int                         `yaml:"version" default:"1"`
	Indicators []model.IndicatorDefinition `yaml:"indicators"`
}

// Compiler checks a script without running it.
type Compiler interface {
	Compile(name, src string) error
}

// Store is the part of the definition store seeding needs.
type Store interface {
	ListDefinitions(ctx context.Context) ([]model.IndicatorDefinition, error)
	SaveDefinition(ctx context.Context, def model.IndicatorDefinition) error
}

// Load reads and validates a library file.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	return Parse(data)
}

// Parse decodes a library document. A definition without an explicit kind
// takes its preset's kind or its script's @type header.
func Parse(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("library: decode: %w", err)
	}
	// Kinds resolve before defaults, which would otherwise fill "overlay".
	for i := range lib.Indicators {
		def := &lib.Indicators[i]
		if def.Kind == "" {
			def.Kind = indicator.KindOf(*def)
		}
		if _, ok := indicator.Lookup(def.Name); ok {
			return nil, fmt.Errorf("library: %w: %q is a preset name", model.ErrInvalid, def.Name)
		}
	}
	if err := defaults.Set(&lib); err != nil {
		return nil, fmt.Errorf("library: defaults: %w", err)
	}
	if lib.Version != 1 {
		return nil, fmt.Errorf("library: unsupported version %d", lib.Version)
	}
	if err := indicator.ValidateDefinitions(lib.Indicators); err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	return &lib, nil
}

// Compile checks every script in the library, joining all failures.
func (l *Library) Compile(c Compiler) error {
	var errs []error
	for _, def := range l.Indicators {
		if def.Script == "" {
			continue
		}
		if err := c.Compile(def.Name, def.Script); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Seed saves every library definition whose name is not already stored.
// It returns the number of definitions added.
func (l *Library) Seed(ctx context.Context, store Store, log zerolog.Logger) (int, error) {
	existing, err := store.ListDefinitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("library seed: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, def := range existing {
		have[def.Name] = true
	}

	added := 0
	for _, def := range l.Indicators {
		if have[def.Name] {
			log.Debug().Str("definition", def.Name).Msg("already stored, skipping")
			continue
		}
		if err := store.SaveDefinition(ctx, def); err != nil {
			return added, fmt.Errorf("library seed %q: %w", def.Name, err)
		}
		added++
	}
	log.Info().Int("added", added).Int("total", len(l.Indicators)).Msg("library seeded")
	return added, nil
}
