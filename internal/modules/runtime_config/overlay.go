package runtime_config

import (
	"fmt"
	"strings"

	"github.com/aristath/helmsman/internal/config"
)

// Validate rejects any document whose overrides touch a path outside the
// registry or carry an out-of-range value. The error always names the
// offending path; nothing is ever partially accepted.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("runtime config must be an object")
	}
	if doc.SchemaVersion != schemaVersion {
		return fmt.Errorf("Unsupported runtime config schema_version: %d", doc.SchemaVersion)
	}
	if len(doc.Strategies) == 0 {
		return fmt.Errorf("runtime.strategies must be a non-empty array")
	}

	seen := make(map[string]bool, len(doc.Strategies))
	for _, s := range doc.Strategies {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("Strategy name must be a non-empty string")
		}
		if seen[name] {
			return fmt.Errorf("Duplicate strategy name: %s", name)
		}
		seen[name] = true
		if err := validateOverrideMap(s.Overrides); err != nil {
			return err
		}
	}

	if active := strings.TrimSpace(doc.ActiveStrategy); active != "" && !seen[active] {
		return fmt.Errorf("active_strategy not found in strategies: %s", active)
	}

	return validateOverrideMap(doc.Overrides)
}

func validateOverrideMap(overrides map[string]interface{}) error {
	if overrides == nil {
		return nil
	}
	for _, pv := range flattenOverrides(overrides, "") {
		spec, ok := overrideFields[pv.path]
		if !ok {
			return fmt.Errorf("Unsupported override key: %s", pv.path)
		}
		if err := spec.validate(pv.value); err != nil {
			return err
		}
	}
	return nil
}

// Apply computes the effective configuration: base, patched by the global
// overrides, patched by the active strategy's overrides. The input document
// is normalised and validated first; the base itself is never mutated.
func Apply(base config.Base, doc *Document) (config.Base, error) {
	norm := Normalise(doc)
	if err := Validate(norm); err != nil {
		return config.Base{}, err
	}

	cfg := base.Clone()
	applyOverrideMap(&cfg, norm.Overrides)

	if active := norm.ActiveStrategy; active != "" {
		for _, s := range norm.Strategies {
			if s.Name == active {
				applyOverrideMap(&cfg, s.Overrides)
				break
			}
		}
	}
	return cfg, nil
}

func applyOverrideMap(cfg *config.Base, overrides map[string]interface{}) {
	for _, pv := range flattenOverrides(overrides, "") {
		spec, ok := overrideFields[pv.path]
		if !ok || spec.apply == nil {
			continue
		}
		spec.apply(cfg, pv.value)
	}
}
