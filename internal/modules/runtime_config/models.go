// Package runtime_config is the hot-reloadable configuration overlay. A
// single persisted document (global overrides plus named strategies) is
// merged onto the base configuration at the top of every cycle. Overrides
// are patched through a closed registry of permitted field paths; anything
// outside the registry fails validation and pauses trading rather than
// applying a partial config.
package runtime_config

import "fmt"

// DefaultStrategyName is the strategy every fresh document starts with.
const DefaultStrategyName = "Default"

// schemaVersion is the only document version this build understands.
const schemaVersion = 1

// Strategy is a named override set. The active strategy's overrides win over
// the global ones.
type Strategy struct {
	Name      string                 `json:"name"`
	Overrides map[string]interface{} `json:"overrides"`
}

// Document is the persisted runtime configuration overlay. Overrides are
// nested maps keyed the same way as the base YAML; only registry paths are
// legal (see registry.go).
type Document struct {
	SchemaVersion  int                    `json:"schema_version"`
	Overrides      map[string]interface{} `json:"overrides"`
	Strategies     []Strategy             `json:"strategies"`
	ActiveStrategy string                 `json:"active_strategy"`
}

// DefaultDocument returns the document a fresh install starts with: no
// overrides, one empty Default strategy.
func DefaultDocument() *Document {
	return &Document{
		SchemaVersion:  schemaVersion,
		Overrides:      map[string]interface{}{},
		Strategies:     []Strategy{{Name: DefaultStrategyName, Overrides: map[string]interface{}{}}},
		ActiveStrategy: DefaultStrategyName,
	}
}

// deprecated ai override keys removed during normalisation. The prompt
// override survives under its new name; the rest are dropped.
var deprecatedAIKeys = []string{
	"trade_decision_enabled",
	"sentiment_threshold",
	"sentiment_analysis_enabled",
	"trade_decision_system_prompt",
	"trade_decision_prompt_addendum",
	"buy_selection_prompt_addendum",
	"position_review_prompt_addendum",
	"order_review_prompt_addendum",
}

// Normalise returns a deep copy of doc with structurally-required fields
// filled in and deprecated override keys migrated. A nil doc becomes the
// default document.
func Normalise(doc *Document) *Document {
	if doc == nil {
		return DefaultDocument()
	}

	out := &Document{
		SchemaVersion:  doc.SchemaVersion,
		Overrides:      deepCopyMap(doc.Overrides),
		ActiveStrategy: doc.ActiveStrategy,
	}
	for _, s := range doc.Strategies {
		out.Strategies = append(out.Strategies, Strategy{
			Name:      s.Name,
			Overrides: deepCopyMap(s.Overrides),
		})
	}

	if out.SchemaVersion == 0 {
		out.SchemaVersion = schemaVersion
	}
	if out.Overrides == nil {
		out.Overrides = map[string]interface{}{}
	}
	if len(out.Strategies) == 0 {
		out.Strategies = []Strategy{{Name: DefaultStrategyName, Overrides: map[string]interface{}{}}}
	}
	if out.ActiveStrategy == "" {
		out.ActiveStrategy = DefaultStrategyName
	}

	migrateOverrides(out.Overrides)
	for i := range out.Strategies {
		migrateOverrides(out.Strategies[i].Overrides)
	}
	return out
}

// migrateOverrides rewrites deprecated keys in one override holder so an old
// document keeps validating after an upgrade.
func migrateOverrides(overrides map[string]interface{}) {
	if overrides == nil {
		return
	}

	if ai, ok := overrides["ai"].(map[string]interface{}); ok {
		if v, has := ai["trade_decision_system_prompt"]; has {
			if _, exists := ai["shortlist_system_prompt"]; !exists {
				ai["shortlist_system_prompt"] = v
			}
		}
		for _, k := range deprecatedAIKeys {
			delete(ai, k)
		}
	}

	if pm, ok := overrides["position_management"].(map[string]interface{}); ok {
		delete(pm, "enabled")
	}
}

func deepCopyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}

// mapLeafPaths are override keys whose value is an object taken as a whole
// rather than a subtree of further override keys.
var mapLeafPaths = map[string]bool{
	"trading.min_cash_reserve_by_currency": true,
}

// flattenOverrides walks a nested override map into (dotted path, value)
// pairs. Map leaves listed in mapLeafPaths stop the descent.
func flattenOverrides(overrides map[string]interface{}, prefix string) []pathValue {
	var out []pathValue
	for k, v := range overrides {
		path := k
		if prefix != "" {
			path = fmt.Sprintf("%s.%s", prefix, k)
		}
		if m, ok := v.(map[string]interface{}); ok && !mapLeafPaths[path] {
			out = append(out, flattenOverrides(m, path)...)
			continue
		}
		out = append(out, pathValue{path: path, value: v})
	}
	return out
}

type pathValue struct {
	path  string
	value interface{}
}
