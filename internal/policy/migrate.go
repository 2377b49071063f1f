package policy

import (
	"fmt"

	"vpo/internal/services"
)

// migration lifts a raw policy document one schema version forward. Each
// step is pure: it receives and returns the generic YAML tree.
type migration func(doc map[string]any) (map[string]any, error)

// migrations is keyed by the version a step migrates FROM.
var migrations = map[int]migration{
	10: migrateV10ToV11,
	11: migrateV11ToV12,
}

// Migrate lifts a raw document to the current schema version. Documents
// already current pass through unchanged; unsupported versions are
// rejected.
func Migrate(doc map[string]any) (map[string]any, error) {
	version, err := documentVersion(doc)
	if err != nil {
		return nil, err
	}
	if version > CurrentSchemaVersion {
		return nil, services.Wrap(services.ErrValidation, "policy", "migrate",
			fmt.Sprintf("schema_version %d is newer than supported version %d", version, CurrentSchemaVersion), nil)
	}
	if version < OldestSupportedVersion {
		return nil, services.Wrap(services.ErrValidation, "policy", "migrate",
			fmt.Sprintf("schema_version %d is older than oldest supported version %d", version, OldestSupportedVersion), nil)
	}
	for version < CurrentSchemaVersion {
		step, ok := migrations[version]
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "policy", "migrate",
				fmt.Sprintf("no migration from schema_version %d", version), nil)
		}
		doc, err = step(doc)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "policy", "migrate",
				fmt.Sprintf("migrating from schema_version %d", version), err)
		}
		version++
		doc["schema_version"] = version
	}
	return doc, nil
}

func documentVersion(doc map[string]any) (int, error) {
	raw, ok := doc["schema_version"]
	if !ok {
		return 0, services.Wrap(services.ErrValidation, "policy", "migrate", "missing schema_version", nil)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, services.Wrap(services.ErrValidation, "policy", "migrate",
			fmt.Sprintf("schema_version must be an integer, got %T", raw), nil)
	}
}

// v10 named conditional blocks "rules" inside each phase.
func migrateV10ToV11(doc map[string]any) (map[string]any, error) {
	phases, ok := doc["phases"].([]any)
	if !ok {
		return doc, nil
	}
	for _, raw := range phases {
		phase, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if rules, ok := phase["rules"]; ok {
			if _, clash := phase["conditional"]; clash {
				return nil, fmt.Errorf("phase has both rules and conditional blocks")
			}
			phase["conditional"] = rules
			delete(phase, "rules")
		}
	}
	return doc, nil
}

// v11 kept on_error at the document root instead of under config.
func migrateV11ToV12(doc map[string]any) (map[string]any, error) {
	raw, ok := doc["on_error"]
	if !ok {
		return doc, nil
	}
	config, ok := doc["config"].(map[string]any)
	if !ok {
		config = map[string]any{}
		doc["config"] = config
	}
	if _, clash := config["on_error"]; !clash {
		config["on_error"] = raw
	}
	delete(doc, "on_error")
	return doc, nil
}
