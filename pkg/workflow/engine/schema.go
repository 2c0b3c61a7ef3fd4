package engine

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateAgainstSchema compiles schemaDoc as a JSON Schema and checks
// instance against it. Rule- and action-level schemas are arbitrary
// inline YAML literals rather than a small fixed set of named
// documents, so unlike the teacher's cached-singleton compiled schema
// there is no stable cache key to reuse across calls — every check
// compiles fresh, the way the teacher's own per-request schema checks
// in its campaign validators do.
func validateAgainstSchema(schemaDoc map[string]any, instance map[string]any) error {
	if len(schemaDoc) == 0 {
		return nil
	}
	const resourceURL = "gobby://workflow-engine/inline-schema"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, schemaDoc); err != nil {
		return fmt.Errorf("workflow: add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("workflow: compile schema: %w", err)
	}
	if instance == nil {
		instance = map[string]any{}
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("workflow: schema validation failed: %w", err)
	}
	return nil
}

// matchesSchema reports whether instance validates against schemaDoc,
// treating an empty schema as "always matches" (a rule with no schema
// constrains only on tool name and when, per spec.md §4.1 step 3c).
func matchesSchema(schemaDoc map[string]any, instance map[string]any) bool {
	if len(schemaDoc) == 0 {
		return true
	}
	return validateAgainstSchema(schemaDoc, instance) == nil
}
