package dispatch

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jobctl/jobctl/runtime/errs"
)

// SchemaRegistry validates job payloads against a per-job-type JSON Schema
// at dispatch entry (spec §9 Design Notes: "tagged-union ... validation runs
// at dispatch entry"). Grounded on the teacher's
// validatePayloadJSONAgainstSchema in registry/service.go.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry builds an empty registry. A job type with no registered
// schema validates successfully against anything (spec doesn't require
// every type to declare a schema).
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to jobType.
func (r *SchemaRegistry) Register(jobType string, schemaJSON []byte) error {
	var doc any
	if err := json.Unmarshal(schemaJSON, &doc); err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Errorf("unmarshal schema for %q: %w", jobType, err))
	}
	c := jsonschema.NewCompiler()
	resourceName := jobType + ".json"
	if err := c.AddResource(resourceName, doc); err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Errorf("add schema resource for %q: %w", jobType, err))
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Errorf("compile schema for %q: %w", jobType, err))
	}
	r.mu.Lock()
	r.schemas[jobType] = schema
	r.mu.Unlock()
	return nil
}

// Validate checks payload against jobType's registered schema, if any.
func (r *SchemaRegistry) Validate(jobType string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[jobType]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Errorf("unmarshal payload for %q: %w", jobType, err))
	}
	if err := schema.Validate(doc); err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Errorf("payload for %q failed schema validation: %w", jobType, err))
	}
	return nil
}
