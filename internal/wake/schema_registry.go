package wake

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// PluginSchemaRegistry compiles and caches one JSON schema per registered
// plugin-event type, compiled once and reused across wake decisions.
type PluginSchemaRegistry struct {
	once    sync.Once
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	raw     map[string]string
}

// NewPluginSchemaRegistry constructs an empty registry. Schemas are compiled
// lazily on first Validate call per event type.
func NewPluginSchemaRegistry() *PluginSchemaRegistry {
	return &PluginSchemaRegistry{
		schemas: make(map[string]*jsonschema.Schema),
		raw:     make(map[string]string),
	}
}

// Register associates an event type with its JSON schema text. Safe to call
// before any Validate call; re-registering an event type invalidates its
// compiled schema cache entry.
func (r *PluginSchemaRegistry) Register(eventType, schemaText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw[eventType] = schemaText
	delete(r.schemas, eventType)
}

func (r *PluginSchemaRegistry) compiled(eventType string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	if s, ok := r.schemas[eventType]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	text, ok := r.raw[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("wake: no schema registered for plugin event %q", eventType)
	}

	compiled, err := jsonschema.CompileString(eventType, text)
	if err != nil {
		return nil, fmt.Errorf("wake: compile schema for %q: %w", eventType, err)
	}
	r.mu.Lock()
	r.schemas[eventType] = compiled
	r.mu.Unlock()
	return compiled, nil
}

// Validate checks payload (already JSON-decoded into any) against the
// registered schema for eventType.
func (r *PluginSchemaRegistry) Validate(eventType string, payload map[string]any) error {
	schema, err := r.compiled(eventType)
	if err != nil {
		return err
	}
	// jsonschema validates decoded JSON values (map[string]interface{}), so a
	// round trip through encoding/json normalizes numeric/string types the
	// same way a wire payload would have been decoded.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wake: marshal payload for %q: %w", eventType, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("wake: decode payload for %q: %w", eventType, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("wake: payload for %q failed schema: %w", eventType, err)
	}
	return nil
}
