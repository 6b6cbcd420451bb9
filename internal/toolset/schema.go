package toolset

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache holds compiled schemas keyed by their raw text, so repeated
// validation of the same tool's input compiles once.
var schemaCache sync.Map

func compileSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// VerifySchemas compiles every tool's input schema and fails on the first
// malformed one. Run at startup so a broken schema is caught before it is
// handed to a provider, not mid-turn.
func VerifySchemas(tools map[string]Tool) error {
	for name, tool := range tools {
		if _, err := compileSchema(tool.Schema()); err != nil {
			return fmt.Errorf("toolset: schema for %s does not compile: %w", name, err)
		}
	}
	return nil
}

// ValidateInput checks a tool call's input against the tool's declared
// schema. A compile failure is reported as an error; a validation failure
// names the offending constraint.
func ValidateInput(tool Tool, input json.RawMessage) error {
	schema, err := compileSchema(tool.Schema())
	if err != nil {
		return fmt.Errorf("toolset: schema for %s does not compile: %w", tool.Name(), err)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("toolset: input for %s is not valid JSON: %w", tool.Name(), err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("toolset: input for %s rejected by schema: %w", tool.Name(), err)
	}
	return nil
}
