package workflow

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed workflow.schema.json
var schemaJSON []byte

const schemaURL = "workflow.schema.json"

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Schema returns the embedded JSON schema document
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// validateSchema checks a YAML-decoded document against the embedded schema.
// The value goes through JSON so numbers arrive as json.Number.
func validateSchema(doc interface{}) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("workflow: compile schema: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("workflow: schema: document is not JSON-compatible: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("workflow: schema: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("workflow: schema: %w", err)
	}
	return nil
}
