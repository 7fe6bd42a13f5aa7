// ABOUTME: Typed capability construction with reflected JSON schema and validated input
// ABOUTME: Uses invopop/jsonschema for schemas and go-playground/validator for input checks

package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

var validate = validator.New()

var reflector = &jsonschema.Reflector{
	ExpandedStruct: true,
	DoNotReference: true,
}

// Define builds a capability whose input schema is reflected from T. The
// raw input is decoded into T and validated (`validate` struct tags) before
// fn runs. Use `jsonschema:"description=..."` tags to document fields.
func Define[T any](name, description string, fn func(ctx context.Context, callerID string, in T) (string, error)) *Capability {
	return &Capability{
		Name:        name,
		Description: description,
		InputSchema: SchemaFor[T](),
		Handler: func(ctx context.Context, callerID string, input json.RawMessage) (string, error) {
			var in T
			if len(bytes.TrimSpace(input)) > 0 {
				if err := json.Unmarshal(input, &in); err != nil {
					return "", fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
				}
			}
			if err := validate.Struct(in); err != nil {
				return "", fmt.Errorf("%w: %s: %v", ErrInvalidInput, name, err)
			}
			return fn(ctx, callerID, in)
		},
	}
}

// SchemaFor reflects the JSON schema of T as compact JSON.
func SchemaFor[T any]() json.RawMessage {
	var zero T
	schema := reflector.Reflect(&zero)
	schema.Version = ""
	schema.ID = ""

	data, err := json.Marshal(schema)
	if err != nil {
		// Reflected schemas are plain structs and always marshal.
		panic(fmt.Sprintf("capability: marshal schema for %T: %v", zero, err))
	}
	return data
}
