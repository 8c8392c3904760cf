package capabilities

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema returns the declaration's arguments as a JSON Schema object.
func (d Declaration) Schema() map[string]any {
	properties := make(map[string]any, len(d.Args))
	for name, spec := range d.Args {
		prop := map[string]any{"type": spec.Type}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		if len(spec.Enum) > 0 {
			enum := make([]any, len(spec.Enum))
			for i, v := range spec.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if spec.Type == TypeArray {
			items := spec.Items
			if items == "" {
				items = TypeString
			}
			prop["items"] = map[string]any{"type": items}
		}
		properties[name] = prop
	}

	schema := map[string]any{
		"type":       TypeObject,
		"properties": properties,
	}
	if required := d.RequiredArgs(); len(required) > 0 {
		list := make([]any, len(required))
		for i, r := range required {
			list[i] = r
		}
		schema["required"] = list
	}
	return schema
}

// SchemaValidator validates arguments with compiled JSON Schemas. Compiled
// schemas are cached by their JSON text.
type SchemaValidator struct {
	cache sync.Map
}

// NewSchemaValidator creates a validator with an empty cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate checks args against decl. Failures wrap ErrInvalidArguments.
func (v *SchemaValidator) Validate(args map[string]any, decl Declaration) error {
	schema, err := v.compile(decl)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", decl.Name, err)
	}

	if args == nil {
		args = map[string]any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrInvalidArguments, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidArguments, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func (v *SchemaValidator) compile(decl Declaration) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(decl.Schema())
	if err != nil {
		return nil, err
	}
	key := string(raw)
	if cached, ok := v.cache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString(schemaURL(decl.Name), key)
	if err != nil {
		return nil, err
	}
	v.cache.Store(key, compiled)
	return compiled, nil
}

func schemaURL(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
	if safe == "" {
		safe = "capability"
	}
	return safe + ".schema.json"
}

// ArgsFromStruct reflects a Go struct into argument specs. Fields without
// omitempty are required; descriptions and enums come from jsonschema tags.
func ArgsFromStruct(v any) (map[string]ArgSpec, error) {
	reflector := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("reflect arguments: %w", err)
	}

	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
			Enum        []any  `json:"enum"`
			Items       *struct {
				Type string `json:"type"`
			} `json:"items"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decode reflected schema: %w", err)
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	args := make(map[string]ArgSpec, len(schema.Properties))
	for name, prop := range schema.Properties {
		spec := ArgSpec{
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
		}
		if spec.Type == "" {
			spec.Type = TypeString
		}
		if prop.Items != nil {
			spec.Items = prop.Items.Type
		}
		for _, e := range prop.Enum {
			if s, ok := e.(string); ok {
				spec.Enum = append(spec.Enum, s)
			}
		}
		args[name] = spec
	}
	return args, nil
}
