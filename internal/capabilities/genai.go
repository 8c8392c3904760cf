package capabilities

import (
	"strings"

	"google.golang.org/genai"
)

// WireNamer maps capability names to wire-safe tool names.
type WireNamer interface {
	Wire(capability string) string
}

// ToGenaiTools converts declarations into a single function-declaration tool.
// Names are translated with namer when it is non-nil.
func ToGenaiTools(decls []Declaration, namer WireNamer) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}

	functions := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		name := decl.Name
		if namer != nil {
			name = namer.Wire(decl.Name)
		}
		functions = append(functions, &genai.FunctionDeclaration{
			Name:        name,
			Description: decl.Description,
			Parameters:  ToGenaiSchema(decl.Schema()),
		})
	}

	return []*genai.Tool{{FunctionDeclarations: functions}}
}

// ToGenaiSchema converts a JSON Schema map to a genai.Schema.
func ToGenaiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGenaiSchema(propMap)
			}
		}
	}

	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = ToGenaiSchema(items)
	}

	return schema
}
