package tool

import (
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/okabe-dev/porter/internal/provider"
)

// DefFromStruct reflects a parameter struct into a tool definition.
// Field tags follow the usual jsonschema conventions
// (`json:"city" jsonschema:"description=City name,required"`).
func DefFromStruct(name, description string, params any) provider.ToolDef {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(params)

	def := provider.ToolDef{
		Name:        name,
		Description: description,
		Properties:  make(map[string]provider.Property),
		Required:    schema.Required,
	}
	if schema.Properties == nil {
		return def
	}
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		def.Properties[pair.Key] = fromJSONSchema(pair.Value)
	}
	return def
}

func fromJSONSchema(s *jsonschema.Schema) provider.Property {
	prop := provider.Property{
		Type:        s.Type,
		Description: s.Description,
	}
	if prop.Type == "" {
		prop.Type = "string"
	}
	for _, v := range s.Enum {
		prop.Enum = append(prop.Enum, fmt.Sprintf("%v", v))
	}
	if s.Items != nil {
		items := fromJSONSchema(s.Items)
		prop.Items = &items
	}
	return prop
}
