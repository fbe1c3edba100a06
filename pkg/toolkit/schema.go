package toolkit

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/John-Wang-0809/ufoo-sub001/pkg/provider"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

type spec struct {
	description string
	params      []Param
}

var specs = map[Kind]spec{
	KindRead: {
		description: "Read a text file from the workspace. Returns the selected 1-indexed inclusive line range.",
		params: []Param{
			{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
			{Name: "startLine", Type: "integer", Description: "First line to return (1-indexed)"},
			{Name: "endLine", Type: "integer", Description: "Last line to return (inclusive)"},
			{Name: "maxBytes", Type: "integer", Description: "Maximum bytes of content to return", Default: DefaultMaxReadBytes},
		},
	},
	KindWrite: {
		description: "Write a file in the workspace, creating parent directories.",
		params: []Param{
			{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
			{Name: "content", Type: "string", Description: "Content to write", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwriting", Default: false},
		},
	},
	KindEdit: {
		description: "Replace text in a workspace file. Replaces the first occurrence, or all occurrences when all is true.",
		params: []Param{
			{Name: "path", Type: "string", Description: "File path relative to the workspace root", Required: true},
			{Name: "find", Type: "string", Description: "Exact text to find", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "all", Type: "boolean", Description: "Replace every occurrence", Default: false},
		},
	},
	KindBash: {
		description: "Run a shell command in the workspace root and capture stdout, stderr and exit code.",
		params: []Param{
			{Name: "command", Type: "string", Description: "Command passed to bash -c", Required: true},
			{Name: "timeoutMs", Type: "integer", Description: "Hard timeout in milliseconds", Default: DefaultBashTimeoutMs},
		},
	},
}

var (
	schemaOnce sync.Once
	schemas    map[Kind]*gojsonschema.Schema
	schemaErr  error
)

func parametersSchema(params []Param) map[string]interface{} {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range params {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return schemaMap
}

func compiledSchema(kind Kind) (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemas = make(map[Kind]*gojsonschema.Schema, len(specs))
		for k, s := range specs {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(parametersSchema(s.params)))
			if err != nil {
				schemaErr = fmt.Errorf("schema for %s: %w", k, err)
				return
			}
			schemas[k] = schema
		}
	})
	if schemaErr != nil {
		return nil, schemaErr
	}
	return schemas[kind], nil
}

// validateArguments validates raw JSON arguments against the tool schema.
func validateArguments(kind Kind, argsJSON string) error {
	schema, err := compiledSchema(kind)
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(argsJSON))
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(errors, "; "))
	}

	return nil
}

// Definitions returns the tool declarations sent to the provider.
func Definitions() []provider.ToolDefinition {
	defs := make([]provider.ToolDefinition, 0, len(Kinds))
	for _, k := range Kinds {
		s := specs[k]
		defs = append(defs, provider.ToolDefinition{
			Name:        string(k),
			Description: s.description,
			Parameters:  parametersSchema(s.params),
		})
	}
	return defs
}
