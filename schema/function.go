package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Function is the serializable description of a callable function.
type Function struct {
	Name        string
	Description string
	// FallbackDescription is used when Description is empty, typically the
	// input type's FunctionDescription.
	FallbackDescription string
	Parameters          []Parameter
}

// Dialect holds the schema conventions of a provider.
type Dialect struct {
	// Strict providers accept strict function schemas, which close every
	// object with additionalProperties false.
	Strict bool
}

// FunctionSchema is a serialized function ready for a provider request.
type FunctionSchema struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	// Strict is set when every parameter is required.
	Strict bool
}

// SerializeFunction converts fn into a schema for the given dialect.
// Function and parameter names are normalized to snake_case.
func SerializeFunction(fn Function, d Dialect) *FunctionSchema {
	strict := allRequired(fn.Parameters)
	closeObjects := d.Strict && strict

	params := &jsonschema.Schema{Type: "object"}
	params.Properties, params.Required = objectProperties(fn.Parameters, closeObjects)
	if closeObjects {
		params.AdditionalProperties = jsonschema.FalseSchema
	}

	desc := fn.Description
	if desc == "" {
		desc = fn.FallbackDescription
	}

	return &FunctionSchema{
		Name:        Normalize(fn.Name),
		Description: desc,
		Parameters:  params,
		Strict:      strict,
	}
}

// ParametersJSON returns the encoded parameter schema.
func (s *FunctionSchema) ParametersJSON() (json.RawMessage, error) {
	return json.Marshal(s.Parameters)
}
