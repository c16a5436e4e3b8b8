// Package schema describes function parameters and serializes them into
// JSON Schema for LLM function calling.
//
// Parameters are either declared explicitly or reflected from Go types once,
// at registration time:
//
//	type Weather struct {
//	    City string `json:"city" jsonschema:"description=City name"`
//	    Unit string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
//	}
//
//	params, err := schema.Of[Weather]()
//	fs := schema.SerializeFunction(schema.Function{Name: "getWeather", Parameters: params}, schema.Dialect{})
//
// Function and parameter names are emitted in snake_case.
package schema

import "reflect"

// Of reflects the parameters of T. See ParametersOf.
func Of[T any]() ([]Parameter, error) {
	return ParametersOf(reflect.TypeFor[T]())
}

// MustOf is like Of but panics on error.
// Useful for package-level function definitions.
func MustOf[T any]() []Parameter {
	params, err := Of[T]()
	if err != nil {
		panic(err)
	}
	return params
}
