package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
)

var (
	contextType   = reflect.TypeFor[context.Context]()
	timeType      = reflect.TypeFor[time.Time]()
	describerType = reflect.TypeFor[Describer]()
)

// Reflector generates JSON Schema from Go types. Named types are emitted as
// $defs references so recursive types stay finite.
var Reflector = &jsonschema.Reflector{
	Anonymous: true,
	Mapper:    narrowNumbers,
}

// numberFormats tag the Go number kinds JSON Schema does not distinguish.
var numberFormats = map[reflect.Kind]string{
	reflect.Int8:    "int8",
	reflect.Int16:   "int16",
	reflect.Int32:   "int32",
	reflect.Int64:   "int64",
	reflect.Uint:    "uint",
	reflect.Uintptr: "uint",
	reflect.Uint8:   "uint8",
	reflect.Uint16:  "uint16",
	reflect.Uint32:  "uint32",
	reflect.Uint64:  "uint64",
	reflect.Float32: "float",
}

func narrowNumbers(t reflect.Type) *jsonschema.Schema {
	format, ok := numberFormats[t.Kind()]
	if !ok {
		return nil
	}
	if t.Kind() == reflect.Float32 {
		return &jsonschema.Schema{Type: "number", Format: format}
	}
	return &jsonschema.Schema{Type: "integer", Format: format}
}

// Describer is implemented by input types that document the function
// consuming them.
type Describer interface {
	FunctionDescription() string
}

// DescriptionOf returns the FunctionDescription of t, or of *t, when it
// implements Describer.
func DescriptionOf(t reflect.Type) string {
	if t == nil {
		return ""
	}
	for _, candidate := range []reflect.Type{t, reflect.PointerTo(t)} {
		if !candidate.Implements(describerType) {
			continue
		}
		var v reflect.Value
		if candidate.Kind() == reflect.Pointer {
			v = reflect.New(candidate.Elem())
		} else {
			v = reflect.Zero(candidate)
		}
		return v.Interface().(Describer).FunctionDescription()
	}
	return ""
}

// IsContext reports whether t is context.Context.
func IsContext(t reflect.Type) bool {
	return t == contextType
}

// ParametersOf reflects a struct type into one parameter per exported field.
// Field names come from json tags. A field is required unless it is a
// pointer, is tagged omitempty or omitzero, or carries jsonschema "optional"
// or a "default=" value; jsonschema "required" overrides all of these. A
// non-struct type yields a single parameter named "value".
func ParametersOf(t reflect.Type) ([]Parameter, error) {
	t = indirect(t)
	root, err := typeParameter(t)
	if err != nil {
		return nil, err
	}
	if t.Kind() == reflect.Struct && t != timeType {
		return root.Fields, nil
	}
	root.Name = "value"
	root.Required = true
	return []Parameter{root}, nil
}

// FuncParameters reflects the arguments of a function type. Names are taken
// positionally from names, defaulting to param0, param1, and so on.
// context.Context arguments are skipped and consume no name. Pointer
// arguments are optional.
func FuncParameters(fnType reflect.Type, names ...string) ([]Parameter, error) {
	if fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("expected a function, got %s", fnType)
	}

	var params []Parameter
	pos := 0
	for i := range fnType.NumIn() {
		in := fnType.In(i)
		if IsContext(in) {
			continue
		}

		name := fmt.Sprintf("param%d", pos)
		if pos < len(names) && names[pos] != "" {
			name = names[pos]
		}
		pos++

		p, err := typeParameter(in)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		p.Name = name
		p.Required = in.Kind() != reflect.Pointer
		if fnType.IsVariadic() && i == fnType.NumIn()-1 {
			p.Required = false
		}
		params = append(params, p)
	}
	return params, nil
}

// typeParameter reflects t with Reflector and converts the result.
func typeParameter(t reflect.Type) (Parameter, error) {
	if err := checkType(t, map[reflect.Type]bool{}); err != nil {
		return Parameter{}, err
	}
	raw, err := json.Marshal(Reflector.ReflectFromType(t))
	if err != nil {
		return Parameter{}, fmt.Errorf("encoding schema of %s: %w", t, err)
	}
	c := newConverter(raw)
	return c.parameter(c.root, t), nil
}
