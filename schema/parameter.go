package schema

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is the value kind of a function parameter.
type Kind int

const (
	KindAny Kind = iota
	KindBool
	KindInt
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindArray
	KindObject
	KindMap
)

// jsonTypes maps kinds to JSON Schema primitive types.
var jsonTypes = map[Kind]string{
	KindBool:    "boolean",
	KindInt:     "integer",
	KindInt8:    "integer",
	KindInt16:   "integer",
	KindInt32:   "integer",
	KindInt64:   "integer",
	KindUint:    "integer",
	KindUint8:   "integer",
	KindUint16:  "integer",
	KindUint32:  "integer",
	KindUint64:  "integer",
	KindFloat32: "number",
	KindFloat64: "number",
	KindString:  "string",
	KindArray:   "array",
	KindObject:  "object",
	KindMap:     "object",
}

// kindNotes describe value ranges the JSON type alone cannot express.
var kindNotes = map[Kind]string{
	KindInt8:    "8-bit integer (-128 to 127)",
	KindInt16:   "16-bit integer (-32768 to 32767)",
	KindInt32:   "32-bit integer (-2147483648 to 2147483647)",
	KindUint:    "unsigned integer (0 or greater)",
	KindUint8:   "unsigned 8-bit integer (0 to 255)",
	KindUint16:  "unsigned 16-bit integer (0 to 65535)",
	KindUint32:  "unsigned 32-bit integer (0 to 4294967295)",
	KindUint64:  "unsigned 64-bit integer (0 or greater)",
	KindFloat32: "single-precision floating point number",
}

// JSONType returns the JSON Schema type for k, or "" for KindAny.
func (k Kind) JSONType() string {
	return jsonTypes[k]
}

func (k Kind) String() string {
	if t := jsonTypes[k]; t != "" {
		return t
	}
	return "any"
}

// Parameter describes one parameter of a callable function. Parameters are
// built once, either explicitly or by reflecting a Go signature, and are
// treated as plain data afterwards.
type Parameter struct {
	Name        string
	Kind        Kind
	Required    bool
	Enum        []string
	Description string
	Default     any
	Format      string

	// Elem describes array elements and map values.
	Elem *Parameter
	// Fields describes the properties of an object.
	Fields []Parameter

	// Key is the name arguments are decoded with. It defaults to Name and
	// differs when Name was normalized from a Go identifier or json tag.
	Key string
}

// DecodeKey returns the key used when decoding arguments for p.
func (p Parameter) DecodeKey() string {
	if p.Key != "" {
		return p.Key
	}
	return p.Name
}

// Schema returns the JSON Schema describing p.
func (p Parameter) Schema() *jsonschema.Schema {
	return p.schema(false)
}

func (p Parameter) schema(strict bool) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Description: p.describe(),
		Default:     p.Default,
		Format:      p.Format,
	}

	if len(p.Enum) > 0 {
		s.Type = "string"
		s.Enum = make([]any, len(p.Enum))
		for i, v := range p.Enum {
			s.Enum[i] = v
		}
		return s
	}

	s.Type = p.Kind.JSONType()

	switch p.Kind {
	case KindArray:
		if p.Elem != nil {
			s.Items = p.Elem.schema(strict)
		}
	case KindObject:
		s.Properties, s.Required = objectProperties(p.Fields, strict)
		if strict {
			s.AdditionalProperties = jsonschema.FalseSchema
		}
	case KindMap:
		if p.Elem != nil {
			s.AdditionalProperties = p.Elem.schema(strict)
		} else {
			s.AdditionalProperties = jsonschema.TrueSchema
		}
	}

	return s
}

func (p Parameter) describe() string {
	note := kindNotes[p.Kind]
	switch {
	case note == "" || len(p.Enum) > 0:
		return p.Description
	case p.Description == "":
		return note
	default:
		return fmt.Sprintf("%s (%s)", strings.TrimRight(p.Description, "."), note)
	}
}

// objectProperties builds the ordered property map and required list for a
// set of parameters, normalizing their names.
func objectProperties(params []Parameter, strict bool) (*orderedmap.OrderedMap[string, *jsonschema.Schema], []string) {
	props := orderedmap.New[string, *jsonschema.Schema]()
	var required []string
	for _, param := range params {
		name := Normalize(param.Name)
		props.Set(name, param.schema(strict))
		if param.Required {
			required = append(required, name)
		}
	}
	return props, required
}

// allRequired reports whether params qualify for a strict schema: every
// parameter is required at every depth and no value is left open.
func allRequired(params []Parameter) bool {
	for _, p := range params {
		if !p.Required || !closed(p) {
			return false
		}
	}
	return true
}

// closed reports whether the shape of p is fully described.
func closed(p Parameter) bool {
	if len(p.Enum) > 0 {
		return true
	}
	switch p.Kind {
	case KindAny, KindMap:
		return false
	case KindObject:
		// An object without fields may be a cut recursive type.
		return len(p.Fields) > 0 && allRequired(p.Fields)
	case KindArray:
		return p.Elem != nil && closed(*p.Elem)
	}
	return true
}
