package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidSchema is returned for schema documents that are not valid JSON.
var ErrInvalidSchema = errors.New("invalid JSON Schema")

// formatKinds maps integer and number formats to the kinds they narrow to.
// Reflector emits the Go-specific ones; int32, int64, float and double also
// appear in hand-written schemas.
var formatKinds = map[string]Kind{
	"int8":   KindInt8,
	"int16":  KindInt16,
	"int32":  KindInt32,
	"int64":  KindInt64,
	"uint":   KindUint,
	"uint8":  KindUint8,
	"uint16": KindUint16,
	"uint32": KindUint32,
	"uint64": KindUint64,
	"float":  KindFloat32,
	"double": KindFloat64,
}

// FromJSONSchema converts the properties of an object schema into
// parameters, in document order. Local $ref pointers are resolved and a
// reference back into a definition being converted yields an open object.
// A schema without properties yields no parameters.
func FromJSONSchema(raw []byte) ([]Parameter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidSchema
	}
	c := newConverter(raw)
	return c.parameter(c.root, nil).Fields, nil
}

// converter walks a JSON Schema document. When the document was reflected
// from a Go type, the type is walked alongside it to recover optionality
// that JSON Schema cannot carry.
type converter struct {
	root   gjson.Result
	active map[string]bool
}

func newConverter(raw []byte) *converter {
	return &converter{root: gjson.ParseBytes(raw), active: map[string]bool{}}
}

func (c *converter) parameter(s gjson.Result, t reflect.Type) Parameter {
	p := Parameter{
		Description: s.Get("description").String(),
		Format:      s.Get("format").String(),
	}
	if d := s.Get("default"); d.Exists() {
		p.Default = d.Value()
	}

	if ref := s.Get(gjson.Escape("$ref")).String(); ref != "" {
		return c.reference(ref, p, t)
	}
	if member, ok := firstMember(s); ok {
		return overlay(c.parameter(member, t), p)
	}

	if enum := s.Get("enum"); enum.IsArray() {
		for _, e := range enum.Array() {
			if e.Type != gjson.String {
				p.Enum = nil
				break
			}
			p.Enum = append(p.Enum, e.String())
		}
	}

	switch schemaType(s) {
	case "string":
		p.Kind = KindString
	case "integer":
		p.Kind = KindInt
		if k, ok := formatKinds[p.Format]; ok && k != KindFloat32 && k != KindFloat64 {
			p.Kind = k
			p.Format = ""
		}
	case "number":
		p.Kind = KindFloat64
		if k, ok := formatKinds[p.Format]; ok && (k == KindFloat32 || k == KindFloat64) {
			p.Kind = k
			p.Format = ""
		}
	case "boolean":
		p.Kind = KindBool
	case "array":
		p.Kind = KindArray
		if items := s.Get("items"); items.IsObject() || items.IsBool() {
			elem := c.parameter(items, elemType(t))
			p.Elem = &elem
		}
	case "object":
		if s.Get("properties").IsObject() {
			p.Kind = KindObject
			p.Fields = c.fields(s, t)
			break
		}
		p.Kind = KindMap
		if ap := s.Get("additionalProperties"); ap.IsObject() {
			elem := c.parameter(ap, elemType(t))
			p.Elem = &elem
		}
	default:
		p.Kind = KindAny
	}
	return p
}

// reference converts the definition ref points at. The referencing node's
// description and default take precedence over the definition's.
func (c *converter) reference(ref string, p Parameter, t reflect.Type) Parameter {
	if c.active[ref] {
		p.Kind = KindObject
		return p
	}
	target, ok := c.lookup(ref)
	if !ok {
		p.Kind = KindAny
		return p
	}

	c.active[ref] = true
	defer delete(c.active, ref)
	return overlay(c.parameter(target, t), p)
}

// lookup resolves a local JSON pointer such as "#/$defs/Node".
func (c *converter) lookup(ref string) (gjson.Result, bool) {
	pointer, ok := strings.CutPrefix(ref, "#/")
	if !ok {
		return gjson.Result{}, false
	}
	segments := strings.Split(pointer, "/")
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		segments[i] = gjson.Escape(seg)
	}
	target := c.root.Get(strings.Join(segments, "."))
	return target, target.Exists()
}

func (c *converter) fields(s gjson.Result, t reflect.Type) []Parameter {
	required := map[string]bool{}
	for _, r := range s.Get("required").Array() {
		required[r.String()] = true
	}

	var params []Parameter
	s.Get("properties").ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		f, hasField := structField(t, key)

		var ft reflect.Type
		if hasField {
			ft = f.Type
		}
		p := c.parameter(v, ft)
		p.Name = Normalize(key)
		p.Key = key
		p.Required = required[key] && p.Default == nil
		if hasField {
			p.Required = fieldRequired(f, p.Required)
		}
		params = append(params, p)
		return true
	})
	return params
}

// overlay copies the description and default of a wrapping node onto p.
func overlay(p, wrapper Parameter) Parameter {
	if wrapper.Description != "" {
		p.Description = wrapper.Description
	}
	if wrapper.Default != nil {
		p.Default = wrapper.Default
	}
	return p
}

// firstMember returns the first non-null alternative of an anyOf or oneOf.
func firstMember(s gjson.Result) (gjson.Result, bool) {
	for _, key := range []string{"anyOf", "oneOf"} {
		for _, m := range s.Get(key).Array() {
			if m.Get("type").String() != "null" {
				return m, true
			}
		}
	}
	return gjson.Result{}, false
}

// schemaType returns the first non-null type of s. Type unions such as
// ["string", "null"] describe optional values.
func schemaType(s gjson.Result) string {
	t := s.Get("type")
	if !t.IsArray() {
		return t.String()
	}
	for _, v := range t.Array() {
		if v.String() != "null" {
			return v.String()
		}
	}
	return ""
}

// fieldRequired applies the optional markers of a struct field on top of
// the required flag its schema carries.
func fieldRequired(f reflect.StructField, required bool) bool {
	if f.Type.Kind() == reflect.Pointer {
		required = false
	}
	_, opts, _ := strings.Cut(f.Tag.Get("json"), ",")
	for opt := range strings.SplitSeq(opts, ",") {
		if opt == "omitzero" {
			required = false
		}
	}
	for opt := range strings.SplitSeq(f.Tag.Get("jsonschema"), ",") {
		switch opt {
		case "optional":
			required = false
		case "required":
			return true
		}
	}
	return required
}

// structField finds the field of t encoded under key, looking through
// embedded structs the way encoding/json does.
func structField(t reflect.Type, key string) (reflect.StructField, bool) {
	t = indirect(t)
	if t == nil || t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if f.Anonymous && name == "" {
			if inner, ok := structField(f.Type, key); ok {
				return inner, true
			}
			continue
		}
		if name == "" {
			name = f.Name
		}
		if f.IsExported() && name == key {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func elemType(t reflect.Type) reflect.Type {
	t = indirect(t)
	if t == nil {
		return nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return t.Elem()
	}
	return nil
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// checkType rejects types that have no JSON representation. Reflector
// panics on them.
func checkType(t reflect.Type, seen map[reflect.Type]bool) error {
	t = indirect(t)
	if seen[t] {
		return nil
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Errorf("unsupported type %s", t)
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", t.Key())
		}
		return checkType(t.Elem(), seen)
	case reflect.Slice, reflect.Array:
		return checkType(t.Elem(), seen)
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() && !f.Anonymous {
				continue
			}
			if f.Tag.Get("json") == "-" || f.Tag.Get("jsonschema") == "-" {
				continue
			}
			if err := checkType(f.Type, seen); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	return nil
}
