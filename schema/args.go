package schema

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrInvalidArguments is returned for argument payloads that are not JSON.
var ErrInvalidArguments = errors.New("invalid JSON arguments")

// RemapArguments rewrites the keys of a call's arguments from their
// normalized names back to the keys the parameters decode with, so the
// result can be unmarshaled into the reflected Go type. Unknown keys are
// kept as they are.
func RemapArguments(args []byte, params []Parameter) ([]byte, error) {
	args = bytes.TrimSpace(args)
	if len(args) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(args) {
		return nil, ErrInvalidArguments
	}
	return remapObject(gjson.ParseBytes(args), params)
}

// Argument returns the value for p from a call's arguments, matching the
// normalized name first and the decode key second.
func Argument(args []byte, p Parameter) gjson.Result {
	if v := gjson.GetBytes(args, gjson.Escape(Normalize(p.Name))); v.Exists() {
		return v
	}
	return gjson.GetBytes(args, gjson.Escape(p.DecodeKey()))
}

func remapObject(v gjson.Result, params []Parameter) ([]byte, error) {
	if !v.IsObject() || len(params) == 0 {
		return []byte(v.Raw), nil
	}

	out := []byte("{}")
	var err error
	v.ForEach(func(k, val gjson.Result) bool {
		key := k.String()
		raw := []byte(val.Raw)
		if p, ok := lookupParameter(params, key); ok {
			key = p.DecodeKey()
			if raw, err = remapValue(val, p); err != nil {
				return false
			}
		}
		out, err = sjson.SetRawBytes(out, gjson.Escape(key), raw)
		return err == nil
	})
	if err != nil {
		return nil, fmt.Errorf("remapping arguments: %w", err)
	}
	return out, nil
}

func remapValue(v gjson.Result, p Parameter) ([]byte, error) {
	switch {
	case p.Kind == KindObject:
		return remapObject(v, p.Fields)
	case p.Kind == KindArray && p.Elem != nil && v.IsArray():
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range v.Array() {
			if i > 0 {
				buf.WriteByte(',')
			}
			raw, err := remapValue(elem, *p.Elem)
			if err != nil {
				return nil, err
			}
			buf.Write(raw)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case p.Kind == KindMap && p.Elem != nil && v.IsObject():
		out := []byte("{}")
		var err error
		v.ForEach(func(k, val gjson.Result) bool {
			var raw []byte
			if raw, err = remapValue(val, *p.Elem); err != nil {
				return false
			}
			out, err = sjson.SetRawBytes(out, gjson.Escape(k.String()), raw)
			return err == nil
		})
		return out, err
	}
	return []byte(v.Raw), nil
}

func lookupParameter(params []Parameter, key string) (Parameter, bool) {
	k := Key(key)
	for _, p := range params {
		if Key(p.Name) == k || Key(p.DecodeKey()) == k {
			return p, true
		}
	}
	return Parameter{}, false
}
