package llm

import (
	"bytes"
	"context"
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/i2y/marengo/schema"
)

var errorType = reflect.TypeFor[error]()

// Handler executes a function with the JSON arguments of a call.
// A non-string result is serialized before it is returned to the model.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// DefaultHandler handles calls to functions that have no handler of their
// own. See WithDefaultHandler.
type DefaultHandler func(ctx context.Context, name string, args json.RawMessage) (any, error)

// Function is a function the model may call.
//
// Parameters describe the arguments explicitly. When they are empty, the
// parameters reflected from the Go signature at construction time are used
// instead.
type Function struct {
	Name        string
	Description string
	// DoubleCheck makes the model issue every call twice: the first call is
	// answered with a confirmation request and only the second executes.
	DoubleCheck bool
	Parameters  []schema.Parameter
	Handler     Handler

	reflected           []schema.Parameter
	fallbackDescription string
}

// FunctionOption configures a Function at construction.
type FunctionOption func(*functionConfig)

type functionConfig struct {
	description string
	doubleCheck bool
	paramNames  []string
}

// Description sets the description shown to the model.
func Description(s string) FunctionOption {
	return func(c *functionConfig) {
		c.description = s
	}
}

// DoubleCheck requires a confirmation round-trip before each execution.
func DoubleCheck() FunctionOption {
	return func(c *functionConfig) {
		c.doubleCheck = true
	}
}

// ParamNames names the positional arguments of a plain Go function, in
// order. context.Context arguments are not counted.
func ParamNames(names ...string) FunctionOption {
	return func(c *functionConfig) {
		c.paramNames = names
	}
}

func newFunctionConfig(opts []FunctionOption) *functionConfig {
	cfg := &functionConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewFunction creates a Function from a plain Go function. Its arguments
// are decoded by position from the call's JSON object, using the names
// given with ParamNames. A context.Context argument receives the call's
// context. fn may return nothing, a value, an error, or a value and an
// error.
//
// Example:
//
//	add, err := llm.NewFunction("addNumbers", func(a, b int) int { return a + b },
//	    llm.ParamNames("a", "b"),
//	    llm.Description("Add two numbers"),
//	)
func NewFunction(name string, fn any, opts ...FunctionOption) (*Function, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("function %q: expected a func, got %T", name, fn)
	}

	t := v.Type()
	if err := checkResults(t); err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}

	cfg := newFunctionConfig(opts)
	params, err := schema.FuncParameters(t, cfg.paramNames...)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}

	return &Function{
		Name:        name,
		Description: cfg.description,
		DoubleCheck: cfg.doubleCheck,
		Handler:     positionalHandler(v, params),
		reflected:   params,
	}, nil
}

// NewTypedFunction creates a Function whose arguments decode into In.
// Parameters are reflected from In; when no description is given, In's
// FunctionDescription method is used if it has one.
//
// Example:
//
//	type WeatherInput struct {
//	    City string `json:"city" jsonschema:"description=City name"`
//	}
//
//	weather, err := llm.NewTypedFunction("getWeather",
//	    func(ctx context.Context, in WeatherInput) (string, error) {
//	        return "Sunny, 22°C", nil
//	    },
//	)
func NewTypedFunction[In any, Out any](
	name string,
	fn func(ctx context.Context, in In) (Out, error),
	opts ...FunctionOption,
) (*Function, error) {
	inType := reflect.TypeFor[In]()
	params, err := schema.ParametersOf(inType)
	if err != nil {
		return nil, fmt.Errorf("function %q: %w", name, err)
	}

	cfg := newFunctionConfig(opts)
	isStruct := inType.Kind() == reflect.Struct ||
		(inType.Kind() == reflect.Pointer && inType.Elem().Kind() == reflect.Struct)

	handler := func(ctx context.Context, args json.RawMessage) (any, error) {
		var in In
		var raw []byte
		if isStruct {
			var err error
			raw, err = schema.RemapArguments(args, params)
			if err != nil {
				return nil, err
			}
		} else {
			arg := schema.Argument(args, params[0])
			if !arg.Exists() {
				return nil, fmt.Errorf("missing required argument %q", params[0].Name)
			}
			raw = []byte(arg.Raw)
		}
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, fmt.Errorf("decoding arguments: %w", err)
		}
		return fn(ctx, in)
	}

	return &Function{
		Name:                name,
		Description:         cfg.description,
		DoubleCheck:         cfg.doubleCheck,
		Handler:             handler,
		reflected:           params,
		fallbackDescription: schema.DescriptionOf(inType),
	}, nil
}

// MustNewTypedFunction is like NewTypedFunction but panics on error.
// Useful for package-level function definitions.
func MustNewTypedFunction[In any, Out any](
	name string,
	fn func(ctx context.Context, in In) (Out, error),
	opts ...FunctionOption,
) *Function {
	f, err := NewTypedFunction(name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// NewParamsFunction creates a Function from an explicit parameter list.
// handler receives the raw arguments and may be nil, in which case calls
// go to the default handler.
func NewParamsFunction(name string, params []schema.Parameter, handler Handler, opts ...FunctionOption) *Function {
	cfg := newFunctionConfig(opts)
	return &Function{
		Name:        name,
		Description: cfg.description,
		DoubleCheck: cfg.doubleCheck,
		Parameters:  params,
		Handler:     handler,
	}
}

// Params returns the parameters that describe f to the model.
func (f *Function) Params() []schema.Parameter {
	if len(f.Parameters) > 0 {
		return f.Parameters
	}
	return f.reflected
}

// Schema serializes f for the given dialect.
func (f *Function) Schema(d schema.Dialect) *schema.FunctionSchema {
	return schema.SerializeFunction(schema.Function{
		Name:                f.Name,
		Description:         f.Description,
		FallbackDescription: f.fallbackDescription,
		Parameters:          f.Params(),
	}, d)
}

func checkResults(t reflect.Type) error {
	switch t.NumOut() {
	case 0, 1:
		return nil
	case 2:
		if t.Out(1) != errorType {
			return fmt.Errorf("second result must be error, got %s", t.Out(1))
		}
		return nil
	default:
		return fmt.Errorf("expected at most 2 results, got %d", t.NumOut())
	}
}

// positionalHandler decodes each argument of fn from the call's JSON object
// by parameter name and calls fn.
func positionalHandler(fn reflect.Value, params []schema.Parameter) Handler {
	t := fn.Type()
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		if len(bytes.TrimSpace(args)) > 0 && !gjson.ValidBytes(args) {
			return nil, schema.ErrInvalidArguments
		}

		in := make([]reflect.Value, t.NumIn())
		pos := 0
		for i := range t.NumIn() {
			argType := t.In(i)
			if schema.IsContext(argType) {
				in[i] = reflect.ValueOf(ctx)
				continue
			}

			p := params[pos]
			pos++

			v := reflect.New(argType)
			arg := schema.Argument(args, p)
			if !arg.Exists() || arg.Type == gjson.Null {
				if p.Required {
					return nil, fmt.Errorf("missing required argument %q", schema.Normalize(p.Name))
				}
				in[i] = v.Elem()
				continue
			}

			raw := []byte(arg.Raw)
			if p.Kind == schema.KindObject {
				var err error
				if raw, err = schema.RemapArguments(raw, p.Fields); err != nil {
					return nil, err
				}
			}
			if err := json.Unmarshal(raw, v.Interface()); err != nil {
				return nil, fmt.Errorf("decoding argument %q: %w", schema.Normalize(p.Name), err)
			}
			in[i] = v.Elem()
		}

		var out []reflect.Value
		if t.IsVariadic() {
			out = fn.CallSlice(in)
		} else {
			out = fn.Call(in)
		}
		return splitResults(out)
	}
}

func splitResults(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		err, _ := out[1].Interface().(error)
		return out[0].Interface(), err
	}
}

// resultText converts a handler result into the text sent back to the
// model.
func resultText(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(v).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(v).Uint(), 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			return "", fmt.Errorf("marshaling result: %w", err)
		}
		return string(b), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("marshaling result: %w", err)
		}
		return string(b), nil
	}
}
