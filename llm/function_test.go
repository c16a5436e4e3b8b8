package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/marengo/schema"
)

type weatherInput struct {
	City    string `json:"city" jsonschema:"description=City name"`
	Unit    string `json:"unit,omitempty" jsonschema:"enum=celsius,enum=fahrenheit"`
	ZipCode string `json:"zipCode,omitempty"`
}

func (weatherInput) FunctionDescription() string { return "Get the current weather" }

func call(t *testing.T, fn *Function, args string) (any, error) {
	t.Helper()
	require.NotNil(t, fn.Handler)
	return fn.Handler(context.Background(), json.RawMessage(args))
}

func TestNewFunction(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name    string
		fn      any
		names   []string
		args    string
		want    any
		wantErr string
	}{
		{
			name:  "two ints",
			fn:    func(a, b int) int { return a + b },
			names: []string{"a", "b"},
			args:  `{"a":2,"b":3}`,
			want:  5,
		},
		{
			name:  "camel case name matched by normalized key",
			fn:    func(firstName string) string { return "hi " + firstName },
			names: []string{"firstName"},
			args:  `{"first_name":"Ada"}`,
			want:  "hi Ada",
		},
		{
			name:  "context injected",
			fn:    func(ctx context.Context, s string) bool { return ctx != nil && s == "x" },
			names: []string{"s"},
			args:  `{"s":"x"}`,
			want:  true,
		},
		{
			name:    "missing required argument",
			fn:      func(a, b int) int { return a + b },
			names:   []string{"a", "b"},
			args:    `{"a":1}`,
			wantErr: `missing required argument "b"`,
		},
		{
			name:  "pointer argument is optional",
			fn:    func(a int, b *int) int { return a },
			names: []string{"a", "b"},
			args:  `{"a":7}`,
			want:  7,
		},
		{
			name:    "invalid JSON",
			fn:      func(a int) int { return a },
			names:   []string{"a"},
			args:    `{"a":`,
			wantErr: "invalid JSON arguments",
		},
		{
			name:    "wrong argument type",
			fn:      func(a int) int { return a },
			names:   []string{"a"},
			args:    `{"a":"seven"}`,
			wantErr: `decoding argument "a"`,
		},
		{
			name:    "error result",
			fn:      func() error { return errBoom },
			wantErr: "boom",
		},
		{
			name:    "value and error result",
			fn:      func() (string, error) { return "", errBoom },
			wantErr: "boom",
		},
		{
			name: "no results",
			fn:   func() {},
			want: nil,
		},
		{
			name:  "struct argument",
			fn:    func(in weatherInput) string { return in.City + "/" + in.ZipCode },
			names: []string{"in"},
			args:  `{"in":{"city":"Paris","zip_code":"75001"}}`,
			want:  "Paris/75001",
		},
		{
			name:  "variadic",
			fn:    func(nums ...int) int { return len(nums) },
			names: []string{"nums"},
			args:  `{"nums":[1,2,3]}`,
			want:  3,
		},
		{
			name: "null optional argument",
			fn: func(tags *[]string) int {
				if tags == nil {
					return -1
				}
				return len(*tags)
			},
			names: []string{"tags"},
			args:  `{"tags":null}`,
			want:  -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := NewFunction("f", tt.fn, ParamNames(tt.names...))
			require.NoError(t, err)

			got, err := call(t, fn, tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFunction_InvalidSignatures(t *testing.T) {
	tests := []struct {
		name string
		fn   any
	}{
		{name: "not a func", fn: 42},
		{name: "nil func", fn: (func())(nil)},
		{name: "three results", fn: func() (int, int, error) { return 0, 0, nil }},
		{name: "second result not error", fn: func() (int, int) { return 0, 0 }},
		{name: "unsupported parameter", fn: func(ch chan int) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFunction("bad", tt.fn)
			assert.Error(t, err)
		})
	}
}

func TestNewFunction_Schema(t *testing.T) {
	fn, err := NewFunction("addNumbers", func(ctx context.Context, a, b int) int { return a + b },
		ParamNames("a", "b"),
		Description("Add two numbers"),
		DoubleCheck(),
	)
	require.NoError(t, err)
	assert.True(t, fn.DoubleCheck)

	fs := fn.Schema(schema.Dialect{})
	assert.Equal(t, "add_numbers", fs.Name)
	assert.Equal(t, "Add two numbers", fs.Description)
	assert.True(t, fs.Strict)

	params, err := fs.ParametersJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {"a": {"type": "integer"}, "b": {"type": "integer"}},
		"required": ["a", "b"]
	}`, string(params))
}

func TestNewTypedFunction(t *testing.T) {
	var got weatherInput
	fn, err := NewTypedFunction("getWeather", func(ctx context.Context, in weatherInput) (string, error) {
		got = in
		return "Sunny, 22°C", nil
	})
	require.NoError(t, err)

	out, err := call(t, fn, `{"city":"Tokyo","zip_code":"100-0001","unit":"celsius"}`)
	require.NoError(t, err)
	assert.Equal(t, "Sunny, 22°C", out)
	assert.Equal(t, weatherInput{City: "Tokyo", Unit: "celsius", ZipCode: "100-0001"}, got)

	fs := fn.Schema(schema.Dialect{})
	assert.Equal(t, "get_weather", fs.Name)
	assert.Equal(t, "Get the current weather", fs.Description)
	assert.False(t, fs.Strict, "optional fields make the schema non-strict")

	t.Run("explicit description wins", func(t *testing.T) {
		fn := MustNewTypedFunction("getWeather", func(ctx context.Context, in weatherInput) (string, error) {
			return "", nil
		}, Description("Weather lookup"))
		assert.Equal(t, "Weather lookup", fn.Schema(schema.Dialect{}).Description)
	})

	t.Run("non-struct input", func(t *testing.T) {
		fn := MustNewTypedFunction("shout", func(ctx context.Context, s string) (string, error) {
			return strings.ToUpper(s), nil
		})
		out, err := call(t, fn, `{"value":"hey"}`)
		require.NoError(t, err)
		assert.Equal(t, "HEY", out)

		_, err = call(t, fn, `{}`)
		assert.ErrorContains(t, err, `missing required argument "value"`)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := call(t, fn, `not json`)
		assert.ErrorIs(t, err, schema.ErrInvalidArguments)
	})

	t.Run("unsupported input type", func(t *testing.T) {
		_, err := NewTypedFunction("bad", func(ctx context.Context, in chan int) (int, error) { return 0, nil })
		assert.Error(t, err)
	})
}

func TestFunction_Params(t *testing.T) {
	fn, err := NewFunction("f", func(a int) int { return a }, ParamNames("a"))
	require.NoError(t, err)
	require.Len(t, fn.Params(), 1)
	assert.Equal(t, "a", fn.Params()[0].Name)

	fn.Parameters = []schema.Parameter{{Name: "override", Kind: schema.KindString, Required: true}}
	require.Len(t, fn.Params(), 1)
	assert.Equal(t, "override", fn.Params()[0].Name)
}

func TestFunctionSet(t *testing.T) {
	fs := NewFunctionSet()
	require.NoError(t, fs.AddFunc("addNumbers", func(a, b int) int { return a + b }, ParamNames("a", "b")))
	fs.AddParams("lookup", nil, nil)
	fs.Add(nil)

	assert.Equal(t, 2, fs.Len())

	for _, name := range []string{"addNumbers", "add_numbers", "AddNumbers", "ADD_NUMBERS"} {
		fn, ok := fs.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, "addNumbers", fn.Name)
	}

	t.Run("replacement keeps position", func(t *testing.T) {
		fs.AddParams("add_numbers", nil, nil, Description("replaced"))
		all := fs.All()
		require.Len(t, all, 2)
		assert.Equal(t, "replaced", all[0].Description)
		assert.Equal(t, "lookup", all[1].Name)
	})

	t.Run("remove", func(t *testing.T) {
		assert.True(t, fs.Remove("Lookup"))
		assert.False(t, fs.Remove("lookup"))
		assert.Equal(t, 1, fs.Len())
	})

	t.Run("clear", func(t *testing.T) {
		fs.Clear()
		assert.Equal(t, 0, fs.Len())
		assert.Empty(t, fs.All())
	})

	t.Run("nil set", func(t *testing.T) {
		var nilSet *FunctionSet
		_, ok := nilSet.Get("x")
		assert.False(t, ok)
		assert.Nil(t, nilSet.All())
		assert.Equal(t, 0, nilSet.Len())
	})
}

func TestFunctionSet_Call(t *testing.T) {
	fs := NewFunctionSet()
	require.NoError(t, fs.AddFunc("addNumbers", func(a, b int) int { return a + b }, ParamNames("a", "b")))
	require.NoError(t, fs.AddFunc("fail", func() error { return errors.New("nope") }))
	fs.AddParams("bare", nil, nil)

	out, err := fs.Call(context.Background(), "add_numbers", json.RawMessage(`{"a":40,"b":2}`))
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	require.NoError(t, fs.AddFunc("boom", func() int {
		var counts map[string]int
		counts["x"]++
		return 0
	}))

	tests := []struct {
		name string
		want error
	}{
		{name: "fail"},
		{name: "bare", want: ErrNoHandler},
		{name: "missing", want: ErrFunctionNotRegistered},
		{name: "boom", want: ErrFunctionPanicked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				err  error
				ferr *FunctionError
			)
			require.NotPanics(t, func() {
				_, err = fs.Call(context.Background(), tt.name, json.RawMessage(`{}`))
			})
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tt.name, ferr.Name)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

type celsius float64

func (c celsius) String() string { return "warm" }

func TestResultText(t *testing.T) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "hello", want: "hello"},
		{name: "bytes", in: []byte("raw"), want: "raw"},
		{name: "raw json", in: json.RawMessage(`{"a":1}`), want: `{"a":1}`},
		{name: "time", in: when, want: "2024-01-02T03:04:05Z"},
		{name: "bool", in: true, want: "true"},
		{name: "int", in: -4, want: "-4"},
		{name: "int64", in: int64(1 << 40), want: "1099511627776"},
		{name: "uint8", in: uint8(255), want: "255"},
		{name: "float", in: 2.5, want: "2.5"},
		{name: "float32", in: float32(0.1), want: "0.1"},
		{name: "stringer", in: celsius(21), want: "warm"},
		{name: "struct", in: struct {
			A int    `json:"a"`
			B string `json:"b"`
		}{1, "x"}, want: `{"a":1,"b":"x"}`},
		{name: "slice", in: []int{1, 2}, want: "[1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resultText(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := resultText(make(chan int))
	assert.Error(t, err)
}
