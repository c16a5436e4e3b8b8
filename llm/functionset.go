package llm

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/i2y/marengo/schema"
)

// FunctionSet is a registry of functions the model may call.
//
// Lookup ignores case and word separators, so "addNumbers", "add_numbers"
// and "AddNumbers" name the same function. Registering a function under a
// name already present replaces it. A FunctionSet is safe for concurrent
// use.
type FunctionSet struct {
	mu    sync.RWMutex
	funcs map[string]*Function
	order []string
}

// NewFunctionSet creates a set holding fns.
func NewFunctionSet(fns ...*Function) *FunctionSet {
	fs := &FunctionSet{funcs: make(map[string]*Function)}
	fs.Add(fns...)
	return fs
}

// Add registers fns.
func (fs *FunctionSet) Add(fns ...*Function) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.funcs == nil {
		fs.funcs = make(map[string]*Function)
	}
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		key := schema.Key(fn.Name)
		if _, exists := fs.funcs[key]; !exists {
			fs.order = append(fs.order, key)
		}
		fs.funcs[key] = fn
	}
}

// AddFunc registers a plain Go function. See NewFunction.
func (fs *FunctionSet) AddFunc(name string, fn any, opts ...FunctionOption) error {
	f, err := NewFunction(name, fn, opts...)
	if err != nil {
		return err
	}
	fs.Add(f)
	return nil
}

// AddParams registers a function described by an explicit parameter list.
// See NewParamsFunction.
func (fs *FunctionSet) AddParams(name string, params []schema.Parameter, handler Handler, opts ...FunctionOption) {
	fs.Add(NewParamsFunction(name, params, handler, opts...))
}

// Remove unregisters the function called name and reports whether it was
// present.
func (fs *FunctionSet) Remove(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	key := schema.Key(name)
	if _, ok := fs.funcs[key]; !ok {
		return false
	}
	delete(fs.funcs, key)
	for i, k := range fs.order {
		if k == key {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear unregisters every function.
func (fs *FunctionSet) Clear() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.funcs = make(map[string]*Function)
	fs.order = nil
}

// Get retrieves a function by name.
func (fs *FunctionSet) Get(name string) (*Function, bool) {
	if fs == nil {
		return nil, false
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	f, ok := fs.funcs[schema.Key(name)]
	return f, ok
}

// All returns the registered functions in registration order.
func (fs *FunctionSet) All() []*Function {
	if fs == nil {
		return nil
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*Function, 0, len(fs.order))
	for _, key := range fs.order {
		out = append(out, fs.funcs[key])
	}
	return out
}

// Len returns the number of registered functions.
func (fs *FunctionSet) Len() int {
	if fs == nil {
		return 0
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return len(fs.funcs)
}

// Call runs the function called name directly and returns its result as
// text. Failures, including a panicking handler, are reported as
// *FunctionError.
func (fs *FunctionSet) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	f, ok := fs.Get(name)
	if !ok {
		return "", &FunctionError{Name: name, Cause: ErrFunctionNotRegistered}
	}
	if f.Handler == nil {
		return "", &FunctionError{Name: name, Cause: ErrNoHandler}
	}
	v, err := guard(func() (any, error) { return f.Handler(ctx, args) })
	if err != nil {
		return "", &FunctionError{Name: f.Name, Cause: err}
	}
	text, err := resultText(v)
	if err != nil {
		return "", &FunctionError{Name: f.Name, Cause: err}
	}
	return text, nil
}
