package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider implements Provider interface for testing
type mockProvider struct {
	name string
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Capabilities() Capabilities {
	return Capabilities{SystemRole: true}
}

func (m *mockProvider) Call(ctx context.Context, req *Request) (*Response, error) {
	return &Response{Content: "mock response"}, nil
}

// Helper to clear registry between tests
func clearRegistry() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}

func TestRegister_Overwrite(t *testing.T) {
	clearRegistry()

	Register("test", func() (Provider, error) {
		return &mockProvider{name: "first"}, nil
	})
	Register("test", func() (Provider, error) {
		return &mockProvider{name: "second"}, nil
	})

	p, err := Get("test")
	require.NoError(t, err)
	assert.Equal(t, "second", p.Name())
}

func TestGet(t *testing.T) {
	factoryErr := errors.New("factory error")

	tests := []struct {
		name         string
		setup        func()
		providerName string
		wantErr      error
		wantName     string
	}{
		{
			name: "get existing provider",
			setup: func() {
				Register("existing", func() (Provider, error) {
					return &mockProvider{name: "existing"}, nil
				})
			},
			providerName: "existing",
			wantName:     "existing",
		},
		{
			name:         "get unknown provider",
			setup:        func() {},
			providerName: "unknown",
			wantErr:      errors.New("unknown provider"),
		},
		{
			name: "factory returns error",
			setup: func() {
				Register("error-factory", func() (Provider, error) {
					return nil, factoryErr
				})
			},
			providerName: "error-factory",
			wantErr:      factoryErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearRegistry()
			tt.setup()

			p, err := Get(tt.providerName)

			if tt.wantErr != nil {
				require.Error(t, err)
				if errors.Is(tt.wantErr, factoryErr) {
					assert.ErrorIs(t, err, factoryErr)
				} else {
					assert.Contains(t, err.Error(), tt.wantErr.Error())
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}

func TestGet_ErrorIncludesAvailable(t *testing.T) {
	clearRegistry()

	Register("provider-a", func() (Provider, error) {
		return &mockProvider{name: "provider-a"}, nil
	})
	Register("provider-b", func() (Provider, error) {
		return &mockProvider{name: "provider-b"}, nil
	})

	_, err := Get("unknown")
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "unknown")
	assert.Contains(t, errStr, "provider-a")
	assert.Contains(t, errStr, "provider-b")
}

func TestAvailable_Sorted(t *testing.T) {
	clearRegistry()

	Register("two", func() (Provider, error) { return &mockProvider{}, nil })
	Register("one", func() (Provider, error) { return &mockProvider{}, nil })
	Register("three", func() (Provider, error) { return &mockProvider{}, nil })

	assert.Equal(t, []string{"one", "three", "two"}, Available())
}

func TestUnregister(t *testing.T) {
	clearRegistry()

	Register("gone", func() (Provider, error) { return &mockProvider{}, nil })
	require.True(t, IsRegistered("gone"))

	Unregister("gone")
	assert.False(t, IsRegistered("gone"))
	assert.Empty(t, Available())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	clearRegistry()

	Register("concurrent", func() (Provider, error) {
		return &mockProvider{name: "concurrent"}, nil
	})

	var wg sync.WaitGroup
	iterations := 100

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = Get("concurrent")
			_ = Available()
			_ = IsRegistered("concurrent")
		}()
		go func() {
			defer wg.Done()
			Register("concurrent", func() (Provider, error) {
				return &mockProvider{name: "concurrent"}, nil
			})
		}()
	}

	wg.Wait()

	assert.True(t, IsRegistered("concurrent"))
}
