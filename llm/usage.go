package llm

import (
	"maps"
	"slices"
	"sync"

	"github.com/i2y/marengo/provider"
)

// UsageTracker accumulates token usage per model across round-trips.
// It is safe for concurrent use; a nil *UsageTracker ignores all updates.
type UsageTracker struct {
	mu      sync.RWMutex
	byModel map[string]provider.Usage
	total   provider.Usage
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{byModel: make(map[string]provider.Usage)}
}

// Add records usage for model.
func (t *UsageTracker) Add(model string, usage provider.Usage) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byModel == nil {
		t.byModel = make(map[string]provider.Usage)
	}
	t.byModel[model] = t.byModel[model].Add(usage)
	t.total = t.total.Add(usage)
}

// Total returns the usage summed over all models.
func (t *UsageTracker) Total() provider.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// ByModel returns the usage recorded for model.
func (t *UsageTracker) ByModel(model string) provider.Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byModel[model]
}

// Models returns the tracked model names, sorted.
func (t *UsageTracker) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.byModel))
}

// Reset clears all recorded usage.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byModel = make(map[string]provider.Usage)
	t.total = provider.Usage{}
}
