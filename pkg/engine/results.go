package engine

import (
	"context"
	"sync"

	"github.com/campusworks/coursetasks/pkg/core"
)

// ResultBackend stores the engine-side state of submitted tasks keyed
// by engine task id. The web process reads it through Engine.Query;
// workers write it as tasks progress and finish.
type ResultBackend interface {
	// Set replaces the stored result for the task id.
	Set(ctx context.Context, engineTaskID string, res *core.EngineResult) error
	// Get returns the stored result, or nil when the id is unknown.
	Get(ctx context.Context, engineTaskID string) (*core.EngineResult, error)
}

// memoryResults is the in-process backend used by single-host
// deployments and tests.
type memoryResults struct {
	mu      sync.RWMutex
	results map[string]*core.EngineResult
}

// NewMemoryResults creates an in-memory result backend.
func NewMemoryResults() ResultBackend {
	return &memoryResults{results: make(map[string]*core.EngineResult)}
}

func (m *memoryResults) Set(_ context.Context, engineTaskID string, res *core.EngineResult) error {
	cp := *res
	m.mu.Lock()
	m.results[engineTaskID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *memoryResults) Get(_ context.Context, engineTaskID string) (*core.EngineResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[engineTaskID]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}
