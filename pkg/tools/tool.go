package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/kotoba-live/kotoba/pkg/memory"
)

// Tool is an action the persona can request mid-stream, e.g. a web
// search. Args is the free-form text the model put in the tag's args
// attribute. Execute returns human-readable output that is fed back
// into the next generation as context.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args string, store memory.Store) (string, error)
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	r.tools[t.Name()] = t
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
