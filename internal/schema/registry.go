package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/refgrid/internal/core"
)

// Registry holds table schemas and their strategies, looked up by name.
type Registry struct {
	mu         sync.RWMutex
	schemas    map[string]*TableSchema
	strategies map[string]Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas:    make(map[string]*TableSchema),
		strategies: make(map[string]Strategy),
	}
}

// Register adds a schema to the registry.
// Panics if a table with the same name is already registered.
func (r *Registry) Register(s *TableSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Name]; exists {
		panic(fmt.Sprintf("table already registered: %s", s.Name))
	}
	r.schemas[s.Name] = s
}

// RegisterStrategy installs per-table behavior overrides.
// The table must already be registered.
func (r *Registry) RegisterStrategy(table string, st Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[table]; !exists {
		panic(fmt.Sprintf("strategy for unregistered table: %s", table))
	}
	r.strategies[table] = st
}

// Get returns a schema by table name.
// Unknown tables yield *core.SchemaNotFoundError.
func (r *Registry) Get(table string) (*TableSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[table]
	if !ok {
		return nil, &core.SchemaNotFoundError{Table: table}
	}
	return s, nil
}

// StrategyFor returns the strategy for a table with defaults filled in.
func (r *Registry) StrategyFor(table string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategies[table].withDefaults()
}

// All returns all registered schemas.
// Sorted by group then by name for consistent ordering.
func (r *Registry) All() []*TableSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*TableSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry populated by package tables.
func Default() *Registry { return defaultRegistry }

// Register adds a schema to the default registry.
func Register(s *TableSchema) { defaultRegistry.Register(s) }

// RegisterStrategy installs a strategy in the default registry.
func RegisterStrategy(table string, st Strategy) { defaultRegistry.RegisterStrategy(table, st) }

// Get looks a schema up in the default registry.
func Get(table string) (*TableSchema, error) { return defaultRegistry.Get(table) }

// All lists the default registry.
func All() []*TableSchema { return defaultRegistry.All() }
