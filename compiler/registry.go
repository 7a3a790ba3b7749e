package compiler

import (
	"sync"
)

// Backend name constants.
const (
	// BackendMarkup is the name of the pure Go reference markup compiler.
	BackendMarkup = "markup"
)

// Factory creates a new compiler instance.
type Factory func() (Compiler, error)

// registry holds registered compiler factories.
var (
	registryMu sync.RWMutex
	compilers  = make(map[string]Factory)
	// Priority order for default selection (first available wins).
	priority = []string{BackendMarkup}
)

// Register registers a compiler factory with the given name.
// This is typically called from init() functions in backend packages.
// If a compiler with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	compilers[name] = factory
}

// Unregister removes a compiler from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(compilers, name)
}

// Available returns a list of registered compiler names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(compilers))
	for name := range compilers {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a compiler with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := compilers[name]
	return ok
}

// Get returns the factory for a compiler by name.
// Returns ErrCompilerNotAvailable if the name is not registered.
func Get(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := compilers[name]
	if !ok {
		return nil, ErrCompilerNotAvailable
	}
	return factory, nil
}

// Default returns the factory of the best available compiler based on
// priority. Returns ErrCompilerNotAvailable if nothing is registered.
func Default() (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range priority {
		if factory, ok := compilers[name]; ok {
			return factory, nil
		}
	}
	// Fall back to any registered compiler.
	for _, factory := range compilers {
		return factory, nil
	}
	return nil, ErrCompilerNotAvailable
}
