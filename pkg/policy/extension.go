package policy

import (
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

// Extension is a registered handler for one top-level policy document
// key outside the built-in core groups (for example "mcp.tools").
//
// ParseSubtree decodes the raw YAML node into an extension-owned value.
// CompileSubtree takes that value and produces the opaque value stored
// on Model.Extensions, which the compiled policy (C3) consults at
// decision time.
type Extension interface {
	// Identifier returns the top-level document key this extension owns,
	// e.g. "mcp.tools".
	Identifier() string

	// ParseSubtree decodes and syntactically validates node. It must not
	// retain a reference to node beyond the call.
	ParseSubtree(node yaml.Node) (interface{}, error)

	// CompileSubtree projects a parsed value into the form consumed at
	// decision time.
	CompileSubtree(parsed interface{}) (interface{}, error)
}

// Registry is a package-level-style registry of extensions, mirroring
// the teacher's plugin manager: register once, look up by identifier
// during validation. Unlike the teacher's manager there is no
// Enable/Start/Stop lifecycle — extensions are pure parse/compile
// functions, not long-running plugins.
type Registry struct {
	mu         sync.RWMutex
	extensions map[string]Extension
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{extensions: make(map[string]Extension)}
}

// Register adds an extension to the registry. Registering the same
// identifier twice is an error.
func (r *Registry) Register(ext Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ext.Identifier()
	if _, exists := r.extensions[id]; exists {
		return errors.New(errors.ErrInvalidConfig, "extension already registered").WithField("identifier", id)
	}
	r.extensions[id] = ext
	return nil
}

// Get retrieves an extension by identifier.
func (r *Registry) Get(identifier string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ext, ok := r.extensions[identifier]
	return ext, ok
}

// Identifiers returns every registered extension identifier.
func (r *Registry) Identifiers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.extensions))
	for id := range r.extensions {
		ids = append(ids, id)
	}
	return ids
}
