// Package templates implements the immutable, named SQL template registry.
// Every read or write the agent performs against a tenant database goes
// through a Template looked up by name here; nothing downstream is allowed
// to build SQL text from request input directly (the dynamic data:execute
// path builds its SQL from validated schema_registry identifiers, not from
// free-form strings — see internal/executor/dynamic.go).
package templates

import (
	"fmt"
	"sort"
	"sync"

	"private-db-agent/internal/dbadapter"
)

// Template is an immutable, named, parameterized SQL statement.
type Template struct {
	Name       string
	Mode       dbadapter.Mode
	Capability string
	Params     []Param
	SQL        map[string]string // dialect -> SQL text with positional `?` placeholders
}

// Bind validates args against the template's declared params (in order) and
// returns the positional values to pass to the adapter, in the same order
// the `?` placeholders appear in t.SQL.
func (t Template) Bind(args map[string]interface{}) ([]interface{}, error) {
	values := make([]interface{}, 0, len(t.Params))
	for _, p := range t.Params {
		raw, present := args[p.Name]
		if !present {
			if p.Default != nil {
				values = append(values, p.Default)
				continue
			}
			if p.Required {
				return nil, newValidationError("MISSING_PARAM", p.Name, "required parameter not supplied")
			}
			values = append(values, nil)
			continue
		}
		v, err := p.Validate(raw)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// SQLFor returns the dialect-specific SQL text for this template, or
// ErrDialectNotSupported if the template has no SQL registered for dialect.
func (t Template) SQLFor(dialect string) (string, error) {
	sql, ok := t.SQL[dialect]
	if !ok {
		return "", fmt.Errorf("templates: %w: template %q has no SQL for dialect %q", ErrDialectNotSupported, t.Name, dialect)
	}
	return sql, nil
}

var (
	// ErrTemplateNotFound is returned by Registry.Lookup for unknown names.
	ErrTemplateNotFound = fmt.Errorf("templates: template not found")
	// ErrDialectNotSupported is returned when a template has no SQL for a dialect.
	ErrDialectNotSupported = fmt.Errorf("templates: dialect not supported")
)

// Registry is a read-only, concurrency-safe lookup of named templates.
// It is built once at startup via NewRegistry and never mutated afterward —
// there is no RegisterTemplate at runtime by design, matching the spec's
// "immutable template allowlist" invariant.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewRegistry builds a Registry from a fixed slice of templates, typically
// DefaultTemplates(). It rejects duplicate names.
func NewRegistry(templates []Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if _, exists := r.templates[t.Name]; exists {
			return nil, fmt.Errorf("templates: duplicate template name %q", t.Name)
		}
		r.templates[t.Name] = t
	}
	return r, nil
}

// Lookup returns the template registered under name.
func (r *Registry) Lookup(name string) (Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	return t, nil
}

// Names returns all registered template names in sorted order, used by
// capability policy evaluation to render allowlists deterministically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
