package provider

import (
	"sort"
	"sync"
)

// Registry is an in-memory index of provider documents keyed by type and
// name. It fronts the store for test-run lookups and is safe for concurrent
// use; API handlers register and remove documents while runs read them.
type Registry struct {
	mu        sync.RWMutex
	documents map[Type]map[string]Document
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		documents: make(map[Type]map[string]Document),
	}
}

// Register adds a document to the registry, replacing any existing document
// with the same type and name.
func (r *Registry) Register(d Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.documents[d.Type]
	if !ok {
		byName = make(map[string]Document)
		r.documents[d.Type] = byName
	}
	byName[d.Name] = d
}

// Get returns the document registered under the given type and name.
func (r *Registry) Get(typ Type, name string) (Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.documents[typ][name]
	return d, ok
}

// Remove deletes a document from the registry. It reports whether a document
// was registered under that type and name.
func (r *Registry) Remove(typ Type, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.documents[typ]
	if !ok {
		return false
	}
	if _, ok := byName[name]; !ok {
		return false
	}
	delete(byName, name)
	return true
}

// All returns every registered document, ordered by type then name.
func (r *Registry) All() []Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Document
	for _, typ := range Types() {
		out = append(out, r.byTypeLocked(typ)...)
	}
	return out
}

// ByType returns the documents of one type, ordered by name.
func (r *Registry) ByType(typ Type) []Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTypeLocked(typ)
}

// Names returns the sorted names registered under a type.
func (r *Registry) Names(typ Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.documents[typ]))
	for name := range r.documents[typ] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of registered documents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byName := range r.documents {
		n += len(byName)
	}
	return n
}

func (r *Registry) byTypeLocked(typ Type) []Document {
	byName := r.documents[typ]
	docs := make([]Document, 0, len(byName))
	for _, d := range byName {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	return docs
}
