package relay

import (
	"sort"

	"github.com/jimchat/jimchat/jim"
)

// Handle is the registry's non-owning view of a connection.
type Handle interface {
	// Alive reports whether the connection can still carry frames.
	Alive() bool
}

// Registry maps account names to live connections. It is owned by the relay
// loop and is not safe for concurrent use.
type Registry struct {
	lookup map[string]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		lookup: map[string]Handle{},
	}
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	return len(r.lookup)
}

// Register binds name to h. It fails with ErrNameTaken if name is already
// bound to a live handle; a binding to a dead handle is replaced.
func (r *Registry) Register(name string, h Handle) error {
	if err := jim.CheckName(name); err != nil {
		return err
	}
	old, found := r.lookup[name]
	if found && old.Alive() {
		return ErrNameTaken
	}
	r.lookup[name] = h
	return nil
}

// Unregister removes name. Removing a missing name is a no-op.
func (r *Registry) Unregister(name string) {
	delete(r.lookup, name)
}

// Lookup returns the live handle bound to name.
func (r *Registry) Lookup(name string) (Handle, bool) {
	h, ok := r.lookup[name]
	if ok && !h.Alive() {
		delete(r.lookup, name)
		return nil, false
	}
	return h, ok
}

// Names lists the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.lookup))
	for name := range r.lookup {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// holds reports whether name is registered to h, alive or not.
func (r *Registry) holds(name string, h Handle) bool {
	cur, ok := r.lookup[name]
	return ok && cur == h
}
