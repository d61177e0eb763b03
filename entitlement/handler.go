package entitlement

import (
	"fmt"
	"sort"
	"sync"
)

// Handler describes how one kind of object is entitled.
type Handler struct {
	Object Object
	Label  string
	// Exclusive objects hold at most one live entitlement per sku.
	Exclusive bool
}

// Registry maps object tags to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Object]Handler
}

// NewRegistry creates a registry with the given handlers.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[Object]Handler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.Object] = h
	}
	return r
}

// DefaultRegistry returns a registry with the built-in object kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Handler{Object: ObjectMailbox, Label: "Mailbox", Exclusive: true},
		Handler{Object: ObjectStorage, Label: "Storage"},
		Handler{Object: ObjectDomain, Label: "Domain", Exclusive: true},
		Handler{Object: ObjectGroup, Label: "Group", Exclusive: true},
		Handler{Object: ObjectRoom, Label: "Room", Exclusive: true},
		Handler{Object: ObjectResource, Label: "Resource", Exclusive: true},
		Handler{Object: ObjectSharedFolder, Label: "Shared folder", Exclusive: true},
		Handler{Object: ObjectBeta, Label: "Beta program", Exclusive: true},
	)
}

// Register adds a handler. Registering the same object twice is an error.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[h.Object]; ok {
		return fmt.Errorf("entitlement: duplicate handler: %s", h.Object)
	}
	r.handlers[h.Object] = h
	return nil
}

// Lookup returns the handler for an object tag.
func (r *Registry) Lookup(o Object) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[o]
	return h, ok
}

// Objects lists the registered object tags in sorted order.
func (r *Registry) Objects() []Object {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Object, 0, len(r.handlers))
	for o := range r.handlers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
