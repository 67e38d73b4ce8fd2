package codec

import (
	"fmt"
	"reflect"
	"sync"
)

// EncodeFunc writes the fields of v. v is never nil.
type EncodeFunc func(enc ObjectEncoder, v any) error

// DecodeFunc reads the fields of one object and returns the rebuilt value.
type DecodeFunc func(dec ObjectDecoder) (any, error)

// TypeBinding ties a Go type to a stable wire type-name and its handlers.
//
// When Subtypes is set, Type must be an interface type and the binding matches
// any value implementing it. Such bindings are consulted in registration order
// after exact type lookup fails.
type TypeBinding struct {
	Type     reflect.Type
	Name     string
	Encode   EncodeFunc
	Decode   DecodeFunc
	Subtypes bool
}

// WireNamer lets a value select which of several bindings registered for its
// Go type is used when it is encoded.
type WireNamer interface {
	WireTypeName() string
}

// Registry maps Go types to wire names and back. It is built once at start up
// and only read while encoding or decoding.
type Registry struct {
	mu       sync.RWMutex
	byType   map[reflect.Type]*TypeBinding
	byName   map[string]*TypeBinding
	subtypes []*TypeBinding
}

// NewRegistry returns a registry holding the built-in primitive bindings.
func NewRegistry() *Registry {
	r := &Registry{
		byType: make(map[reflect.Type]*TypeBinding),
		byName: make(map[string]*TypeBinding),
	}
	r.MustRegister(primitiveBindings()...)
	return r
}

// Register adds a binding. Wire names must be unique. The first binding
// registered for a Go type is the one used for plain type lookup.
func (r *Registry) Register(b TypeBinding) error {
	if b.Type == nil || b.Name == "" {
		return fmt.Errorf("codec: binding needs a type and a name")
	}
	if b.Name == wireByte || b.Name == wireObject {
		return fmt.Errorf("codec: wire type-name %q is reserved", b.Name)
	}
	if b.Encode == nil || b.Decode == nil {
		return fmt.Errorf("codec: binding %q needs both handlers", b.Name)
	}
	if b.Subtypes && b.Type.Kind() != reflect.Interface {
		return fmt.Errorf("codec: subtype binding %q must use an interface type, got %s", b.Name, b.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[b.Name]; dup {
		return fmt.Errorf("codec: wire type-name %q already registered", b.Name)
	}
	binding := b
	r.byName[b.Name] = &binding
	if b.Subtypes {
		r.subtypes = append(r.subtypes, &binding)
	}
	if _, ok := r.byType[b.Type]; !ok {
		r.byType[b.Type] = &binding
	}
	return nil
}

// MustRegister registers every binding and panics on the first failure.
// Intended for start-up wiring where a clash is a programming error.
func (r *Registry) MustRegister(bindings ...TypeBinding) {
	for _, b := range bindings {
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
}

// ForName resolves a binding by its wire type-name.
func (r *Registry) ForName(name string) (*TypeBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// ForType resolves a binding for a Go type: exact match first, then subtype
// bindings in registration order.
func (r *Registry) ForType(t reflect.Type) (*TypeBinding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byType[t]; ok {
		return b, true
	}
	for _, b := range r.subtypes {
		if t.Implements(b.Type) {
			return b, true
		}
	}
	return nil, false
}

// ForValue resolves the binding used to encode v, honouring WireNamer.
func (r *Registry) ForValue(v any) (*TypeBinding, bool) {
	t := reflect.TypeOf(v)
	if named, ok := v.(WireNamer); ok {
		if b, ok := r.ForName(named.WireTypeName()); ok && b.Type == t {
			return b, true
		}
	}
	return r.ForType(t)
}

// Names lists every registered wire type-name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
