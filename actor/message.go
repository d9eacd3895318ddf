package actor

import (
	"fmt"
	"reflect"
	"sync"
)

// BaseMessage is a helper struct that can be embedded in message types
// defined outside the actor package to satisfy the Message interface's
// unexported messageMarker method.
type BaseMessage struct{}

// messageMarker implements the unexported method for the Message interface,
// allowing types that embed BaseMessage to satisfy the Message interface.
func (BaseMessage) messageMarker() {}

// Message is a sealed interface for actor messages. Actors receive messages
// conforming to this interface. The interface is "sealed" by the unexported
// messageMarker method, meaning only types that can satisfy it (e.g., by
// embedding BaseMessage or being in the same package) can be Messages.
type Message interface {
	// messageMarker is a private method that makes this a sealed
	// interface (see BaseMessage for embedding).
	messageMarker()

	// MessageType returns the type name of the message for
	// routing/filtering.
	MessageType() string
}

// PriorityMessage is an extension of the Message interface for messages that
// carry a priority level. This can be used by actor mailboxes or schedulers
// to prioritize message processing.
type PriorityMessage interface {
	Message

	// Priority returns the processing priority of this message (higher =
	// more important).
	Priority() int
}

// typeRegistryEntry records how to construct and inspect a payload of a
// given registered type.
type typeRegistryEntry struct {
	name string
	typ  reflect.Type
}

// TypeRegistry is a process-global type-id registry: each serializable type
// owns a process-global id, registered at startup. The registry is populated
// via explicit Register calls made from init() functions in packages that
// define message types.
type TypeRegistry struct {
	mu       sync.RWMutex
	byID     map[uint32]typeRegistryEntry
	byType   map[reflect.Type]uint32
	nextFree uint32
}

// NewTypeRegistry creates an empty type-id registry. IDs are assigned
// starting at 1; 0 is reserved to mean "unregistered."
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		byID:     make(map[uint32]typeRegistryEntry),
		byType:   make(map[reflect.Type]uint32),
		nextFree: 1,
	}
}

// defaultTypeRegistry is the process-global registry used when a caller does
// not provide its own.
var defaultTypeRegistry = NewTypeRegistry()

// DefaultTypeRegistry returns the process-global type-id registry.
func DefaultTypeRegistry() *TypeRegistry {
	return defaultTypeRegistry
}

// Register assigns the next free id to the concrete type of example and
// returns it. Registering the same type twice returns the existing id
// idempotently rather than allocating a second one.
func (r *TypeRegistry) Register(name string, example any) uint32 {
	typ := reflect.TypeOf(example)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byType[typ]; ok {
		return id
	}

	id := r.nextFree
	r.nextFree++

	r.byID[id] = typeRegistryEntry{name: name, typ: typ}
	r.byType[typ] = id

	return id
}

// IDOf returns the registered id for the concrete type of v, and false if it
// was never registered.
func (r *TypeRegistry) IDOf(v any) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byType[reflect.TypeOf(v)]
	return id, ok
}

// TypeOf returns the reflect.Type registered under id, and false if no type
// is registered under it.
func (r *TypeRegistry) TypeOf(id uint32) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return entry.typ, true
}

// NameOf returns the registered name for id, and false if it is unknown.
func (r *TypeRegistry) NameOf(id uint32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return entry.name, true
}

// Tuple is an ordered, immutable, type-tagged sequence of values, the
// type-erased payload of an envelope. Values are stored by reference to a
// shared, copy-on-write backing slice: copying a Tuple (via Clone) is cheap
// until a caller mutates it through With, at which point the backing slice
// is duplicated.
type Tuple struct {
	values []any
	// shared indicates the backing slice may be aliased by another Tuple
	// and must be copied before an in-place mutation.
	shared *bool
}

// NewTuple constructs a Tuple from the given ordered values.
func NewTuple(values ...any) Tuple {
	shared := false
	cp := make([]any, len(values))
	copy(cp, values)
	return Tuple{values: cp, shared: &shared}
}

// Arity returns the number of slots in the tuple.
func (t Tuple) Arity() int {
	return len(t.values)
}

// TypeAt returns the reflect.Type of the value at idx.
func (t Tuple) TypeAt(idx int) reflect.Type {
	return reflect.TypeOf(t.values[idx])
}

// At returns the raw value at idx.
func (t Tuple) At(idx int) any {
	return t.values[idx]
}

// Clone returns a Tuple that shares the same backing storage until either
// copy is mutated via With, implementing copy-on-write sharing.
func (t Tuple) Clone() Tuple {
	*t.shared = true
	return Tuple{values: t.values, shared: t.shared}
}

// With returns a new Tuple with the value at idx replaced. It always copies
// the backing slice, so the receiver and any Tuple sharing its storage are
// left unchanged.
func (t Tuple) With(idx int, v any) Tuple {
	values := make([]any, len(t.values))
	copy(values, t.values)
	values[idx] = v

	shared := false
	return Tuple{values: values, shared: &shared}
}

// Extract copies the tuple's values into dsts, which must be pointers, in
// order. It returns an error if the arity or per-slot types don't match.
func (t Tuple) Extract(dsts ...any) error {
	if len(dsts) != len(t.values) {
		return fmt.Errorf("%w: tuple has arity %d, %d destinations given",
			ErrNoMatchingHandler, len(t.values), len(dsts))
	}

	for i, dst := range dsts {
		dv := reflect.ValueOf(dst)
		if dv.Kind() != reflect.Ptr {
			return fmt.Errorf("destination %d is not a pointer", i)
		}

		sv := reflect.ValueOf(t.values[i])
		if !sv.Type().AssignableTo(dv.Elem().Type()) {
			return fmt.Errorf(
				"slot %d: cannot assign %s to %s",
				i, sv.Type(), dv.Elem().Type(),
			)
		}

		dv.Elem().Set(sv)
	}

	return nil
}

// Equal reports structural equality: same arity and deep-equal values at
// every slot.
func (t Tuple) Equal(other Tuple) bool {
	if len(t.values) != len(other.values) {
		return false
	}

	for i := range t.values {
		if !reflect.DeepEqual(t.values[i], other.values[i]) {
			return false
		}
	}

	return true
}

// WireEncode serializes the tuple using registry to resolve each slot's
// type-id. The output is a simple
// length-prefixed id/value stream; concrete byte encoding of each value is
// left to the caller's Encode function, since the core treats serialization
// as an external collaborator's concern.
func (t Tuple) WireEncode(registry *TypeRegistry, encode func(v any) ([]byte, error)) ([]WireValue, error) {
	out := make([]WireValue, len(t.values))

	for i, v := range t.values {
		id, ok := registry.IDOf(v)
		if !ok {
			return nil, fmt.Errorf(
				"%w: type %T not registered",
				ErrNoMatchingHandler, v,
			)
		}

		bytes, err := encode(v)
		if err != nil {
			return nil, err
		}

		out[i] = WireValue{TypeID: id, Bytes: bytes}
	}

	return out, nil
}

// WireValue is a single registry-tagged, encoded slot within a serialized
// Tuple.
type WireValue struct {
	TypeID uint32
	Bytes  []byte
}
