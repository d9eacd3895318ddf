package actor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// NodeID identifies a single actor-system process on the wire. Using a random UUID rather than a sequential id avoids collisions when
// independently started nodes rendezvous over a shared transport.
type NodeID uuid.UUID

// NewNodeID generates a fresh random node identity.
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// String implements fmt.Stringer.
func (n NodeID) String() string {
	return uuid.UUID(n).String()
}

// WireAddress identifies a remote actor for the purposes of the external
// wire format: a node id plus a locally-scoped actor id.
type WireAddress struct {
	Node    NodeID
	ActorID string
}

// String renders the address as "node/actor-id".
func (a WireAddress) String() string {
	return fmt.Sprintf("%s/%s", a.Node, a.ActorID)
}

// WireEnvelope is the serialized form of a dynEnvelope that crosses a
// transport boundary: sender/recipient addresses, the
// correlation id, priority, and the payload's registry-tagged wire values.
// Concrete byte-level framing and the actual transport are left to an
// external collaborator package;
// this type is the stable contract such a package serializes against.
type WireEnvelope struct {
	Sender        WireAddress
	Recipient     WireAddress
	CorrelationID CorrelationID
	Priority      Priority
	TypeID        uint32
	TypeName      string
	Values        []WireValue

	// SenderIncarnation distinguishes successive actors reusing the same
	// id on the sender node, so a stale response cannot be routed to a
	// reincarnated requester.
	SenderIncarnation uint64
}

// wireByteOrder is the fixed endianness of the envelope header.
var wireByteOrder = binary.LittleEndian

// writeLString appends a 16-bit length-prefixed string to buf.
func writeLString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("wire string too long: %d bytes", len(s))
	}

	var l [2]byte
	wireByteOrder.PutUint16(l[:], uint16(len(s)))
	buf.Write(l[:])
	buf.WriteString(s)

	return nil
}

// readLString consumes a 16-bit length-prefixed string from r.
func readLString(r *bytes.Reader) (string, error) {
	var l [2]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return "", err
	}

	b := make([]byte, wireByteOrder.Uint16(l[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}

	return string(b), nil
}

// writeAddress appends addr's fixed 16-byte node id and length-prefixed
// actor id to buf.
func writeAddress(buf *bytes.Buffer, addr WireAddress) error {
	buf.Write(addr.Node[:])
	return writeLString(buf, addr.ActorID)
}

// readAddress consumes one address from r.
func readAddress(r *bytes.Reader) (WireAddress, error) {
	var addr WireAddress
	if _, err := io.ReadFull(r, addr.Node[:]); err != nil {
		return WireAddress{}, err
	}

	actorID, err := readLString(r)
	if err != nil {
		return WireAddress{}, err
	}
	addr.ActorID = actorID

	return addr, nil
}

// MarshalBinary serializes the envelope in the fixed little-endian header
// layout: payload type id, correlation id, priority, sender
// address and incarnation, target address, payload type name, value count,
// then the registry-tagged payload values. Length prefixing of the whole
// envelope is the transport's job.
func (e WireEnvelope) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	var header [13]byte
	wireByteOrder.PutUint32(header[0:4], e.TypeID)
	wireByteOrder.PutUint64(header[4:12], uint64(e.CorrelationID))
	header[12] = byte(e.Priority)
	buf.Write(header[:])

	if err := writeAddress(&buf, e.Sender); err != nil {
		return nil, err
	}

	var inc [8]byte
	wireByteOrder.PutUint64(inc[:], e.SenderIncarnation)
	buf.Write(inc[:])

	if err := writeAddress(&buf, e.Recipient); err != nil {
		return nil, err
	}

	if err := writeLString(&buf, e.TypeName); err != nil {
		return nil, err
	}

	var count [4]byte
	wireByteOrder.PutUint32(count[:], uint32(len(e.Values)))
	buf.Write(count[:])

	for _, v := range e.Values {
		var vh [8]byte
		wireByteOrder.PutUint32(vh[0:4], v.TypeID)
		wireByteOrder.PutUint32(vh[4:8], uint32(len(v.Bytes)))
		buf.Write(vh[:])
		buf.Write(v.Bytes)
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary parses the layout written by MarshalBinary. A truncated
// or malformed buffer is reported as a serialization-category error.
func (e *WireEnvelope) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	fail := func(err error) error {
		return NewCoreError(CategorySerialization, "malformed_envelope", err)
	}

	var header [13]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fail(err)
	}
	e.TypeID = wireByteOrder.Uint32(header[0:4])
	e.CorrelationID = CorrelationID(wireByteOrder.Uint64(header[4:12]))
	e.Priority = Priority(header[12])

	sender, err := readAddress(r)
	if err != nil {
		return fail(err)
	}
	e.Sender = sender

	var inc [8]byte
	if _, err := io.ReadFull(r, inc[:]); err != nil {
		return fail(err)
	}
	e.SenderIncarnation = wireByteOrder.Uint64(inc[:])

	recipient, err := readAddress(r)
	if err != nil {
		return fail(err)
	}
	e.Recipient = recipient

	typeName, err := readLString(r)
	if err != nil {
		return fail(err)
	}
	e.TypeName = typeName

	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return fail(err)
	}
	n := wireByteOrder.Uint32(count[:])
	if int(n) > r.Len() {
		return fail(fmt.Errorf("value count %d exceeds remaining bytes", n))
	}

	e.Values = make([]WireValue, 0, n)
	for i := uint32(0); i < n; i++ {
		var vh [8]byte
		if _, err := io.ReadFull(r, vh[:]); err != nil {
			return fail(err)
		}

		size := wireByteOrder.Uint32(vh[4:8])
		if int(size) > r.Len() {
			return fail(fmt.Errorf("value %d length %d exceeds remaining bytes", i, size))
		}

		b := make([]byte, size)
		if _, err := io.ReadFull(r, b); err != nil {
			return fail(err)
		}

		e.Values = append(e.Values, WireValue{
			TypeID: wireByteOrder.Uint32(vh[0:4]),
			Bytes:  b,
		})
	}

	return nil
}

// EncodeEnvelope builds a WireEnvelope for a single Message payload,
// resolving its type id via registry and encoding its fields with encode.
// Returns an error if the payload's concrete type was never registered:
// an unregistered type at the wire boundary is a serialization failure.
func EncodeEnvelope(registry *TypeRegistry, sender, recipient WireAddress,
	correlationID CorrelationID, priority Priority, payload Tuple,
	encode func(v any) ([]byte, error),
) (WireEnvelope, error) {
	values, err := payload.WireEncode(registry, encode)
	if err != nil {
		return WireEnvelope{}, fmt.Errorf(
			"%w: %v", ErrNoMatchingHandler, err,
		)
	}

	var typeID uint32
	var typeName string
	if payload.Arity() > 0 {
		if id, ok := registry.IDOf(payload.At(0)); ok {
			typeID = id
			typeName, _ = registry.NameOf(id)
		}
	}

	return WireEnvelope{
		Sender:        sender,
		Recipient:     recipient,
		CorrelationID: correlationID,
		Priority:      priority,
		TypeID:        typeID,
		TypeName:      typeName,
		Values:        values,
	}, nil
}

// DecodeValue resolves a single WireValue back to its registered
// reflect.Type and hands the raw bytes to decode for the caller to build a
// concrete instance. The registry round trip
// is validated here by rejecting an unknown type id outright rather than
// producing a zero-value guess.
func DecodeValue(registry *TypeRegistry, v WireValue,
	decode func(typeName string, bytes []byte) (any, error),
) (any, error) {
	name, ok := registry.NameOf(v.TypeID)
	if !ok {
		return nil, fmt.Errorf(
			"%w: unregistered wire type id %d", ErrNoMatchingHandler, v.TypeID,
		)
	}

	return decode(name, v.Bytes)
}
