package actor

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWireEnvelopeBinaryRoundTrip serializes a fully populated envelope and
// parses it back, checking field-for-field equality and the fixed
// little-endian header layout.
func TestWireEnvelopeBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	env := WireEnvelope{
		Sender: WireAddress{
			Node:    NewNodeID(),
			ActorID: "requester-7",
		},
		Recipient: WireAddress{
			Node:    NewNodeID(),
			ActorID: "adder",
		},
		CorrelationID:     CorrelationID(42).AsResponse(),
		Priority:          PriorityUrgent,
		TypeID:            9,
		TypeName:          "pair.int.int",
		SenderIncarnation: 3,
		Values: []WireValue{
			{TypeID: 4, Bytes: []byte{1, 0, 0, 0}},
			{TypeID: 4, Bytes: []byte{2, 0, 0, 0}},
			{TypeID: 5, Bytes: nil},
		},
	}

	data, err := env.MarshalBinary()
	require.NoError(t, err)

	// Header prefix: payload type id, correlation id, priority byte, all
	// little-endian.
	require.EqualValues(t, 9, binary.LittleEndian.Uint32(data[0:4]))
	require.EqualValues(t, uint64(env.CorrelationID),
		binary.LittleEndian.Uint64(data[4:12]))
	require.EqualValues(t, 1, data[12])

	var decoded WireEnvelope
	require.NoError(t, decoded.UnmarshalBinary(data))

	require.Equal(t, env.Sender, decoded.Sender)
	require.Equal(t, env.Recipient, decoded.Recipient)
	require.Equal(t, env.CorrelationID, decoded.CorrelationID)
	require.True(t, decoded.CorrelationID.IsResponse())
	require.Equal(t, env.Priority, decoded.Priority)
	require.Equal(t, env.TypeID, decoded.TypeID)
	require.Equal(t, env.TypeName, decoded.TypeName)
	require.Equal(t, env.SenderIncarnation, decoded.SenderIncarnation)
	require.Len(t, decoded.Values, 3)
	require.Equal(t, env.Values[0], decoded.Values[0])
	require.Equal(t, env.Values[1], decoded.Values[1])
	require.Equal(t, env.Values[2].TypeID, decoded.Values[2].TypeID)
	require.Empty(t, decoded.Values[2].Bytes)
}

// TestWireEnvelopeUnmarshalTruncated verifies a cut-off buffer surfaces as a
// serialization-category error rather than a partial envelope.
func TestWireEnvelopeUnmarshalTruncated(t *testing.T) {
	t.Parallel()

	env := WireEnvelope{
		Sender:    WireAddress{Node: NewNodeID(), ActorID: "a"},
		Recipient: WireAddress{Node: NewNodeID(), ActorID: "b"},
		TypeName:  "x",
		Values:    []WireValue{{TypeID: 1, Bytes: []byte{1, 2, 3}}},
	}

	data, err := env.MarshalBinary()
	require.NoError(t, err)

	for _, cut := range []int{5, 20, len(data) - 1} {
		var decoded WireEnvelope
		err := decoded.UnmarshalBinary(data[:cut])
		require.Error(t, err)

		var coreErr *CoreError
		require.ErrorAs(t, err, &coreErr)
		require.Equal(t, CategorySerialization, coreErr.Category)
	}
}

// TestTupleWireEncodeRoundTripsThroughEnvelope exercises the registry-keyed
// round trip end to end: encode a tuple into an envelope, move it
// through the binary layer, and decode each value back via the registry.
func TestTupleWireEncodeRoundTripsThroughEnvelope(t *testing.T) {
	t.Parallel()

	registry := NewTypeRegistry()
	registry.Register("int", int(0))
	registry.Register("string", "")

	payload := NewTuple(7, "seven")

	env, err := EncodeEnvelope(
		registry,
		WireAddress{Node: NewNodeID(), ActorID: "sender"},
		WireAddress{Node: NewNodeID(), ActorID: "recipient"},
		CorrelationID(1), PriorityNormal, payload,
		func(v any) ([]byte, error) { return json.Marshal(v) },
	)
	require.NoError(t, err)

	data, err := env.MarshalBinary()
	require.NoError(t, err)

	var decoded WireEnvelope
	require.NoError(t, decoded.UnmarshalBinary(data))

	decode := func(typeName string, b []byte) (any, error) {
		switch typeName {
		case "int":
			var v int
			err := json.Unmarshal(b, &v)
			return v, err
		default:
			var v string
			err := json.Unmarshal(b, &v)
			return v, err
		}
	}

	first, err := DecodeValue(registry, decoded.Values[0], decode)
	require.NoError(t, err)
	require.Equal(t, 7, first)

	second, err := DecodeValue(registry, decoded.Values[1], decode)
	require.NoError(t, err)
	require.Equal(t, "seven", second)

	// An id the registry never issued is rejected outright.
	_, err = DecodeValue(registry, WireValue{TypeID: 99}, decode)
	require.Error(t, err)
}
