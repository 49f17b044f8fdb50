package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"PPRealtime/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivateTextEnvelopeWireShape(t *testing.T) {
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(SendPrivate, Payload{Sender: "A", Receiver: "B", Content: "hi", Timestamp: at, CorrelationID: "c-1"})
	require.NoError(t, err)

	raw, err := env.Marshal()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, map[string]any{
		"senderUname":   "A",
		"receiverUname": "B",
		"timestamp":     "2024-01-01T10:00:00.000Z",
		"mediaType":     "TEXT",
		"content":       "hi",
		"fileUrl":       nil,
		"fileName":      nil,
		"correlationId": "c-1",
	}, got)
}

func TestFileEnvelopeInfersMediaAndDropsContent(t *testing.T) {
	env, err := NewEnvelope(SendGroup, Payload{Sender: "A", Group: "g1", Receiver: "ignored", FileURL: "https://f/x.png", FileName: "x.png", Content: "stale"})
	require.NoError(t, err)

	p := env.Payload()
	assert.Equal(t, MediaFile, p.MediaType)
	assert.Empty(t, p.Content)
	assert.Empty(t, p.Receiver)
	assert.NotEmpty(t, p.CorrelationID)
	assert.False(t, p.Timestamp.IsZero())
	assert.Equal(t, SendGroup, env.Destination())
}

func TestEnvelopeValidation(t *testing.T) {
	cases := []struct {
		name string
		dest Destination
		p    Payload
	}{
		{"no sender", SendPrivate, Payload{Receiver: "B", Content: "x"}},
		{"no receiver", SendPrivate, Payload{Sender: "A", Content: "x"}},
		{"no group", SendGroup, Payload{Sender: "A", Content: "x"}},
		{"bad dest", Destination("/app/nope"), Payload{Sender: "A", Receiver: "B", Content: "x"}},
		{"empty text", SendPrivate, Payload{Sender: "A", Receiver: "B"}},
		{"file without name", SendPrivate, Payload{Sender: "A", Receiver: "B", MediaType: MediaFile, FileURL: "u"}},
		{"unknown media", SendPrivate, Payload{Sender: "A", Receiver: "B", MediaType: "VIDEO", Content: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEnvelope(tc.dest, tc.p)
			assert.True(t, errors.Is(err, errs.ErrInvalidEnvelope), "got %v", err)
		})
	}
}

func TestZeroEnvelopeDoesNotMarshal(t *testing.T) {
	_, err := Envelope{}.Marshal()
	assert.Error(t, err)
}

func TestConfirmedEnvelopeCarriesServerID(t *testing.T) {
	env, err := NewEnvelope(SendGroup, Payload{Sender: "A", Group: "devs", Content: "x", ID: "101"})
	require.NoError(t, err)
	body, err := env.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"id":"101"`)

	m, err := DecodeMessage(GroupChannel("devs"), body)
	require.NoError(t, err)
	assert.Equal(t, "101", m.ID)
	assert.Equal(t, env.Payload().CorrelationID, m.CorrelationID)
}
