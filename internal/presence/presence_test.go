package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/qnahub/go-qna/internal/testutil"
	"github.com/qnahub/go-qna/internal/types"
	"github.com/stretchr/testify/assert"
)

func newTestClient(t *testing.T, originId string) *Client {
	return &Client{
		log:      testutil.TestLogger(t),
		originId: originId,
		handlers: make(map[EventKind]HandlerFunc),
		done:     make(chan struct{}),
	}
}

func marshalEvent(t *testing.T, ev Event) []byte {
	body, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

func Test_dispatch(t *testing.T) {
	t.Run("invokes handler for remote event", func(t *testing.T) {
		c := newTestClient(t, "proc-a")

		var got Event
		c.Handle(EventUserJoined, func(ev Event) {
			got = ev
		})

		body := marshalEvent(t, Event{
			Kind:      EventUserJoined,
			RoomCode:  "ABC123",
			Data:      json.RawMessage(`{"participantCount":1}`),
			OriginId:  "proc-b",
			Timestamp: time.Now().UnixMilli(),
		})

		c.dispatch("room:ABC123", body)
		assert.Equal(t, EventUserJoined, got.Kind, "expected handler to receive the event")
		assert.Equal(t, "ABC123", got.RoomCode, "expected room code to be parsed")
		assert.JSONEq(t, `{"participantCount":1}`, string(got.Data), "expected payload to be passed through")
	})

	t.Run("suppresses self echo", func(t *testing.T) {
		c := newTestClient(t, "proc-a")

		invoked := false
		c.Handle(EventNewMessage, func(ev Event) {
			invoked = true
		})

		body := marshalEvent(t, Event{
			Kind:     EventNewMessage,
			RoomCode: "ABC123",
			OriginId: "proc-a",
		})

		c.dispatch("room:ABC123", body)
		assert.False(t, invoked, "expected handler not to be invoked for self-originated event")
	})

	t.Run("ignores unknown event kind", func(t *testing.T) {
		c := newTestClient(t, "proc-a")

		invoked := false
		c.Handle(EventNewMessage, func(ev Event) {
			invoked = true
		})

		body := marshalEvent(t, Event{
			Kind:     EventKind("somethingElse"),
			RoomCode: "ABC123",
			OriginId: "proc-b",
		})

		c.dispatch("room:ABC123", body)
		assert.False(t, invoked, "expected unregistered event kind to be ignored")
	})

	t.Run("ignores malformed payload", func(t *testing.T) {
		c := newTestClient(t, "proc-a")

		invoked := false
		c.Handle(EventNewMessage, func(ev Event) {
			invoked = true
		})

		c.dispatch("room:ABC123", []byte("not json"))
		assert.False(t, invoked, "expected malformed payload to be dropped")
	})
}

func Test_participantRecord(t *testing.T) {
	rec := participantRecord{
		Participant: types.Participant{
			Id:        7,
			FirstName: "Ada",
			LastName:  "Lovelace",
			AvatarUrl: "https://example.com/a.png",
		},
		OriginId: "proc-a",
		LastSeen: 1700000000000,
	}

	body, err := json.Marshal(rec)
	assert.NoError(t, err, "expected record to marshal")

	// Stored shape carries the bookkeeping fields flat alongside the
	// public participant fields.
	var stored map[string]any
	assert.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, "proc-a", stored["origin_id"], "expected origin id in stored record")
	assert.Equal(t, float64(1700000000000), stored["last_seen"], "expected last seen in stored record")
	assert.Equal(t, "Ada", stored["firstName"], "expected participant fields in stored record")

	var parsed participantRecord
	assert.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, rec.Participant, parsed.Participant, "expected public fields to round-trip")

	// The public projection must not leak bookkeeping fields.
	public, err := json.Marshal(parsed.Participant)
	assert.NoError(t, err)
	var publicMap map[string]any
	assert.NoError(t, json.Unmarshal(public, &publicMap))
	assert.NotContains(t, publicMap, "origin_id", "expected origin id to be stripped")
	assert.NotContains(t, publicMap, "last_seen", "expected last seen to be stripped")
}

func Test_keys(t *testing.T) {
	assert.Equal(t, "room:ABC123", roomChannel("ABC123"))
	assert.Equal(t, "room:ABC123:participants", participantsKey("ABC123"))
}
