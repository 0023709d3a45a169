package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnahub/go-qna/internal/types"
)

func TestClientMessageGetUserId(t *testing.T) {
	msg := &ClientMessage{UserId: 7}
	assert.Equal(t, 7, msg.GetUserId())

	msg = &ClientMessage{client: &Client{user: types.User{Id: 8}}}
	assert.Equal(t, 8, msg.GetUserId())

	msg = &ClientMessage{}
	assert.Zero(t, msg.GetUserId())
}

func TestClientMessageUnmarshal(t *testing.T) {
	raw := []byte(`{"id":3,"vote":{"questionId":42,"roomCode":"abc123"}}`)

	var msg ClientMessage
	require.NoError(t, json.Unmarshal(raw, &msg))

	assert.Equal(t, 3, msg.Id)
	require.NotNil(t, msg.Vote)
	assert.Equal(t, 42, msg.Vote.QuestionId)
	assert.Equal(t, "abc123", msg.Vote.RoomCode)
	assert.Nil(t, msg.Join)
	assert.Nil(t, msg.Message)
}

func TestServerMessageSerialization(t *testing.T) {
	msg := NewVoteUpdatedMsg(VoteUpdatedPayload{
		QuestionId: 42,
		UserId:     7,
		VoteCount:  3,
		HasVoted:   true,
		Action:     VoteActionAdded,
	})

	raw, err := serializeMessage(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "voteUpdated", decoded["event"])
	assert.NotEmpty(t, decoded["timestamp"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), data["questionId"])
	assert.Equal(t, float64(3), data["voteCount"])
	assert.Equal(t, true, data["hasVoted"])
	assert.Equal(t, "added", data["action"])
}

func TestNewSessionEndedMsg(t *testing.T) {
	msg := NewSessionEndedMsg("abc123", types.Participant{Id: 7, FirstName: "Alice", LastName: "Smith"})

	assert.Equal(t, EventSessionEnded, msg.Event)
	payload, ok := msg.Data.(SessionEndedPayload)
	require.True(t, ok)
	assert.Equal(t, "abc123", payload.RoomCode)
	assert.Equal(t, "Session ended by Alice Smith", payload.Message)
}

func TestErrorMessages(t *testing.T) {
	msg := ErrJoinRoom(5, "Room not found or inactive")
	assert.Equal(t, EventJoinRoomError, msg.Event)
	assert.Equal(t, 5, msg.Id)
	assert.Equal(t, JoinRoomErrorPayload{Message: "Room not found or inactive"}, msg.Data)

	msg = ErrVote(6, "Failed to process vote", "timeout")
	assert.Equal(t, EventVoteError, msg.Event)
	assert.Equal(t, ErrorPayload{Error: "Failed to process vote", Details: "timeout"}, msg.Data)

	raw, err := serializeMessage(ErrMessage(0, "invalid message format", ""))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "details", "empty details must be omitted")
}
