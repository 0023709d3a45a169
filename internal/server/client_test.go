package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qnahub/go-qna/internal/types"
)

func TestRouteJoin(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	c := newTestClient(t, qs, types.User{Id: 7})

	msg := &ClientMessage{Join: &JoinRoomAction{RoomCode: "abc123"}, client: c}
	c.route(msg)

	require.Equal(t, 1, len(qs.joinChan))
	assert.Equal(t, msg, <-qs.joinChan)
}

func TestRouteActionBoundRoom(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	r := newRoom(qs, 1, "abc123")
	c := newTestClient(t, qs, types.User{Id: 7})
	c.setRoom(r)

	msg := &ClientMessage{Vote: &VoteAction{QuestionId: 42, RoomCode: "abc123"}, client: c}
	c.route(msg)

	require.Equal(t, 1, len(r.actionChan))
	assert.Equal(t, msg, <-r.actionChan)
	assertNoMessage(t, c)
}

func TestRouteActionUnboundRoom(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	r := newRoom(qs, 1, "abc123")
	c := newTestClient(t, qs, types.User{Id: 7})
	c.setRoom(r)

	tests := []struct {
		name      string
		msg       *ClientMessage
		wantEvent string
	}{
		{
			name:      "post to other room",
			msg:       &ClientMessage{Message: &PostAction{Content: "q", RoomCode: "other"}},
			wantEvent: EventMessageError,
		},
		{
			name:      "vote in other room",
			msg:       &ClientMessage{Vote: &VoteAction{QuestionId: 1, RoomCode: "other"}},
			wantEvent: EventVoteError,
		},
		{
			name:      "mark answered in other room",
			msg:       &ClientMessage{MarkAnswered: &MarkAnsweredAction{QuestionId: 1, RoomCode: "other"}},
			wantEvent: EventMarkAnsweredError,
		},
		{
			name:      "end session of other room",
			msg:       &ClientMessage{EndSession: &EndSessionAction{RoomCode: "other"}},
			wantEvent: EventSessionEndError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.msg.client = c
			c.route(tc.msg)

			assert.Zero(t, len(r.actionChan))
			out := receiveMessage(t, c)
			assert.Equal(t, tc.wantEvent, out.Event)
			payload, ok := out.Data.(ErrorPayload)
			require.True(t, ok)
			assert.Equal(t, "Room not found", payload.Error)
		})
	}
}

func TestRouteLeaveUnbound(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	c := newTestClient(t, qs, types.User{Id: 7})

	c.route(&ClientMessage{
		BaseMessage: BaseMessage{Id: 4},
		Leave:       &LeaveRoomAction{RoomCode: "abc123"},
		client:      c,
	})

	// Leaving a room the connection is not in still gets an ack.
	out := receiveMessage(t, c)
	assert.Equal(t, EventLeaveRoomSuccess, out.Event)
	assert.Equal(t, 4, out.Id)
	assert.Equal(t, LeaveRoomSuccessPayload{RoomId: "abc123"}, out.Data)
}

func TestRouteNoAction(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	c := newTestClient(t, qs, types.User{Id: 7})

	c.route(&ClientMessage{BaseMessage: BaseMessage{Id: 1}, client: c})

	out := receiveMessage(t, c)
	assert.Equal(t, EventMessageError, out.Event)
	assert.Equal(t, ErrorPayload{Error: "invalid message format"}, out.Data)
}

func TestClearRoomIf(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	old := newRoom(qs, 1, "old123")
	current := newRoom(qs, 2, "new456")
	c := newTestClient(t, qs, types.User{Id: 7})

	c.setRoom(current)
	c.clearRoomIf(old)
	assert.Equal(t, current, c.boundRoom(), "stale clear must not clobber the newer binding")

	c.clearRoomIf(current)
	assert.Nil(t, c.boundRoom())
}

func TestCleanup(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	r := newRoom(qs, 1, "abc123")
	c := newTestClient(t, qs, types.User{Id: 7})
	c.setRoom(r)

	done := make(chan struct{})
	go func() {
		c.cleanup()
		close(done)
	}()

	select {
	case leave := <-r.leaveChan:
		assert.Equal(t, "abc123", leave.Leave.RoomCode)
		assert.Equal(t, 7, leave.Leave.UserId)
	case <-time.After(time.Second):
		t.Fatal("expected an implicit leave for the bound room")
	}

	select {
	case dereg := <-qs.deRegisterChan:
		assert.Equal(t, c, dereg)
	case <-time.After(time.Second):
		t.Fatal("expected the client to deregister")
	}

	<-done
	select {
	case <-c.stop:
	default:
		t.Fatal("expected the client to be stopped")
	}
}

func TestQueueMessageFullChannel(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	c := newTestClient(t, qs, types.User{Id: 7})

	for i := 0; i < cap(c.send); i++ {
		require.True(t, c.queueMessage(NewLeaveRoomSuccessMsg(i, "abc123")))
	}

	assert.False(t, c.queueMessage(NewLeaveRoomSuccessMsg(0, "abc123")))
}
