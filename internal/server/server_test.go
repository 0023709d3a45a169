package server

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/qnahub/go-qna/internal/database"
	"github.com/qnahub/go-qna/internal/presence"
	"github.com/qnahub/go-qna/internal/types"
)

func TestNewQnaServer(t *testing.T) {
	qs, _, ps, sp := newTestServer(t)

	require.NotNil(t, qs)
	assert.NotNil(t, qs.joinChan)
	assert.NotNil(t, qs.rooms)

	sp.AssertNumberOfCalls(t, "RegisterMetric", 6)
	ps.AssertNumberOfCalls(t, "Handle", 6)
}

func TestHandleJoinRequestLoadsRoom(t *testing.T) {
	qs, db, ps, _ := newTestServer(t)

	db.On("GetRoomByCode", "abc123").Return(database.Room{Id: 1, Code: "abc123", AdminId: 7, IsActive: true}, nil)
	db.On("GetAccountById", 7).Return(database.User{Id: 7, FirstName: "Alice"}, nil)
	db.On("AddRoomParticipant", 1, 7).Return(nil)
	ps.On("AddParticipant", mock.Anything, "abc123", mock.Anything).Return(nil)
	ps.On("ListParticipants", mock.Anything, "abc123").Return([]types.Participant{{Id: 7, FirstName: "Alice"}}, nil)
	ps.On("CountParticipants", mock.Anything, "abc123").Return(1, nil)

	c := newTestClient(t, qs, types.User{Id: 7, FirstName: "Alice"})
	qs.handleJoinRequest(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &JoinRoomAction{RoomCode: "abc123"},
		UserId:      7,
		client:      c,
	})

	room, ok := qs.rooms["abc123"]
	require.True(t, ok, "expected a local actor for the room")
	assert.Equal(t, 1, room.id)

	// The actor goroutine processes the forwarded join.
	joined := receiveMessage(t, c)
	assert.Equal(t, EventUserJoined, joined.Event)
	ack := receiveMessage(t, c)
	assert.Equal(t, EventJoinRoomSuccess, ack.Event)
}

func TestHandleJoinRequestRoomNotFound(t *testing.T) {
	qs, db, _, _ := newTestServer(t)

	db.On("GetRoomByCode", "nope").Return(database.Room{}, sql.ErrNoRows)

	c := newTestClient(t, qs, types.User{Id: 7})
	qs.handleJoinRequest(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Join:        &JoinRoomAction{RoomCode: "nope"},
		UserId:      7,
		client:      c,
	})

	msg := receiveMessage(t, c)
	assert.Equal(t, EventJoinRoomError, msg.Event)
	assert.Equal(t, JoinRoomErrorPayload{Message: "Room not found or inactive"}, msg.Data)
	assert.Empty(t, qs.rooms)
}

func TestHandleJoinRequestEndedRoom(t *testing.T) {
	qs, db, _, _ := newTestServer(t)

	db.On("GetRoomByCode", "abc123").Return(database.Room{Id: 1, Code: "abc123", IsActive: true, IsEnded: true}, nil)

	c := newTestClient(t, qs, types.User{Id: 7})
	qs.handleJoinRequest(&ClientMessage{
		Join:   &JoinRoomAction{RoomCode: "abc123"},
		UserId: 7,
		client: c,
	})

	msg := receiveMessage(t, c)
	assert.Equal(t, EventJoinRoomError, msg.Event)
	assert.Empty(t, qs.rooms)
}

func TestHandleJoinRequestMissingCode(t *testing.T) {
	qs, db, _, _ := newTestServer(t)

	c := newTestClient(t, qs, types.User{Id: 7})
	qs.handleJoinRequest(&ClientMessage{
		Join:   &JoinRoomAction{},
		UserId: 7,
		client: c,
	})

	msg := receiveMessage(t, c)
	assert.Equal(t, EventJoinRoomError, msg.Event)
	assert.Equal(t, JoinRoomErrorPayload{Message: "roomCode is required"}, msg.Data)
	db.AssertNotCalled(t, "GetRoomByCode", mock.Anything)
}

func TestHandleJoinRequestSupersedesBinding(t *testing.T) {
	qs, db, ps, _ := newTestServer(t)

	prev := newRoom(qs, 1, "old123")
	qs.rooms[prev.code] = prev

	db.On("GetRoomByCode", "new456").Return(database.Room{Id: 2, Code: "new456", IsActive: true}, nil)
	db.On("GetAccountById", 7).Return(database.User{Id: 7}, nil)
	db.On("AddRoomParticipant", 2, 7).Return(nil)
	ps.On("AddParticipant", mock.Anything, "new456", mock.Anything).Return(nil)
	ps.On("ListParticipants", mock.Anything, "new456").Return([]types.Participant{{Id: 7}}, nil)
	ps.On("CountParticipants", mock.Anything, "new456").Return(1, nil)

	c := newTestClient(t, qs, types.User{Id: 7})
	c.setRoom(prev)

	qs.handleJoinRequest(&ClientMessage{
		Join:   &JoinRoomAction{RoomCode: "new456"},
		UserId: 7,
		client: c,
	})

	require.Equal(t, 1, len(prev.leaveChan), "expected an implicit leave for the old room")
	leave := <-prev.leaveChan
	assert.Equal(t, "old123", leave.Leave.RoomCode)
	assert.Equal(t, 7, leave.Leave.UserId)
}

func TestUnloadRoom(t *testing.T) {
	qs, _, _, _ := newTestServer(t)

	r := newRoom(qs, 1, "abc123")
	qs.rooms[r.code] = r
	go r.run()

	qs.unloadRoom(unloadRoomRequest{code: "abc123"})

	assert.Empty(t, qs.rooms)
}

func TestUnloadRoomSkippedWhenOccupied(t *testing.T) {
	qs, _, _, _ := newTestServer(t)

	r := newRoom(qs, 1, "abc123")
	qs.rooms[r.code] = r
	c := newTestClient(t, qs, types.User{Id: 7})
	r.addClient(c)

	qs.unloadRoom(unloadRoomRequest{code: "abc123"})

	_, ok := qs.rooms["abc123"]
	assert.True(t, ok, "occupied room must stay loaded")
}

func TestRouteRemote(t *testing.T) {
	qs, _, _, sp := newTestServer(t)

	r := newRoom(qs, 1, "abc123")
	qs.rooms[r.code] = r

	ev := presence.Event{Kind: presence.EventVoteUpdated, RoomCode: "abc123", OriginId: "proc-other-1"}
	qs.routeRemote(ev)

	require.Equal(t, 1, len(r.remoteChan))
	assert.Equal(t, ev, <-r.remoteChan)
	sp.AssertCalled(t, "Incr", MetricEventsReceived)

	// Events for rooms with no local actor are dropped.
	qs.routeRemote(presence.Event{Kind: presence.EventVoteUpdated, RoomCode: "elsewhere"})
	assert.Zero(t, len(r.remoteChan))
}

func TestPublishLoop(t *testing.T) {
	qs, _, ps, sp := newTestServer(t)

	payload := VoteUpdatedPayload{QuestionId: 42, VoteCount: 1}
	ps.On("PublishEvent", mock.Anything, "abc123", presence.EventVoteUpdated, payload).Return()

	go qs.publishLoop()
	defer close(qs.done)

	qs.publish("abc123", presence.EventVoteUpdated, payload)

	assert.Eventually(t, func() bool {
		return len(qs.publishChan) == 0
	}, time.Second, time.Millisecond)
	ps.AssertCalled(t, "PublishEvent", mock.Anything, "abc123", presence.EventVoteUpdated, payload)
	sp.AssertCalled(t, "Incr", MetricEventsPublished)
}

func TestRegisterAndDeregister(t *testing.T) {
	qs, _, _, sp := newTestServer(t)
	go qs.Run()
	defer qs.Shutdown(context.Background())

	c := newTestClient(t, qs, types.User{Id: 7})
	qs.RegisterChan <- c

	assert.Eventually(t, func() bool {
		return qs.numClients() == 1
	}, time.Second, time.Millisecond)
	sp.AssertCalled(t, "Incr", MetricActiveConnections)

	qs.deRegisterChan <- c
	assert.Eventually(t, func() bool {
		return qs.numClients() == 0
	}, time.Second, time.Millisecond)
	sp.AssertCalled(t, "Decr", MetricActiveConnections)
}

func TestShutdown(t *testing.T) {
	qs, _, _, _ := newTestServer(t)
	go qs.Run()

	r := newRoom(qs, 1, "abc123")
	qs.rooms[r.code] = r
	go r.run()

	c := newTestClient(t, qs, types.User{Id: 7})
	qs.RegisterChan <- c

	require.NoError(t, qs.Shutdown(context.Background()))
	assert.Empty(t, qs.rooms)

	select {
	case <-c.stop:
	default:
		t.Fatal("expected client to be stopped on shutdown")
	}
}

func TestShutdownContextExpired(t *testing.T) {
	qs, _, _, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run is not started, so the stop request cannot be delivered.
	assert.ErrorIs(t, qs.Shutdown(ctx), context.Canceled)
}
