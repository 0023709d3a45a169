package server

import (
	"time"

	"github.com/qnahub/go-qna/internal/types"
)

// Client-facing event names. The broadcast events share their names with
// the fan-out event kinds in the presence package; the acks below are
// only ever delivered to the originating connection.
const (
	EventNewMessage       = "newMessage"
	EventVoteUpdated      = "voteUpdated"
	EventQuestionAnswered = "questionAnswered"
	EventUserJoined       = "userJoined"
	EventUserLeft         = "userLeft"
	EventSessionEnded     = "sessionEnded"

	EventJoinRoomSuccess  = "joinRoomSuccess"
	EventLeaveRoomSuccess = "leaveRoomSuccess"

	EventJoinRoomError     = "joinRoomError"
	EventMessageError      = "messageError"
	EventVoteError         = "voteError"
	EventMarkAnsweredError = "markAsAnsweredError"
	EventSessionEndError   = "sessionEndError"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound action envelope. Exactly one action field
// is set per message. UserId is filled from the authenticated connection,
// never trusted from the payload.
type ClientMessage struct {
	BaseMessage
	Join         *JoinRoomAction     `json:"joinRoom,omitempty"`
	Leave        *LeaveRoomAction    `json:"leaveRoom,omitempty"`
	Message      *PostAction         `json:"message,omitempty"`
	Vote         *VoteAction         `json:"vote,omitempty"`
	MarkAnswered *MarkAnsweredAction `json:"markAsAnswered,omitempty"`
	EndSession   *EndSessionAction   `json:"endSession,omitempty"`
	UserId       int                 `json:"-"`
	client       *Client             `json:"-"`
}

func (m *ClientMessage) GetUserId() int {
	if m.UserId != 0 {
		return m.UserId
	}
	if m.client != nil {
		return m.client.user.Id
	}
	return 0
}

type JoinRoomAction struct {
	RoomCode string `json:"roomCode"`
	UserId   int    `json:"userId,omitempty"`
}

type LeaveRoomAction struct {
	RoomCode string `json:"roomCode"`
	UserId   int    `json:"userId,omitempty"`
}

type PostAction struct {
	Content  string `json:"content"`
	RoomCode string `json:"roomCode"`
	UserId   int    `json:"userId,omitempty"`
}

type VoteAction struct {
	QuestionId int    `json:"questionId"`
	RoomCode   string `json:"roomCode"`
	UserId     int    `json:"userId,omitempty"`
}

type MarkAnsweredAction struct {
	QuestionId int    `json:"questionId"`
	RoomCode   string `json:"roomCode"`
	UserId     int    `json:"userId,omitempty"`
}

type EndSessionAction struct {
	RoomCode string `json:"roomCode"`
	UserId   int    `json:"userId,omitempty"`
}

// ServerMessage is the outbound envelope: an event name plus its
// type-specific payload.
type ServerMessage struct {
	BaseMessage
	Event      string  `json:"event"`
	Data       any     `json:"data,omitempty"`
	SkipClient *Client `json:"-"`
}

type PresencePayload struct {
	User             types.Participant   `json:"user"`
	ParticipantCount int                 `json:"participantCount"`
	Participants     []types.Participant `json:"participants"`
}

type JoinRoomSuccessPayload struct {
	RoomId           string              `json:"roomId"`
	ParticipantCount int                 `json:"participantCount"`
	Participants     []types.Participant `json:"participants"`
}

type LeaveRoomSuccessPayload struct {
	RoomId string `json:"roomId"`
}

type VoteUpdatedPayload struct {
	QuestionId int    `json:"questionId"`
	UserId     int    `json:"userId"`
	VoteCount  int    `json:"voteCount"`
	HasVoted   bool   `json:"hasVoted"`
	Action     string `json:"action"`
}

const (
	VoteActionAdded   = "added"
	VoteActionRemoved = "removed"
)

type QuestionAnsweredPayload struct {
	QuestionId int            `json:"questionId"`
	IsAnswered bool           `json:"isAnswered"`
	Question   types.Question `json:"question"`
}

type SessionEndedPayload struct {
	RoomCode string            `json:"roomCode"`
	EndedBy  types.Participant `json:"endedBy"`
	Message  string            `json:"message"`
}

type JoinRoomErrorPayload struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func newEvent(id int, event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func NewUserJoinedMsg(user types.Participant, count int, participants []types.Participant) *ServerMessage {
	return newEvent(0, EventUserJoined, PresencePayload{
		User:             user,
		ParticipantCount: count,
		Participants:     participants,
	})
}

func NewUserLeftMsg(user types.Participant, count int, participants []types.Participant) *ServerMessage {
	return newEvent(0, EventUserLeft, PresencePayload{
		User:             user,
		ParticipantCount: count,
		Participants:     participants,
	})
}

func NewJoinRoomSuccessMsg(id int, roomCode string, count int, participants []types.Participant) *ServerMessage {
	return newEvent(id, EventJoinRoomSuccess, JoinRoomSuccessPayload{
		RoomId:           roomCode,
		ParticipantCount: count,
		Participants:     participants,
	})
}

func NewLeaveRoomSuccessMsg(id int, roomCode string) *ServerMessage {
	return newEvent(id, EventLeaveRoomSuccess, LeaveRoomSuccessPayload{RoomId: roomCode})
}

func NewQuestionMsg(q types.Question) *ServerMessage {
	return newEvent(0, EventNewMessage, q)
}

func NewVoteUpdatedMsg(p VoteUpdatedPayload) *ServerMessage {
	return newEvent(0, EventVoteUpdated, p)
}

func NewQuestionAnsweredMsg(q types.Question) *ServerMessage {
	return newEvent(0, EventQuestionAnswered, QuestionAnsweredPayload{
		QuestionId: q.Id,
		IsAnswered: q.IsAnswered,
		Question:   q,
	})
}

func NewSessionEndedMsg(roomCode string, endedBy types.Participant) *ServerMessage {
	return newEvent(0, EventSessionEnded, SessionEndedPayload{
		RoomCode: roomCode,
		EndedBy:  endedBy,
		Message:  "Session ended by " + endedBy.FirstName + " " + endedBy.LastName,
	})
}

func ErrJoinRoom(id int, message string) *ServerMessage {
	return newEvent(id, EventJoinRoomError, JoinRoomErrorPayload{Message: message})
}

func ErrMessage(id int, errMsg, details string) *ServerMessage {
	return newEvent(id, EventMessageError, ErrorPayload{Error: errMsg, Details: details})
}

func ErrVote(id int, errMsg, details string) *ServerMessage {
	return newEvent(id, EventVoteError, ErrorPayload{Error: errMsg, Details: details})
}

func ErrMarkAnswered(id int, errMsg, details string) *ServerMessage {
	return newEvent(id, EventMarkAnsweredError, ErrorPayload{Error: errMsg, Details: details})
}

func ErrSessionEnd(id int, errMsg, details string) *ServerMessage {
	return newEvent(id, EventSessionEndError, ErrorPayload{Error: errMsg, Details: details})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
