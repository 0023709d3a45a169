package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/qnahub/go-qna/internal/database"
	"github.com/qnahub/go-qna/internal/presence"
	"github.com/qnahub/go-qna/internal/types"
)

const (
	// presenceSweepInterval is how often a loaded room evicts stale
	// presence entries; presenceStaleAge is the cutoff applied.
	presenceSweepInterval = time.Minute
	presenceStaleAge      = 5 * time.Minute
)

type exitReq struct {
	// ended means the session was terminated and clients were already
	// notified; a plain unload just drops the idle local actor.
	ended bool
	done  chan string
}

// Room is the local actor for one loaded room. It serializes all joins,
// leaves and actions for the room on a single goroutine, which also
// serializes vote toggles per question on this process. The client set
// here is a per-process cache: participant counts and lists sent to
// clients always come from the presence store.
type Room struct {
	id         int
	code       string
	qs         *QnaServer
	joinChan   chan *ClientMessage
	leaveChan  chan *ClientMessage
	actionChan chan *ClientMessage
	remoteChan chan presence.Event
	clients    map[*Client]struct{}
	userMap    map[int]*Client
	clientLock sync.RWMutex
	log        *log.Logger
	exit       chan exitReq
}

func newRoom(qs *QnaServer, id int, code string) *Room {
	return &Room{
		id:         id,
		code:       code,
		qs:         qs,
		joinChan:   make(chan *ClientMessage, 256),
		leaveChan:  make(chan *ClientMessage, 256),
		actionChan: make(chan *ClientMessage, 256),
		remoteChan: make(chan presence.Event, 256),
		clients:    make(map[*Client]struct{}),
		userMap:    make(map[int]*Client),
		log:        qs.log,
		exit:       make(chan exitReq, 1),
	}
}

func (r *Room) run() {
	r.log.Printf("starting room %q", r.code)

	sweep := time.NewTicker(presenceSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case msg := <-r.joinChan:
			r.handleJoin(msg)
		case msg := <-r.leaveChan:
			r.handleLeave(msg)
		case msg := <-r.actionChan:
			r.handleAction(msg)
		case ev := <-r.remoteChan:
			r.handleRemote(ev)
		case <-sweep.C:
			r.handleSweep()
		case e := <-r.exit:
			r.handleExit(e)
			return
		}
	}
}

func (r *Room) handleAction(msg *ClientMessage) {
	switch {
	case msg.Message != nil:
		r.handlePostQuestion(msg)
	case msg.Vote != nil:
		r.handleVote(msg)
	case msg.MarkAnswered != nil:
		r.handleMarkAnswered(msg)
	case msg.EndSession != nil:
		r.handleEndSession(msg)
	}
}

func (r *Room) handleJoin(msg *ClientMessage) {
	c := msg.client
	userId := msg.GetUserId()

	// The room is re-validated against persistence on every join: this
	// actor can outlive the row when a remote sessionEnded never reaches
	// this process.
	room, err := r.qs.db.GetRoomByCode(r.code)
	if err != nil || !room.IsActive || room.IsEnded {
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			r.log.Printf("join: room %q lookup: %v", r.code, err)
		}
		c.queueMessage(ErrJoinRoom(msg.Id, "Room not found or inactive"))
		return
	}

	user, err := r.qs.db.GetAccountById(userId)
	if err != nil {
		r.log.Printf("join: account %d lookup: %v", userId, err)
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrJoinRoom(msg.Id, "User not found"))
		} else {
			c.queueMessage(ErrJoinRoom(msg.Id, "Failed to join room"))
		}
		return
	}

	// A join from a user already bound here is a reconnection: drop the
	// stale connection's binding, the presence upsert below replaces the
	// stale store entry.
	if prev, ok := r.getUserClient(userId); ok && prev != c {
		r.deleteClient(prev)
		prev.clearRoomIf(r)
	}

	participant := toParticipant(user)
	ctx := context.Background()
	if err := r.qs.presence.AddParticipant(ctx, r.code, participant); err != nil {
		r.log.Printf("join: add participant %d to %q: %v", userId, r.code, err)
	}

	// Best-effort persisted membership; the upsert makes rejoins a no-op.
	if err := r.qs.db.AddRoomParticipant(r.id, userId); err != nil {
		r.log.Printf("join: persist participant %d in room %d: %v", userId, r.id, err)
	}

	r.addClient(c)

	count, participants := r.presenceSnapshot(ctx)

	payload := PresencePayload{
		User:             participant,
		ParticipantCount: count,
		Participants:     participants,
	}
	r.broadcast(NewUserJoinedMsg(participant, count, participants))
	r.qs.publish(r.code, presence.EventUserJoined, payload)

	c.queueMessage(NewJoinRoomSuccessMsg(msg.Id, r.code, count, participants))

	r.log.Printf("user %d joined room %q", userId, r.code)
}

func (r *Room) handleLeave(msg *ClientMessage) {
	target := msg.client
	if target != nil {
		if _, ok := r.getClient(target); !ok {
			target = nil
		}
	}
	if target == nil && msg.Leave != nil && msg.Leave.UserId != 0 {
		target, _ = r.getUserClient(msg.Leave.UserId)
	}

	if target == nil {
		return
	}

	r.deleteClient(target)
	target.clearRoomIf(r)
	left := target.user.Participant()

	ctx := context.Background()
	if err := r.qs.presence.RemoveParticipant(ctx, r.code, left.Id); err != nil {
		r.log.Printf("leave: remove participant %d from %q: %v", left.Id, r.code, err)
	}

	count, participants := r.presenceSnapshot(ctx)

	payload := PresencePayload{
		User:             left,
		ParticipantCount: count,
		Participants:     participants,
	}
	leftMsg := NewUserLeftMsg(left, count, participants)
	leftMsg.SkipClient = target
	r.broadcast(leftMsg)
	r.qs.publish(r.code, presence.EventUserLeft, payload)

	// Presence and the persisted participant relation may transiently
	// diverge: the relation removal is best-effort.
	if err := r.qs.db.RemoveRoomParticipant(r.id, left.Id); err != nil {
		r.log.Printf("leave: remove persisted participant %d from room %d: %v", left.Id, r.id, err)
	}

	if msg.Id > 0 && msg.client != nil {
		msg.client.queueMessage(NewLeaveRoomSuccessMsg(msg.Id, r.code))
	}

	r.log.Printf("user %d left room %q", left.Id, r.code)

	if r.clientCount() == 0 {
		r.qs.requestUnload(r.code, false)
	}
}

func (r *Room) handlePostQuestion(msg *ClientMessage) {
	c := msg.client
	content := strings.TrimSpace(msg.Message.Content)
	if content == "" {
		c.queueMessage(ErrMessage(msg.Id, "content cannot be empty", ""))
		return
	}

	q, err := r.qs.db.CreateQuestion(database.CreateQuestionParams{
		RoomId:  r.id,
		UserId:  msg.GetUserId(),
		Content: content,
	})
	if err != nil {
		r.log.Printf("post question in %q: %v", r.code, err)
		c.queueMessage(ErrMessage(msg.Id, "Failed to create question", err.Error()))
		return
	}

	question := toTypesQuestion(q)
	r.broadcast(NewQuestionMsg(question))
	r.qs.publish(r.code, presence.EventNewMessage, question)
	r.qs.stats.Incr(MetricQuestionsCreated)
}

// handleVote runs the toggle algorithm: delete the (question, user) vote
// if it exists, create it otherwise, then recompute and store the
// question's cached vote count. Toggles are serialized by this actor;
// the unique constraint on (question_id, account_id) backstops
// cross-process races.
func (r *Room) handleVote(msg *ClientMessage) {
	c := msg.client
	questionId := msg.Vote.QuestionId
	userId := msg.GetUserId()

	var (
		action   string
		hasVoted bool
	)

	v, err := r.qs.db.GetVote(questionId, userId)
	switch {
	case err == nil:
		if err := r.qs.db.DeleteVote(v.Id); err != nil {
			r.log.Printf("vote: delete vote %d: %v", v.Id, err)
			c.queueMessage(ErrVote(msg.Id, "Failed to process vote", err.Error()))
			return
		}
		action = VoteActionRemoved
	case errors.Is(err, sql.ErrNoRows):
		if _, err := r.qs.db.CreateVote(questionId, userId); err != nil {
			if database.IsUniqueViolation(err) {
				c.queueMessage(ErrVote(msg.Id, "Vote already recorded", ""))
				return
			}
			r.log.Printf("vote: create vote for question %d: %v", questionId, err)
			c.queueMessage(ErrVote(msg.Id, "Failed to process vote", err.Error()))
			return
		}
		action = VoteActionAdded
		hasVoted = true
	default:
		r.log.Printf("vote: lookup vote for question %d: %v", questionId, err)
		c.queueMessage(ErrVote(msg.Id, "Failed to process vote", err.Error()))
		return
	}

	count, err := r.qs.db.CountVotesByQuestion(questionId)
	if err != nil {
		r.log.Printf("vote: count votes for question %d: %v", questionId, err)
		c.queueMessage(ErrVote(msg.Id, "Failed to process vote", err.Error()))
		return
	}

	// The stored count is a cached aggregate; the vote set stays the
	// source of truth, so a failed update only delays convergence.
	if err := r.qs.db.UpdateQuestionVoteCount(questionId, count); err != nil {
		r.log.Printf("vote: update cached count for question %d: %v", questionId, err)
	}

	payload := VoteUpdatedPayload{
		QuestionId: questionId,
		UserId:     userId,
		VoteCount:  count,
		HasVoted:   hasVoted,
		Action:     action,
	}
	r.broadcast(NewVoteUpdatedMsg(payload))
	r.qs.publish(r.code, presence.EventVoteUpdated, payload)
	r.qs.stats.Incr(MetricVotesToggled)
}

func (r *Room) handleMarkAnswered(msg *ClientMessage) {
	c := msg.client

	// Admin status is re-verified against persistence on every call.
	room, err := r.qs.db.GetRoomByCode(r.code)
	if err != nil {
		r.log.Printf("mark answered: room %q lookup: %v", r.code, err)
		c.queueMessage(ErrMarkAnswered(msg.Id, "Failed to mark question as answered", err.Error()))
		return
	}

	if !isRoomAdmin(room, msg.GetUserId()) {
		c.queueMessage(ErrMarkAnswered(msg.Id,
			"Unauthorized: Only room admin can mark questions as answered",
			"You must be the room creator to mark questions as answered"))
		return
	}

	q, err := r.qs.db.MarkQuestionAnswered(msg.MarkAnswered.QuestionId)
	if err != nil {
		r.log.Printf("mark answered: question %d: %v", msg.MarkAnswered.QuestionId, err)
		c.queueMessage(ErrMarkAnswered(msg.Id, "Failed to mark question as answered", err.Error()))
		return
	}

	question := toTypesQuestion(q)
	r.broadcast(NewQuestionAnsweredMsg(question))
	r.qs.publish(r.code, presence.EventQuestionAnswered, QuestionAnsweredPayload{
		QuestionId: question.Id,
		IsAnswered: question.IsAnswered,
		Question:   question,
	})
}

// handleEndSession announces the end of the session before any cleanup.
// The presence and database deletes that follow are best-effort and never
// rolled back: clients must stop treating the room as live regardless.
func (r *Room) handleEndSession(msg *ClientMessage) {
	c := msg.client
	userId := msg.GetUserId()

	room, err := r.qs.db.GetRoomByCode(r.code)
	if err != nil {
		r.log.Printf("end session: room %q lookup: %v", r.code, err)
		c.queueMessage(ErrSessionEnd(msg.Id, "Failed to end session", err.Error()))
		return
	}

	if !isRoomAdmin(room, userId) {
		c.queueMessage(ErrSessionEnd(msg.Id,
			"Unauthorized: Only room admin can end session",
			"You must be the room creator to end the session"))
		return
	}

	user, err := r.qs.db.GetAccountById(userId)
	if err != nil {
		c.queueMessage(ErrSessionEnd(msg.Id, "User not found", ""))
		return
	}

	endedBy := toParticipant(user)
	r.broadcast(NewSessionEndedMsg(r.code, endedBy))
	r.qs.publish(r.code, presence.EventSessionEnded, SessionEndedPayload{
		RoomCode: r.code,
		EndedBy:  endedBy,
		Message:  "Session ended by " + endedBy.FirstName + " " + endedBy.LastName,
	})

	ctx := context.Background()
	if err := r.qs.presence.DeleteRoomPresence(ctx, r.code); err != nil {
		r.log.Printf("end session: delete presence for %q: %v", r.code, err)
	}

	if err := r.qs.db.DeleteRoomAndQuestions(room.Id); err != nil {
		r.log.Printf("end session: delete room %d: %v", room.Id, err)
	}

	r.log.Printf("session ended for room %q by admin %d", r.code, userId)
	r.qs.requestUnload(r.code, true)
}

// handleRemote re-emits an event received from another process to this
// process's local connections. Payloads pass through untouched.
func (r *Room) handleRemote(ev presence.Event) {
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event:       string(ev.Kind),
		Data:        json.RawMessage(ev.Data),
	})

	if ev.Kind == presence.EventSessionEnded {
		// The originating process already cleared cluster presence and
		// persistence; only the local actor needs tearing down.
		r.qs.requestUnload(r.code, true)
	}
}

// handleSweep re-upserts presence for every locally connected client,
// then evicts stale entries. The refresh keeps last-seen current for
// live connections, so the cutoff only ever catches participants whose
// process vanished without a disconnect.
func (r *Room) handleSweep() {
	ctx := context.Background()

	r.clientLock.RLock()
	locals := make([]types.Participant, 0, len(r.clients))
	for c := range r.clients {
		locals = append(locals, c.user.Participant())
	}
	r.clientLock.RUnlock()

	for _, p := range locals {
		if err := r.qs.presence.AddParticipant(ctx, r.code, p); err != nil {
			r.log.Printf("sweep: refresh participant %d in %q: %v", p.Id, r.code, err)
		}
	}

	if err := r.qs.presence.CleanupStale(ctx, r.code, presenceStaleAge); err != nil {
		r.log.Printf("sweep: cleanup stale for %q: %v", r.code, err)
	}
}

func (r *Room) handleExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.code)

	r.clientLock.Lock()
	for c := range r.clients {
		c.clearRoomIf(r)
		delete(r.clients, c)
	}
	r.userMap = make(map[int]*Client)
	r.clientLock.Unlock()

	if e.done != nil {
		e.done <- r.code
	}
}

// presenceSnapshot reads the authoritative participant count and list
// from the presence store. On failure it degrades to what the store
// returned, never to the local client set.
func (r *Room) presenceSnapshot(ctx context.Context) (int, []types.Participant) {
	participants, err := r.qs.presence.ListParticipants(ctx, r.code)
	if err != nil {
		r.log.Printf("list participants for %q: %v", r.code, err)
		participants = []types.Participant{}
	}

	count, err := r.qs.presence.CountParticipants(ctx, r.code)
	if err != nil {
		r.log.Printf("count participants for %q: %v", r.code, err)
		count = len(participants)
	}

	return count, participants
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	r.userMap[c.user.Id] = c
	c.setRoom(r)
}

func (r *Room) deleteClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	delete(r.clients, c)
	if r.userMap[c.user.Id] == c {
		delete(r.userMap, c.user.Id)
	}
}

func (r *Room) getClient(c *Client) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	_, ok := r.clients[c]
	if !ok {
		return nil, false
	}
	return c, true
}

func (r *Room) getUserClient(userId int) (*Client, bool) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	c, ok := r.userMap[userId]
	return c, ok
}

func (r *Room) clientCount() int {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()
	return len(r.clients)
}

func isRoomAdmin(room database.Room, userId int) bool {
	return room.AdminId == userId
}

func toParticipant(u database.User) types.Participant {
	return types.Participant{
		Id:        u.Id,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarUrl: u.AvatarUrl,
	}
}

func toTypesQuestion(q database.Question) types.Question {
	return types.Question{
		Id:         q.Id,
		Content:    q.Content,
		IsAnswered: q.IsAnswered,
		VoteCount:  q.VoteCount,
		UserId:     q.UserId,
		RoomId:     q.RoomId,
		User: &types.User{
			Id:        q.Author.Id,
			FirstName: q.Author.FirstName,
			LastName:  q.Author.LastName,
			AvatarUrl: q.Author.AvatarUrl,
		},
		Room: &types.RoomSummary{
			Id:    q.Room.Id,
			Code:  q.Room.Code,
			Title: q.Room.Title,
		},
		CreatedAt: q.CreatedAt,
	}
}
