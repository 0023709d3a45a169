package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"

	"github.com/qnahub/go-qna/internal/database"
	"github.com/qnahub/go-qna/internal/presence"
	"github.com/qnahub/go-qna/internal/stats"
)

const (
	MetricActiveConnections = "ActiveConnections"
	MetricActiveRooms       = "ActiveRooms"
	MetricEventsPublished   = "EventsPublished"
	MetricEventsReceived    = "EventsReceived"
	MetricQuestionsCreated  = "QuestionsCreated"
	MetricVotesToggled      = "VotesToggled"
)

type unloadRoomRequest struct {
	code  string
	ended bool
}

type publishReq struct {
	roomCode string
	kind     presence.EventKind
	data     any
}

type stopRequest struct {
	done chan struct{}
}

// QnaServer coordinates rooms loaded on this process. Room lifecycle
// (load, join validation, unload) runs on the Run goroutine; each loaded
// room runs its own actor. Events from other processes arrive on
// remoteChan via the presence subscription and are routed to the local
// actor for their room, if one is loaded.
type QnaServer struct {
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan unloadRoomRequest
	remoteChan     chan presence.Event
	publishChan    chan publishReq
	clients        map[*Client]struct{}
	clientLock     sync.RWMutex
	rooms          map[string]*Room
	db             database.QnaRepository
	presence       presence.Store
	stats          stats.StatsProvider
	log            *log.Logger
	stop           chan stopRequest
	done           chan struct{}
}

func NewQnaServer(logger *log.Logger, db database.QnaRepository, ps presence.Store, sp stats.StatsProvider) *QnaServer {
	qs := &QnaServer{
		joinChan:       make(chan *ClientMessage, 256),
		RegisterChan:   make(chan *Client, 256),
		deRegisterChan: make(chan *Client, 256),
		unloadRoomChan: make(chan unloadRoomRequest, 64),
		remoteChan:     make(chan presence.Event, 512),
		publishChan:    make(chan publishReq, 512),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		db:             db,
		presence:       ps,
		stats:          sp,
		log:            logger,
		stop:           make(chan stopRequest),
		done:           make(chan struct{}),
	}

	sp.RegisterMetric(MetricActiveConnections)
	sp.RegisterMetric(MetricActiveRooms)
	sp.RegisterMetric(MetricEventsPublished)
	sp.RegisterMetric(MetricEventsReceived)
	sp.RegisterMetric(MetricQuestionsCreated)
	sp.RegisterMetric(MetricVotesToggled)

	for _, kind := range []presence.EventKind{
		presence.EventNewMessage,
		presence.EventVoteUpdated,
		presence.EventQuestionAnswered,
		presence.EventUserJoined,
		presence.EventUserLeft,
		presence.EventSessionEnded,
	} {
		ps.Handle(kind, qs.enqueueRemote)
	}

	return qs
}

// enqueueRemote runs on the presence dispatch goroutine; it must never
// block, so a full queue drops the event.
func (qs *QnaServer) enqueueRemote(ev presence.Event) {
	select {
	case qs.remoteChan <- ev:
	default:
		qs.log.Printf("remote event queue full, dropping %s for room %q", ev.Kind, ev.RoomCode)
	}
}

func (qs *QnaServer) Run() {
	qs.log.Println("server started")
	go qs.publishLoop()

	for {
		select {
		case msg := <-qs.joinChan:
			qs.handleJoinRequest(msg)
		case client := <-qs.RegisterChan:
			qs.addClient(client)
			qs.stats.Incr(MetricActiveConnections)
		case client := <-qs.deRegisterChan:
			qs.removeClient(client)
			qs.stats.Decr(MetricActiveConnections)
		case req := <-qs.unloadRoomChan:
			qs.unloadRoom(req)
		case ev := <-qs.remoteChan:
			qs.routeRemote(ev)
		case req := <-qs.stop:
			qs.shutdown()
			close(req.done)
			return
		}
	}
}

// handleJoinRequest validates the room against persistence, loads a local
// actor on first join, and forwards the join. A join while bound to a
// different room supersedes the old binding with an implicit leave.
func (qs *QnaServer) handleJoinRequest(msg *ClientMessage) {
	c := msg.client
	code := msg.Join.RoomCode
	if code == "" {
		c.queueMessage(ErrJoinRoom(msg.Id, "roomCode is required"))
		return
	}

	if prev := c.boundRoom(); prev != nil && prev.code != code {
		leave := &ClientMessage{
			Leave:  &LeaveRoomAction{RoomCode: prev.code, UserId: c.user.Id},
			UserId: c.user.Id,
			client: c,
		}
		select {
		case prev.leaveChan <- leave:
		default:
			qs.log.Printf("leave channel full for room %q, dropping implicit leave", prev.code)
		}
	}

	room, ok := qs.rooms[code]
	if !ok {
		dbRoom, err := qs.db.GetRoomByCode(code)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				qs.log.Printf("join: room %q lookup: %v", code, err)
			}
			c.queueMessage(ErrJoinRoom(msg.Id, "Room not found or inactive"))
			return
		}
		if !dbRoom.IsActive || dbRoom.IsEnded {
			c.queueMessage(ErrJoinRoom(msg.Id, "Room not found or inactive"))
			return
		}

		room = newRoom(qs, dbRoom.Id, code)
		qs.rooms[code] = room
		go room.run()
		qs.stats.Incr(MetricActiveRooms)
	}

	select {
	case room.joinChan <- msg:
	default:
		qs.log.Printf("join channel full for room %q", code)
		c.queueMessage(ErrJoinRoom(msg.Id, "Failed to join room"))
	}
}

func (qs *QnaServer) routeRemote(ev presence.Event) {
	qs.stats.Incr(MetricEventsReceived)

	room, ok := qs.rooms[ev.RoomCode]
	if !ok {
		// No local connections in the room, nothing to re-emit to.
		return
	}

	select {
	case room.remoteChan <- ev:
	default:
		qs.log.Printf("remote channel full for room %q, dropping %s", ev.RoomCode, ev.Kind)
	}
}

func (qs *QnaServer) unloadRoom(req unloadRoomRequest) {
	room, ok := qs.rooms[req.code]
	if !ok {
		return
	}

	// A join may have landed between the actor reporting empty and this
	// request being processed.
	if !req.ended && (room.clientCount() > 0 || len(room.joinChan) > 0) {
		return
	}

	delete(qs.rooms, req.code)
	qs.stats.Decr(MetricActiveRooms)

	done := make(chan string)
	room.exit <- exitReq{ended: req.ended, done: done}
	<-done
	qs.log.Printf("unloaded room %q", req.code)
}

func (qs *QnaServer) requestUnload(code string, ended bool) {
	select {
	case qs.unloadRoomChan <- unloadRoomRequest{code: code, ended: ended}:
	default:
		qs.log.Printf("unload channel full, room %q stays loaded", code)
	}
}

// publish queues a fan-out publication. Publications are drained FIFO by
// a dedicated goroutine so the room actors never block on Redis; a full
// queue drops the event, matching the best-effort fan-out contract.
func (qs *QnaServer) publish(roomCode string, kind presence.EventKind, data any) {
	select {
	case qs.publishChan <- publishReq{roomCode: roomCode, kind: kind, data: data}:
	default:
		qs.log.Printf("publish queue full, dropping %s for room %q", kind, roomCode)
	}
}

func (qs *QnaServer) publishLoop() {
	for {
		select {
		case req := <-qs.publishChan:
			qs.presence.PublishEvent(context.Background(), req.roomCode, req.kind, req.data)
			qs.stats.Incr(MetricEventsPublished)
		case <-qs.done:
			return
		}
	}
}

// RegisterClient hands a freshly upgraded connection to the server loop.
func (qs *QnaServer) RegisterClient(c *Client) {
	qs.RegisterChan <- c
}

func (qs *QnaServer) addClient(c *Client) {
	qs.clientLock.Lock()
	defer qs.clientLock.Unlock()
	qs.clients[c] = struct{}{}
}

func (qs *QnaServer) removeClient(c *Client) {
	qs.clientLock.Lock()
	defer qs.clientLock.Unlock()
	delete(qs.clients, c)
}

func (qs *QnaServer) numClients() int {
	qs.clientLock.RLock()
	defer qs.clientLock.RUnlock()
	return len(qs.clients)
}

func (qs *QnaServer) shutdown() {
	for code, room := range qs.rooms {
		done := make(chan string)
		room.exit <- exitReq{done: done}
		<-done
		delete(qs.rooms, code)
	}

	qs.clientLock.Lock()
	for c := range qs.clients {
		c.stopClient()
		delete(qs.clients, c)
	}
	qs.clientLock.Unlock()

	close(qs.done)
	qs.log.Println("server stopped")
}

// Shutdown stops the server loop, unloading every room and closing every
// connection. It returns early if ctx expires first.
func (qs *QnaServer) Shutdown(ctx context.Context) error {
	req := stopRequest{done: make(chan struct{})}

	select {
	case qs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
