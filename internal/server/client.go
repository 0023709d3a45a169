package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qnahub/go-qna/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client owns one WebSocket connection. A connection is bound to at most
// one room at a time; joining another room supersedes the prior binding.
type Client struct {
	conn      *websocket.Conn
	qs        *QnaServer
	log       *log.Logger
	user      types.User
	send      chan *ServerMessage
	room      *Room
	roomLock  sync.RWMutex
	stop      chan struct{}
	closeOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, qs *QnaServer, l *log.Logger) *Client {
	return &Client{
		conn: conn,
		qs:   qs,
		log:  l,
		user: user,
		send: make(chan *ServerMessage, 256),
		stop: make(chan struct{}),
	}
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrMessage(-1, "invalid message format", ""))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.route(&msg)
	}
}

// route hands a parsed action to the server loop (joins) or the bound
// room's actor (everything else). Actions that reference a room the
// connection is not bound to are rejected with the action's error ack.
func (c *Client) route(msg *ClientMessage) {
	switch {
	case msg.Join != nil:
		select {
		case c.qs.joinChan <- msg:
		default:
			c.log.Println("joinChan full")
			c.queueMessage(ErrJoinRoom(msg.Id, "Failed to join room"))
		}
	case msg.Leave != nil:
		r := c.getRoom(msg.Leave.RoomCode)
		if r == nil {
			// Leaving a room the connection is not in is an idempotent
			// no-op; still ack it.
			c.queueMessage(NewLeaveRoomSuccessMsg(msg.Id, msg.Leave.RoomCode))
			return
		}
		c.forward(r.leaveChan, msg, ErrMessage(msg.Id, "service unavailable", ""))
	case msg.Message != nil:
		r := c.getRoom(msg.Message.RoomCode)
		if r == nil {
			c.queueMessage(ErrMessage(msg.Id, "Room not found", ""))
			return
		}
		c.forward(r.actionChan, msg, ErrMessage(msg.Id, "service unavailable", ""))
	case msg.Vote != nil:
		r := c.getRoom(msg.Vote.RoomCode)
		if r == nil {
			c.queueMessage(ErrVote(msg.Id, "Room not found", ""))
			return
		}
		c.forward(r.actionChan, msg, ErrVote(msg.Id, "service unavailable", ""))
	case msg.MarkAnswered != nil:
		r := c.getRoom(msg.MarkAnswered.RoomCode)
		if r == nil {
			c.queueMessage(ErrMarkAnswered(msg.Id, "Room not found", ""))
			return
		}
		c.forward(r.actionChan, msg, ErrMarkAnswered(msg.Id, "service unavailable", ""))
	case msg.EndSession != nil:
		r := c.getRoom(msg.EndSession.RoomCode)
		if r == nil {
			c.queueMessage(ErrSessionEnd(msg.Id, "Room not found", ""))
			return
		}
		c.forward(r.actionChan, msg, ErrSessionEnd(msg.Id, "service unavailable", ""))
	default:
		c.queueMessage(ErrMessage(msg.Id, "invalid message format", ""))
	}
}

func (c *Client) forward(ch chan *ClientMessage, msg *ClientMessage, busy *ServerMessage) {
	select {
	case ch <- msg:
	default:
		c.log.Printf("room channel full, dropping action from %d", c.user.Id)
		c.queueMessage(busy)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup runs when the transport closes: an implicit leave for the bound
// room, then deregistration from the server.
func (c *Client) cleanup() {
	c.leaveBoundRoom()

	select {
	case c.qs.deRegisterChan <- c:
	case <-time.After(time.Second):
		c.log.Println("timeout deregistering client")
	}

	c.stopClient()
}

func (c *Client) leaveBoundRoom() {
	c.roomLock.RLock()
	r := c.room
	c.roomLock.RUnlock()

	if r == nil {
		return
	}

	msg := &ClientMessage{
		Leave:  &LeaveRoomAction{RoomCode: r.code, UserId: c.user.Id},
		UserId: c.user.Id,
		client: c,
	}

	select {
	case r.leaveChan <- msg:
	case <-time.After(time.Second):
		c.log.Printf("timeout sending leave to room %q", r.code)
	}
}

func (c *Client) setRoom(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	c.room = r
}

// clearRoomIf drops the binding only if it still points at r, so a stale
// room exit cannot clobber a newer binding.
func (c *Client) clearRoomIf(r *Room) {
	c.roomLock.Lock()
	defer c.roomLock.Unlock()
	if c.room == r {
		c.room = nil
	}
}

// getRoom returns the bound room if its code matches, nil otherwise.
func (c *Client) getRoom(code string) *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()

	if c.room != nil && c.room.code == code {
		return c.room
	}

	return nil
}

func (c *Client) boundRoom() *Room {
	c.roomLock.RLock()
	defer c.roomLock.RUnlock()
	return c.room
}
