// Package presence implements the cross-process room coordination layer:
// a Redis-backed participant registry plus a pub/sub event bus that fans
// room events out to every gateway process serving the room.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/qnahub/go-qna/internal/types"
)

// participantTTL bounds per-room hash growth if cleanup never runs.
const participantTTL = time.Hour

type EventKind string

const (
	EventNewMessage       EventKind = "newMessage"
	EventVoteUpdated      EventKind = "voteUpdated"
	EventQuestionAnswered EventKind = "questionAnswered"
	EventUserJoined       EventKind = "userJoined"
	EventUserLeft         EventKind = "userLeft"
	EventSessionEnded     EventKind = "sessionEnded"
)

// Event is the envelope published on a room's channel. Data is the
// type-specific payload, already serialized.
type Event struct {
	Kind      EventKind       `json:"type"`
	RoomCode  string          `json:"room_code"`
	Data      json.RawMessage `json:"data"`
	OriginId  string          `json:"origin_id"`
	Timestamp int64           `json:"timestamp"`
}

type HandlerFunc func(Event)

// Store is the presence and fan-out contract the gateway consumes.
type Store interface {
	PublishEvent(ctx context.Context, roomCode string, kind EventKind, data any)
	Handle(kind EventKind, fn HandlerFunc)
	AddParticipant(ctx context.Context, roomCode string, p types.Participant) error
	RemoveParticipant(ctx context.Context, roomCode string, userId int) error
	ListParticipants(ctx context.Context, roomCode string) ([]types.Participant, error)
	CountParticipants(ctx context.Context, roomCode string) (int, error)
	DeleteRoomPresence(ctx context.Context, roomCode string) error
	CleanupStale(ctx context.Context, roomCode string, maxAge time.Duration) error
}

type Client struct {
	rdb        *redis.Client
	log        *log.Logger
	originId   string
	handlersMu sync.RWMutex
	handlers   map[EventKind]HandlerFunc
	pubsub     *redis.PubSub
	done       chan struct{}
}

func NewClient(rdb *redis.Client, logger *log.Logger) *Client {
	return &Client{
		rdb:      rdb,
		log:      logger,
		originId: fmt.Sprintf("proc-%d-%d", os.Getpid(), time.Now().UnixMilli()),
		handlers: make(map[EventKind]HandlerFunc),
		done:     make(chan struct{}),
	}
}

func (c *Client) OriginId() string {
	return c.originId
}

func roomChannel(roomCode string) string {
	return "room:" + roomCode
}

func participantsKey(roomCode string) string {
	return "room:" + roomCode + ":participants"
}

// Handle registers the handler invoked for events of the given kind
// received from other processes. Registration must complete before
// Subscribe is called.
func (c *Client) Handle(kind EventKind, fn HandlerFunc) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[kind] = fn
}

// Subscribe opens the single pattern subscription covering all room
// channels and starts the dispatch loop. Call once per process.
func (c *Client) Subscribe(ctx context.Context) error {
	c.pubsub = c.rdb.PSubscribe(ctx, roomChannel("*"))

	// Force the subscription to be established before returning so no
	// event published after Subscribe is missed.
	if _, err := c.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}

	go func() {
		ch := c.pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.dispatch(msg.Channel, []byte(msg.Payload))
			case <-c.done:
				return
			}
		}
	}()

	c.log.Printf("subscribed to %s as %s", roomChannel("*"), c.originId)
	return nil
}

func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}

	if c.pubsub != nil {
		return c.pubsub.Close()
	}
	return nil
}

// dispatch parses an inbound pub/sub message and routes it to the
// registered handler. Self-originated events were already applied locally
// before publishing and are dropped here. Unknown kinds are ignored.
func (c *Client) dispatch(channel string, payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.log.Printf("presence: discarding malformed event on %s: %v", channel, err)
		return
	}

	if ev.OriginId == c.originId {
		return
	}

	c.handlersMu.RLock()
	handler, ok := c.handlers[ev.Kind]
	c.handlersMu.RUnlock()
	if !ok {
		c.log.Printf("presence: no handler for event kind %q, ignoring", ev.Kind)
		return
	}

	handler(ev)
}

// PublishEvent serializes the event with this process's origin id and
// writes it to the room's channel. Failures are logged and swallowed:
// fan-out is best-effort and the caller has already delivered locally.
func (c *Client) PublishEvent(ctx context.Context, roomCode string, kind EventKind, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Printf("presence: marshal %s payload for room %s: %v", kind, roomCode, err)
		return
	}

	ev := Event{
		Kind:      kind,
		RoomCode:  roomCode,
		Data:      raw,
		OriginId:  c.originId,
		Timestamp: time.Now().UnixMilli(),
	}

	body, err := json.Marshal(ev)
	if err != nil {
		c.log.Printf("presence: marshal %s event for room %s: %v", kind, roomCode, err)
		return
	}

	if err := c.rdb.Publish(ctx, roomChannel(roomCode), body).Err(); err != nil {
		c.log.Printf("presence: publish %s to room %s: %v", kind, roomCode, err)
	}
}

// participantRecord is the stored shape of a participant. The origin id
// and last-seen timestamp are store-internal bookkeeping and are stripped
// before a record is returned to any caller.
type participantRecord struct {
	types.Participant
	OriginId string `json:"origin_id"`
	LastSeen int64  `json:"last_seen"`
}

func (c *Client) AddParticipant(ctx context.Context, roomCode string, p types.Participant) error {
	rec := participantRecord{
		Participant: p,
		OriginId:    c.originId,
		LastSeen:    time.Now().UnixMilli(),
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	key := participantsKey(roomCode)
	if err := c.rdb.HSet(ctx, key, strconv.Itoa(p.Id), body).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}

	if err := c.rdb.Expire(ctx, key, participantTTL).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}

	return nil
}

func (c *Client) RemoveParticipant(ctx context.Context, roomCode string, userId int) error {
	key := participantsKey(roomCode)
	if err := c.rdb.HDel(ctx, key, strconv.Itoa(userId)).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (c *Client) ListParticipants(ctx context.Context, roomCode string) ([]types.Participant, error) {
	key := participantsKey(roomCode)
	entries, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}

	participants := make([]types.Participant, 0, len(entries))
	for field, raw := range entries {
		var rec participantRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			c.log.Printf("presence: bad participant entry %s in %s: %v", field, key, err)
			continue
		}
		participants = append(participants, rec.Participant)
	}

	sort.Slice(participants, func(i, j int) bool {
		return participants[i].Id < participants[j].Id
	})

	return participants, nil
}

func (c *Client) CountParticipants(ctx context.Context, roomCode string) (int, error) {
	key := participantsKey(roomCode)
	n, err := c.rdb.HLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", key, err)
	}
	return int(n), nil
}

func (c *Client) DeleteRoomPresence(ctx context.Context, roomCode string) error {
	key := participantsKey(roomCode)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// CleanupStale evicts participants whose last-seen timestamp is older
// than maxAge. It covers connections that vanished without a disconnect
// notification reaching any process.
func (c *Client) CleanupStale(ctx context.Context, roomCode string, maxAge time.Duration) error {
	key := participantsKey(roomCode)
	entries, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hgetall %s: %w", key, err)
	}

	now := time.Now().UnixMilli()
	for field, raw := range entries {
		var rec participantRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			// Unparseable entries are stale by definition.
			if err := c.rdb.HDel(ctx, key, field).Err(); err != nil {
				return fmt.Errorf("hdel %s %s: %w", key, field, err)
			}
			continue
		}

		if now-rec.LastSeen > maxAge.Milliseconds() {
			if err := c.rdb.HDel(ctx, key, field).Err(); err != nil {
				return fmt.Errorf("hdel %s %s: %w", key, field, err)
			}
			c.log.Printf("presence: evicted stale participant %s from room %s", field, roomCode)
		}
	}

	return nil
}

func (c *Client) Healthy(ctx context.Context) bool {
	return c.rdb.Ping(ctx).Err() == nil
}
