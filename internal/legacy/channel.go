// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package legacy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/quillsync/internal/logging"
	"github.com/tomtom215/quillsync/internal/metrics"
)

const (
	metaEvent  = "event"
	metaSender = "sender"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("legacy: channel closed")

	// ErrEmptyRoom is returned for an empty room ID.
	ErrEmptyRoom = errors.New("legacy: empty room id")
)

// Message is one received event.
type Message struct {
	Room    string
	Event   string
	Sender  string
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Handler receives events registered with On.
type Handler func(ctx context.Context, msg Message)

// FieldPayload is the payload of title and content updates.
type FieldPayload struct {
	AuthorID string `json:"author_id"`
	Value    string `json:"value"`
}

// TypingPayload is the payload of typing events.
type TypingPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Typing      bool   `json:"typing"`
}

// Channel is a room-scoped broadcast channel over a watermill
// publisher/subscriber pair.
type Channel struct {
	cfg    Config
	pub    message.Publisher
	sub    message.Subscriber
	owned  bool

	mu       sync.Mutex
	handlers map[string][]Handler
	rooms    map[string]*membership
	closed   bool
}

type membership struct {
	room   string
	topic  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	subCancel   context.CancelFunc
	generations int
}

// resubscribe ends the current subscription; the room loop opens a new one.
func (m *membership) resubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subCancel != nil {
		m.subCancel()
	}
}

func (m *membership) generation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations
}

// New creates a channel over pub and sub. The caller keeps ownership of the
// transport; Close does not close it.
func New(pub message.Publisher, sub message.Subscriber, cfg Config) *Channel {
	cfg = cfg.withDefaults()
	if cfg.SenderID == "" {
		cfg.SenderID = uuid.NewString()
	}
	return &Channel{
		cfg:      cfg,
		pub:      pub,
		sub:      sub,
		handlers: make(map[string][]Handler),
		rooms:    make(map[string]*membership),
	}
}

// NewGoChannel returns an in-process pub/sub. Channels created over the same
// instance see each other's events.
func NewGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logging.NewWatermillAdapter("legacy-gochannel"))
}

// SenderID returns the ID stamped on this channel's messages.
func (c *Channel) SenderID() string {
	return c.cfg.SenderID
}

// On registers a handler for event. Handlers run on the room's receive
// goroutine.
func (c *Channel) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Topic returns the watermill topic of roomID.
func (c *Channel) Topic(roomID string) string {
	return c.cfg.TopicPrefix + "." + roomID
}

// Join subscribes to roomID. Joining a room twice is a no-op.
func (c *Channel) Join(ctx context.Context, roomID string) error {
	if roomID == "" {
		return ErrEmptyRoom
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.rooms[roomID]; ok {
		c.mu.Unlock()
		return nil
	}
	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &membership{
		room:   roomID,
		topic:  c.Topic(roomID),
		ctx:    mctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.rooms[roomID] = m
	c.mu.Unlock()

	msgs, err := c.subscribe(m)
	if err != nil {
		c.mu.Lock()
		delete(c.rooms, roomID)
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	go c.loop(m, msgs)

	logging.Debug().Str("room", roomID).Str("sender", c.cfg.SenderID).Msg("legacy room joined")
	return nil
}

func (c *Channel) subscribe(m *membership) (<-chan *message.Message, error) {
	subCtx, subCancel := context.WithCancel(m.ctx)
	msgs, err := c.sub.Subscribe(subCtx, m.topic)
	if err != nil {
		subCancel()
		return nil, err
	}
	m.mu.Lock()
	m.subCancel = subCancel
	m.generations++
	m.mu.Unlock()
	return msgs, nil
}

// loop dispatches messages of one room and re-subscribes with backoff when
// the subscriber closes the channel while the room is still joined.
func (c *Channel) loop(m *membership, msgs <-chan *message.Message) {
	defer close(m.done)
	for {
		for msg := range msgs {
			c.dispatch(m, msg)
			msg.Ack()
		}
		if m.ctx.Err() != nil {
			return
		}

		logging.Warn().Str("room", m.room).Msg("legacy subscription closed, rejoining")
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.cfg.RejoinInitial
		b.MaxInterval = c.cfg.RejoinMax
		b.MaxElapsedTime = 0

		err := backoff.RetryNotify(func() error {
			next, err := c.subscribe(m)
			if err != nil {
				return err
			}
			msgs = next
			return nil
		}, backoff.WithContext(b, m.ctx), func(err error, wait time.Duration) {
			logging.Warn().Err(err).Str("room", m.room).Dur("retry_in", wait).Msg("legacy rejoin failed")
		})
		if err != nil {
			return
		}
		metrics.ClientLegacyEvents.WithLabelValues("in", "rejoined").Inc()
	}
}

func (c *Channel) dispatch(m *membership, msg *message.Message) {
	sender := msg.Metadata.Get(metaSender)
	if sender == c.cfg.SenderID {
		return
	}
	event := msg.Metadata.Get(metaEvent)

	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	if len(handlers) == 0 {
		metrics.ClientLegacyEvents.WithLabelValues("in", "unhandled").Inc()
		return
	}

	metrics.ClientLegacyEvents.WithLabelValues("in", "received").Inc()
	in := Message{Room: m.room, Event: event, Sender: sender, Payload: json.RawMessage(msg.Payload)}
	for _, h := range handlers {
		h(m.ctx, in)
	}
}

// Emit broadcasts event with a JSON payload to every other member of roomID.
func (c *Channel) Emit(ctx context.Context, roomID, event string, payload any) error {
	if roomID == "" {
		return ErrEmptyRoom
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(metaEvent, event)
	msg.Metadata.Set(metaSender, c.cfg.SenderID)
	msg.SetContext(ctx)

	if err := c.pub.Publish(c.Topic(roomID), msg); err != nil {
		metrics.ClientLegacyEvents.WithLabelValues("out", "error").Inc()
		return fmt.Errorf("emit %s to %s: %w", event, roomID, err)
	}
	metrics.ClientLegacyEvents.WithLabelValues("out", "sent").Inc()
	return nil
}

// Leave unsubscribes from roomID and waits for its loop to stop.
func (c *Channel) Leave(roomID string) {
	c.mu.Lock()
	m, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()
	if !ok {
		return
	}
	m.cancel()
	<-m.done
	logging.Debug().Str("room", roomID).Msg("legacy room left")
}

// Rejoin forces every joined room to subscribe again. The NATS reconnect
// handler calls it.
func (c *Channel) Rejoin(ctx context.Context) {
	c.mu.Lock()
	rooms := make([]*membership, 0, len(c.rooms))
	for _, m := range c.rooms {
		rooms = append(rooms, m)
	}
	c.mu.Unlock()

	for _, m := range rooms {
		if ctx.Err() != nil {
			return
		}
		m.resubscribe()
	}
	logging.Info().Int("rooms", len(rooms)).Msg("legacy channel rejoining rooms")
}

// Rooms returns the number of joined rooms.
func (c *Channel) Rooms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// Close leaves every room. Transports created by NewNATS are closed too.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	for _, id := range rooms {
		c.Leave(id)
	}
	if !c.owned {
		return nil
	}
	return errors.Join(c.pub.Close(), c.sub.Close())
}
