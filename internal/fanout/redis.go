// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/quillsync/internal/logging"
)

// RedisConfig configures the redis pub/sub fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis fans frames out through redis pub/sub. Each subscribed room holds
// its own PubSub connection.
type Redis struct {
	client *redis.Client
	id     uuid.UUID
	owns   bool

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

// NewRedis connects to redis and checks the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	r := NewRedisWithClient(client)
	r.owns = true
	return r, nil
}

// NewRedisWithClient uses an existing client. Close leaves it open.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		id:     uuid.New(),
		subs:   make(map[*redis.PubSub]struct{}),
	}
}

// Subscribe starts a receive loop for room. Frames this node published
// itself are skipped.
func (r *Redis) Subscribe(room string, fn func(frame []byte)) (func(), error) {
	ctx := context.Background()
	ps := r.client.Subscribe(ctx, Channel(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(room), err)
	}

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	go func() {
		for msg := range ps.Channel() {
			node, frame, err := open([]byte(msg.Payload))
			if err != nil {
				logging.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping fan-out message")
				continue
			}
			if node == r.id {
				continue
			}
			fn(frame)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			if err := ps.Close(); err != nil {
				logging.Debug().Err(err).Str("room", room).Msg("closing fan-out subscription")
			}
		})
	}, nil
}

// Publish sends frame to every node subscribed to room.
func (r *Redis) Publish(ctx context.Context, room string, frame []byte) error {
	if err := r.client.Publish(ctx, Channel(room), seal(r.id, frame)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(room), err)
	}
	return nil
}

// Close ends every subscription and, when the client was created by
// NewRedis, the client itself.
func (r *Redis) Close() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[*redis.PubSub]struct{})
	r.mu.Unlock()

	for ps := range subs {
		_ = ps.Close()
	}
	if r.owns {
		return r.client.Close()
	}
	return nil
}
