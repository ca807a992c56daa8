// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package legacy

import (
	"context"
	"fmt"
	"sync/atomic"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/quillsync/internal/logging"
)

// NewNATS creates a channel over core NATS. Legacy events are ephemeral, so
// JetStream is disabled and every member receives every message. On
// reconnect the channel rejoins its rooms.
func NewNATS(natsCfg NATSConfig, cfg Config) (*Channel, error) {
	logger := logging.NewWatermillAdapter("legacy-nats")
	var current atomic.Pointer[Channel]

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(natsCfg.MaxReconnects),
		natsgo.ReconnectWait(natsCfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("legacy NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("legacy NATS reconnected")
			if ch := current.Load(); ch != nil {
				ch.Rejoin(context.Background())
			}
		}),
	}
	marshaler := &wmNats.NATSMarshaler{}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         natsCfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   marshaler,
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create legacy publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              natsCfg.URL,
		SubscribersCount: 1,
		CloseTimeout:     natsCfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      marshaler,
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create legacy subscriber: %w", err)
	}

	ch := New(pub, sub, cfg)
	ch.owned = true
	current.Store(ch)
	return ch, nil
}
