// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package relay

import "time"

// Config tunes connection handling and room bookkeeping.
type Config struct {
	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full is closed.
	SendBuffer int `koanf:"send_buffer"`

	// MaxMessageSize bounds inbound websocket messages.
	MaxMessageSize int64 `koanf:"max_message_size"`

	WriteWait time.Duration `koanf:"write_wait"`
	PongWait  time.Duration `koanf:"pong_wait"`

	// HandshakeTimeout closes connections that never send a sync frame.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// FramesPerSecond and Burst rate-limit inbound frames per connection.
	FramesPerSecond float64 `koanf:"frames_per_second"`
	Burst           int     `koanf:"burst"`

	// NotificationRetention caps the notifications kept in a notification
	// room's awareness state.
	NotificationRetention int `koanf:"notification_retention"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:            256,
		MaxMessageSize:        1 << 20,
		WriteWait:             10 * time.Second,
		PongWait:              60 * time.Second,
		HandshakeTimeout:      30 * time.Second,
		FramesPerSecond:       200,
		Burst:                 400,
		NotificationRetention: 50,
	}
}

func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.FramesPerSecond <= 0 {
		c.FramesPerSecond = d.FramesPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.NotificationRetention <= 0 {
		c.NotificationRetention = d.NotificationRetention
	}
	return c
}
