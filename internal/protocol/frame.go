// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package protocol defines the binary frames exchanged over a relay
// connection.
//
// Every websocket message is one frame. The first byte is the frame type:
//
//	SYNC         = 0   followed by a subtype byte and a length-prefixed payload
//	AWARENESS    = 1   followed by a length-prefixed awareness update
//	NOTIFICATION = 99  followed by raw UTF-8 JSON
//
// Frames are decoded once at the transport boundary into one of the
// concrete variants below and dispatched with a type switch.
package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageType is the leading frame byte.
type MessageType byte

const (
	MessageSync         MessageType = 0
	MessageAwareness    MessageType = 1
	MessageNotification MessageType = 99
)

func (t MessageType) String() string {
	switch t {
	case MessageSync:
		return "sync"
	case MessageAwareness:
		return "awareness"
	case MessageNotification:
		return "notification"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Sync subtypes.
const (
	syncStep1  byte = 0
	syncStep2  byte = 1
	syncUpdate byte = 2
)

var (
	// ErrMalformedFrame is returned for truncated or inconsistent frames.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrUnknownFrame is returned for unknown type or sync subtype bytes.
	ErrUnknownFrame = errors.New("protocol: unknown frame type")
)

// Frame is implemented by every frame variant.
type Frame interface {
	Type() MessageType
	frame()
}

// SyncStep1 asks the peer for everything missing from StateVector.
type SyncStep1 struct {
	StateVector []byte
}

// SyncStep2 answers a SyncStep1 with the missing operations.
type SyncStep2 struct {
	Update []byte
}

// SyncUpdate carries an incremental delta.
type SyncUpdate struct {
	Update []byte
}

// Awareness carries an encoded AwarenessUpdate.
type Awareness struct {
	Update []byte
}

// Notification carries a JSON notification from the backend.
type Notification struct {
	Payload []byte
}

func (SyncStep1) Type() MessageType    { return MessageSync }
func (SyncStep2) Type() MessageType    { return MessageSync }
func (SyncUpdate) Type() MessageType   { return MessageSync }
func (Awareness) Type() MessageType    { return MessageAwareness }
func (Notification) Type() MessageType { return MessageNotification }

func (SyncStep1) frame()    {}
func (SyncStep2) frame()    {}
func (SyncUpdate) frame()   {}
func (Awareness) frame()    {}
func (Notification) frame() {}

// Encode serializes f.
func Encode(f Frame) []byte {
	switch f := f.(type) {
	case SyncStep1:
		return encodeSync(syncStep1, f.StateVector)
	case SyncStep2:
		return encodeSync(syncStep2, f.Update)
	case SyncUpdate:
		return encodeSync(syncUpdate, f.Update)
	case Awareness:
		b := []byte{byte(MessageAwareness)}
		return protowire.AppendBytes(b, f.Update)
	case Notification:
		b := make([]byte, 0, 1+len(f.Payload))
		b = append(b, byte(MessageNotification))
		return append(b, f.Payload...)
	default:
		panic(fmt.Sprintf("protocol: cannot encode %T", f))
	}
}

func encodeSync(subtype byte, payload []byte) []byte {
	b := make([]byte, 0, 2+protowire.SizeBytes(len(payload)))
	b = append(b, byte(MessageSync), subtype)
	return protowire.AppendBytes(b, payload)
}

// Decode parses one frame. Returned payload slices alias b.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedFrame)
	}
	switch MessageType(b[0]) {
	case MessageSync:
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: sync frame without subtype", ErrMalformedFrame)
		}
		payload, err := consumePayload(b[2:])
		if err != nil {
			return nil, err
		}
		switch b[1] {
		case syncStep1:
			return SyncStep1{StateVector: payload}, nil
		case syncStep2:
			return SyncStep2{Update: payload}, nil
		case syncUpdate:
			return SyncUpdate{Update: payload}, nil
		default:
			return nil, fmt.Errorf("%w: sync subtype %d", ErrUnknownFrame, b[1])
		}
	case MessageAwareness:
		payload, err := consumePayload(b[1:])
		if err != nil {
			return nil, err
		}
		return Awareness{Update: payload}, nil
	case MessageNotification:
		return Notification{Payload: b[1:]}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrame, b[0])
	}
}

func consumePayload(b []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, protowire.ParseError(n))
	}
	if n != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(b)-n)
	}
	return v, nil
}
