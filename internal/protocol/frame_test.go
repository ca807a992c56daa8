// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/goccy/go-json"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		typ   MessageType
	}{
		{"step1", SyncStep1{StateVector: []byte{1, 2, 3}}, MessageSync},
		{"step2", SyncStep2{Update: []byte("delta")}, MessageSync},
		{"update", SyncUpdate{Update: []byte{}}, MessageSync},
		{"awareness", Awareness{Update: []byte{0}}, MessageAwareness},
		{"notification", Notification{Payload: []byte(`{"type":"mention"}`)}, MessageNotification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := Encode(tt.frame)
			if MessageType(raw[0]) != tt.typ {
				t.Fatalf("leading byte = %d, want %d", raw[0], tt.typ)
			}
			got, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Type() != tt.typ {
				t.Errorf("Type() = %v, want %v", got.Type(), tt.typ)
			}
			if !bytes.Equal(Encode(got), raw) {
				t.Errorf("re-encoding differs")
			}
		})
	}
}

func TestDecodeVariants(t *testing.T) {
	f, err := Decode(Encode(SyncStep2{Update: []byte("abc")}))
	if err != nil {
		t.Fatal(err)
	}
	switch f := f.(type) {
	case SyncStep2:
		if string(f.Update) != "abc" {
			t.Errorf("Update = %q", f.Update)
		}
	default:
		t.Fatalf("decoded %T, want SyncStep2", f)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"empty", nil, ErrMalformedFrame},
		{"sync without subtype", []byte{0}, ErrMalformedFrame},
		{"unknown subtype", []byte{0, 7, 0}, ErrUnknownFrame},
		{"unknown type", []byte{42, 0}, ErrUnknownFrame},
		{"truncated payload", []byte{0, 2, 5, 'a'}, ErrMalformedFrame},
		{"trailing bytes", []byte{1, 1, 0, 9}, ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, tt.want) {
				t.Errorf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAwarenessRoundTrip(t *testing.T) {
	in := AwarenessUpdate{Entries: []AwarenessEntry{
		{ClientID: 7, Clock: 3, State: json.RawMessage(`{"user":{"id":"u1"}}`)},
		{ClientID: 9, Clock: 1},
	}}
	out, err := DecodeAwareness(EncodeAwareness(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 2 {
		t.Fatalf("got %d entries", len(out.Entries))
	}
	if out.Entries[0].ClientID != 7 || out.Entries[0].Clock != 3 || out.Entries[0].Removed() {
		t.Errorf("entry 0 = %+v", out.Entries[0])
	}
	if !out.Entries[1].Removed() {
		t.Errorf("entry 1 should be a removal, got %s", out.Entries[1].State)
	}
}

func TestAwarenessRejectsBadState(t *testing.T) {
	raw := EncodeAwareness(AwarenessUpdate{Entries: []AwarenessEntry{{ClientID: 1, Clock: 1, State: json.RawMessage("{oops")}}})
	if _, err := DecodeAwareness(raw); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
	if _, err := DecodeAwareness([]byte{200}); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame for truncated count, got %v", err)
	}
}

func TestNotificationMessage(t *testing.T) {
	m := NewNotificationMessage(NotifyInvitation, "note-1", json.RawMessage(`{"role":"editor"}`))
	f, err := NotificationFrame(m)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(Encode(f))
	if err != nil {
		t.Fatal(err)
	}
	n, ok := decoded.(Notification)
	if !ok {
		t.Fatalf("decoded %T", decoded)
	}
	got, err := ParseNotification(n.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != m.ID || got.Type != NotifyInvitation || got.ResourceID != "note-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := ParseNotification([]byte(`{"id":"x"}`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("expected error for missing type, got %v", err)
	}
}
