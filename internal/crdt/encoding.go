// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package crdt

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout (protobuf wire format, no generated code):
//
//	Update      { repeated bytes op = 1 }
//	Op          { client = 1; clock = 2; lamport = 3; kind = 4; text = 5;
//	              bytes origin = 6; bytes target = 7; content = 8 }
//	ID          { client = 1; clock = 2 }
//	StateVector { repeated bytes entry = 1 }   entry = ID
const (
	fieldRepeated protowire.Number = 1

	fieldOpClient  protowire.Number = 1
	fieldOpClock   protowire.Number = 2
	fieldOpLamport protowire.Number = 3
	fieldOpKind    protowire.Number = 4
	fieldOpText    protowire.Number = 5
	fieldOpOrigin  protowire.Number = 6
	fieldOpTarget  protowire.Number = 7
	fieldOpContent protowire.Number = 8

	fieldIDClient protowire.Number = 1
	fieldIDClock  protowire.Number = 2
)

// EncodeUpdate serializes ops into a delta.
func EncodeUpdate(ops []Op) []byte {
	var b []byte
	for i := range ops {
		b = protowire.AppendTag(b, fieldRepeated, protowire.BytesType)
		b = protowire.AppendBytes(b, appendOp(nil, &ops[i]))
	}
	return b
}

func appendOp(b []byte, op *Op) []byte {
	b = appendVarintField(b, fieldOpClient, op.ID.Client)
	b = appendVarintField(b, fieldOpClock, op.ID.Clock)
	b = appendVarintField(b, fieldOpLamport, op.Lamport)
	b = appendVarintField(b, fieldOpKind, uint64(op.Kind))
	b = protowire.AppendTag(b, fieldOpText, protowire.BytesType)
	b = protowire.AppendString(b, op.Text)
	switch op.Kind {
	case KindInsert:
		if op.Origin != nil {
			b = protowire.AppendTag(b, fieldOpOrigin, protowire.BytesType)
			b = protowire.AppendBytes(b, appendID(nil, *op.Origin))
		}
		b = protowire.AppendTag(b, fieldOpContent, protowire.BytesType)
		b = protowire.AppendString(b, op.Content)
	case KindDelete:
		b = protowire.AppendTag(b, fieldOpTarget, protowire.BytesType)
		b = protowire.AppendBytes(b, appendID(nil, op.Target))
	}
	return b
}

func appendID(b []byte, id ID) []byte {
	b = appendVarintField(b, fieldIDClient, id.Client)
	return appendVarintField(b, fieldIDClock, id.Clock)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// DecodeUpdate parses and validates a delta. Any error wraps
// ErrMalformedUpdate and means no operation of the delta is usable.
func DecodeUpdate(b []byte) (*Update, error) {
	u := &Update{}
	err := forEachRepeated(b, func(raw []byte) error {
		op, err := decodeOp(raw)
		if err != nil {
			return err
		}
		u.Ops = append(u.Ops, op)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func decodeOp(b []byte) (Op, error) {
	var (
		op                                 Op
		haveClient, haveClock, haveTarget  bool
		haveContent, haveKind, haveLamport bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return op, wireError(protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && num <= fieldOpKind:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return op, wireError(protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldOpClient:
				op.ID.Client, haveClient = v, true
			case fieldOpClock:
				op.ID.Clock, haveClock = v, true
			case fieldOpLamport:
				op.Lamport, haveLamport = v, true
			case fieldOpKind:
				op.Kind, haveKind = Kind(v), true
			}
		case typ == protowire.BytesType && num >= fieldOpText && num <= fieldOpContent:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return op, wireError(protowire.ParseError(m))
			}
			b = b[m:]
			switch num {
			case fieldOpText:
				op.Text = string(v)
			case fieldOpOrigin:
				id, err := decodeID(v)
				if err != nil {
					return op, err
				}
				op.Origin = &id
			case fieldOpTarget:
				id, err := decodeID(v)
				if err != nil {
					return op, err
				}
				op.Target, haveTarget = id, true
			case fieldOpContent:
				op.Content, haveContent = string(v), true
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return op, wireError(protowire.ParseError(m))
			}
			b = b[m:]
		}
	}

	if !haveClient || !haveClock || !haveKind || !haveLamport {
		return op, fmt.Errorf("%w: op missing id, kind or lamport", ErrMalformedUpdate)
	}
	if op.ID.Client == 0 || op.Lamport == 0 {
		return op, fmt.Errorf("%w: op %s has zero client or lamport", ErrMalformedUpdate, op.ID)
	}
	if op.Text == "" {
		return op, fmt.Errorf("%w: op %s has no text name", ErrMalformedUpdate, op.ID)
	}
	switch op.Kind {
	case KindInsert:
		if !haveContent || utf8.RuneCountInString(op.Content) != 1 || !utf8.ValidString(op.Content) {
			return op, fmt.Errorf("%w: insert %s must carry exactly one rune", ErrMalformedUpdate, op.ID)
		}
		if op.Origin != nil && *op.Origin == op.ID {
			return op, fmt.Errorf("%w: insert %s is its own origin", ErrMalformedUpdate, op.ID)
		}
	case KindDelete:
		if !haveTarget || op.Target == op.ID {
			return op, fmt.Errorf("%w: delete %s has no valid target", ErrMalformedUpdate, op.ID)
		}
	default:
		return op, fmt.Errorf("%w: op %s has unknown kind %d", ErrMalformedUpdate, op.ID, op.Kind)
	}
	return op, nil
}

func decodeID(b []byte) (ID, error) {
	var id ID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return id, wireError(protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.VarintType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return id, wireError(protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		v, m := protowire.ConsumeVarint(b)
		if m < 0 {
			return id, wireError(protowire.ParseError(m))
		}
		b = b[m:]
		switch num {
		case fieldIDClient:
			id.Client = v
		case fieldIDClock:
			id.Clock = v
		}
	}
	return id, nil
}

// EncodeStateVector serializes sv with entries in ascending client order.
func EncodeStateVector(sv StateVector) []byte {
	var b []byte
	for _, client := range sv.clients() {
		b = protowire.AppendTag(b, fieldRepeated, protowire.BytesType)
		b = protowire.AppendBytes(b, appendID(nil, ID{Client: client, Clock: sv[client]}))
	}
	return b
}

// DecodeStateVector parses a state vector. An empty input is the empty vector.
func DecodeStateVector(b []byte) (StateVector, error) {
	sv := StateVector{}
	err := forEachRepeated(b, func(raw []byte) error {
		id, err := decodeID(raw)
		if err != nil {
			return err
		}
		sv[id.Client] = id.Clock
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sv, nil
}

func forEachRepeated(b []byte, fn func([]byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldRepeated || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return wireError(protowire.ParseError(m))
			}
			b = b[m:]
			continue
		}
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return wireError(protowire.ParseError(m))
		}
		b = b[m:]
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func wireError(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
}
