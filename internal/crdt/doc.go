// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

// Package crdt implements the replica document engine: a sequence CRDT
// (RGA) holding named texts, exchanged as binary deltas and reconciled with
// per-client state vectors.
//
// Every operation, insert or delete, consumes the next clock of the client
// that created it, so a state vector {client: n} means "all of client's
// operations below n are integrated". Remote operations are integrated only
// in per-client clock order and only once the element they reference is
// present; anything else waits in a pending buffer. This makes merge
// idempotent, order independent and safe under at-least-once delivery.
package crdt

import (
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/tomtom215/quillsync/internal/logging"
)

// UpdateHandler observes every change applied to a document. update holds
// exactly the operations that were integrated.
type UpdateHandler func(update []byte, origin Origin)

// Doc is one replica. It is safe for concurrent use.
type Doc struct {
	mu        sync.Mutex
	client    uint64
	lamport   uint64
	texts     map[string]*sequence
	items     map[ID]*item
	log       map[uint64][]Op
	pending   map[ID]Op
	handlers  []UpdateHandler
	destroyed bool
}

// Option configures a Doc.
type Option func(*Doc)

// WithClientID fixes the replica's client ID. Two live replicas must never
// share one.
func WithClientID(id uint64) Option {
	return func(d *Doc) {
		if id != 0 {
			d.client = id
		}
	}
}

// New creates an empty document.
func New(opts ...Option) *Doc {
	d := &Doc{
		client:  NewClientID(),
		texts:   make(map[string]*sequence),
		items:   make(map[ID]*item),
		log:     make(map[uint64][]Op),
		pending: make(map[ID]Op),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ClientID returns this replica's client ID.
func (d *Doc) ClientID() uint64 {
	return d.client
}

// OnUpdate registers h. Handlers run after the document lock is released,
// in registration order.
func (d *Doc) OnUpdate(h UpdateHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// ApplyLocal applies e as a locally authored edit and returns its delta.
// A no-op edit returns a nil delta.
func (d *Doc) ApplyLocal(e Edit) ([]byte, error) {
	return d.ApplyLocalAs(OriginLocal, e)
}

// ApplyLocalAs is ApplyLocal with an explicit origin tag.
func (d *Doc) ApplyLocalAs(origin Origin, e Edit) ([]byte, error) {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, ErrDestroyed
	}
	ops, err := d.localOps(e)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if len(ops) == 0 {
		d.mu.Unlock()
		return nil, nil
	}
	update := EncodeUpdate(ops)
	handlers := d.handlers
	d.mu.Unlock()

	for _, h := range handlers {
		h(update, origin)
	}
	return update, nil
}

// Replace turns text into value with a single splice covering the
// differing middle section.
func (d *Doc) Replace(text, value string) ([]byte, error) {
	return d.ReplaceAs(OriginLocal, text, value)
}

// ReplaceAs is Replace with an explicit origin tag.
func (d *Doc) ReplaceAs(origin Origin, text, value string) ([]byte, error) {
	return d.ApplyLocalAs(origin, spliceFor(text, d.Text(text), value))
}

func spliceFor(text, current, value string) Edit {
	cur, next := []rune(current), []rune(value)
	prefix := 0
	for prefix < len(cur) && prefix < len(next) && cur[prefix] == next[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(cur)-prefix && suffix < len(next)-prefix &&
		cur[len(cur)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}
	return Edit{
		Text:   text,
		Pos:    prefix,
		Delete: len(cur) - prefix - suffix,
		Insert: string(next[prefix : len(next)-suffix]),
	}
}

// localOps must be called with d.mu held.
func (d *Doc) localOps(e Edit) ([]Op, error) {
	if e.Text == "" {
		return nil, fmt.Errorf("%w: empty text name", ErrOutOfRange)
	}
	seq := d.seq(e.Text)
	if e.Pos < 0 || e.Delete < 0 || e.Pos+e.Delete > seq.visible {
		return nil, fmt.Errorf("%w: pos %d delete %d on length %d", ErrOutOfRange, e.Pos, e.Delete, seq.visible)
	}
	if !utf8.ValidString(e.Insert) {
		return nil, fmt.Errorf("%w: insert is not valid UTF-8", ErrOutOfRange)
	}

	var ops []Op
	if e.Delete > 0 {
		targets := make([]ID, 0, e.Delete)
		for i := 0; i < e.Delete; i++ {
			targets = append(targets, seq.visibleAt(e.Pos+i).id)
		}
		for _, target := range targets {
			op := d.nextOp(KindDelete, e.Text)
			op.Target = target
			d.integrate(op)
			ops = append(ops, op)
		}
	}

	var origin *ID
	if e.Pos > 0 {
		id := seq.visibleAt(e.Pos - 1).id
		origin = &id
	}
	for _, r := range e.Insert {
		op := d.nextOp(KindInsert, e.Text)
		op.Origin = origin
		op.Content = string(r)
		d.integrate(op)
		ops = append(ops, op)
		id := op.ID
		origin = &id
	}
	return ops, nil
}

func (d *Doc) nextOp(kind Kind, text string) Op {
	d.lamport++
	return Op{
		ID:      ID{Client: d.client, Clock: uint64(len(d.log[d.client]))},
		Lamport: d.lamport,
		Kind:    kind,
		Text:    text,
	}
}

// ApplyRemote merges a delta produced by another replica. Already known
// operations are skipped silently; operations with missing dependencies are
// buffered. A malformed delta is rejected as a whole.
func (d *Doc) ApplyRemote(update []byte, origin Origin) error {
	decoded, err := DecodeUpdate(update)
	if err != nil {
		logging.Warn().Err(err).Uint64("client", d.client).Int("bytes", len(update)).Msg("Rejected malformed update")
		return err
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	applied := d.merge(decoded.Ops)
	handlers := d.handlers
	d.mu.Unlock()

	if len(applied) == 0 {
		return nil
	}
	out := EncodeUpdate(applied)
	for _, h := range handlers {
		h(out, origin)
	}
	return nil
}

// merge integrates every ready operation from ops and the pending buffer
// until no more progress is possible. Must be called with d.mu held.
func (d *Doc) merge(ops []Op) []Op {
	for _, op := range ops {
		if op.ID.Clock < d.next(op.ID.Client) {
			continue
		}
		d.pending[op.ID] = op
	}

	var applied []Op
	for {
		ready := make([]Op, 0)
		for id, op := range d.pending {
			switch {
			case id.Clock < d.next(id.Client):
				delete(d.pending, id)
			case d.ready(op):
				ready = append(ready, op)
			}
		}
		if len(ready) == 0 {
			return applied
		}
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].ID.Client != ready[j].ID.Client {
				return ready[i].ID.Client < ready[j].ID.Client
			}
			return ready[i].ID.Clock < ready[j].ID.Clock
		})
		for _, op := range ready {
			// Readiness of a later clock of the same client depends on the
			// earlier one having been integrated in this same pass.
			if !d.ready(op) {
				continue
			}
			delete(d.pending, op.ID)
			if op.Lamport > d.lamport {
				d.lamport = op.Lamport
			}
			d.integrate(op)
			applied = append(applied, op)
		}
	}
}

func (d *Doc) next(client uint64) uint64 {
	return uint64(len(d.log[client]))
}

func (d *Doc) ready(op Op) bool {
	if op.ID.Clock != d.next(op.ID.Client) {
		return false
	}
	switch op.Kind {
	case KindInsert:
		if op.Origin == nil {
			return true
		}
		_, ok := d.items[*op.Origin]
		return ok
	case KindDelete:
		_, ok := d.items[op.Target]
		return ok
	}
	return false
}

// integrate applies a ready op and appends it to the log.
func (d *Doc) integrate(op Op) {
	d.log[op.ID.Client] = append(d.log[op.ID.Client], op)
	switch op.Kind {
	case KindInsert:
		it := &item{id: op.ID, lamport: op.Lamport, content: op.Content}
		var origin *item
		if op.Origin != nil {
			origin = d.items[*op.Origin]
		}
		d.items[op.ID] = it
		d.seq(op.Text).integrate(it, origin)
	case KindDelete:
		target := d.items[op.Target]
		for _, seq := range d.texts {
			if seq.indexOf(target) >= 0 {
				seq.remove(target)
				break
			}
		}
	}
}

func (d *Doc) seq(name string) *sequence {
	s, ok := d.texts[name]
	if !ok {
		s = &sequence{}
		d.texts[name] = s
	}
	return s
}

// StateVector returns the integrated clock per client.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	sv := make(StateVector, len(d.log))
	for client, ops := range d.log {
		sv[client] = uint64(len(ops))
	}
	return sv
}

// Diff returns the delta holding exactly the integrated operations sv lacks,
// ordered so that every dependency precedes its dependents. The result is
// nil when sv already covers this replica.
func (d *Doc) Diff(sv StateVector) []byte {
	d.mu.Lock()
	var ops []Op
	for client, log := range d.log {
		if from := sv[client]; from < uint64(len(log)) {
			ops = append(ops, log[from:]...)
		}
	}
	d.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].Lamport != ops[j].Lamport {
			return ops[i].Lamport < ops[j].Lamport
		}
		return ops[i].ID.Client < ops[j].ID.Client
	})
	return EncodeUpdate(ops)
}

// EncodeState returns the full document as a single update.
func (d *Doc) EncodeState() []byte {
	return d.Diff(nil)
}

// Text materializes one named text.
func (d *Doc) Text(name string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.texts[name]; ok {
		return s.String()
	}
	return ""
}

// Len returns the visible rune count of a text.
func (d *Doc) Len(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.texts[name]; ok {
		return s.visible
	}
	return 0
}

// Materialize returns every non-empty text.
func (d *Doc) Materialize() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.texts))
	for name, s := range d.texts {
		if s.visible > 0 {
			out[name] = s.String()
		}
	}
	return out
}

// IsEmpty reports whether no operation was ever integrated.
func (d *Doc) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.log) == 0
}

// PendingCount returns the number of buffered operations waiting on
// missing dependencies.
func (d *Doc) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Destroy frees all state. Later calls return ErrDestroyed.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.texts = nil
	d.items = nil
	d.log = nil
	d.pending = nil
	d.handlers = nil
}
