package storage

import (
	"bytes"
	"errors"
	"sort"
)

// ErrOverlayClosed is returned when an overlay is used after Commit or
// Discard.
var ErrOverlayClosed = errors.New("storage: overlay already closed")

// Overlay buffers writes on top of a parent database. Reads observe the
// buffered writes first. Nothing reaches the parent until Commit, which
// applies every pending write in a single batch.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	parent  Database
	pending map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

// NewOverlay starts a write buffer over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if o.closed {
		return nil, ErrOverlayClosed
	}
	k := string(key)
	if value, ok := o.pending[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if _, ok := o.deleted[k]; ok {
		return nil, ErrNotFound
	}
	return o.parent.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	if o.closed {
		return false, ErrOverlayClosed
	}
	k := string(key)
	if _, ok := o.pending[k]; ok {
		return true, nil
	}
	if _, ok := o.deleted[k]; ok {
		return false, nil
	}
	return o.parent.Has(key)
}

func (o *Overlay) Put(key, value []byte) error {
	if o.closed {
		return ErrOverlayClosed
	}
	k := string(key)
	delete(o.deleted, k)
	o.pending[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	if o.closed {
		return ErrOverlayClosed
	}
	k := string(key)
	delete(o.pending, k)
	o.deleted[k] = struct{}{}
	return nil
}

// Iterate merges the parent's keys with the buffered writes.
func (o *Overlay) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	if o.closed {
		return ErrOverlayClosed
	}
	merged := make(map[string][]byte)
	err := o.parent.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	})
	if err != nil {
		return err
	}
	for k := range o.deleted {
		delete(merged, k)
	}
	for k, v := range o.pending {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), append([]byte(nil), merged[k]...)) {
			return nil
		}
	}
	return nil
}

// NewBatch returns a batch that writes into the overlay, not the parent.
func (o *Overlay) NewBatch() Batch {
	return &overlayBatch{overlay: o}
}

// Len reports the number of keys touched since the overlay was opened.
func (o *Overlay) Len() int {
	return len(o.pending) + len(o.deleted)
}

// Commit flushes the buffered writes to the parent atomically and closes the
// overlay.
func (o *Overlay) Commit() error {
	if o.closed {
		return ErrOverlayClosed
	}
	o.closed = true
	if len(o.pending) == 0 && len(o.deleted) == 0 {
		return nil
	}
	batch := o.parent.NewBatch()
	for k := range o.deleted {
		batch.Delete([]byte(k))
	}
	for k, v := range o.pending {
		batch.Put([]byte(k), v)
	}
	return batch.Write()
}

// Discard drops every buffered write and closes the overlay.
func (o *Overlay) Discard() {
	o.closed = true
	o.pending = nil
	o.deleted = nil
}

// Close is a no-op; the parent database owns the underlying resources.
func (o *Overlay) Close() {}

type overlayBatch struct {
	overlay *Overlay
	ops     []memOp
}

func (b *overlayBatch) Put(key, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *overlayBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
}

func (b *overlayBatch) Len() int { return len(b.ops) }

func (b *overlayBatch) Write() error {
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = b.overlay.Delete([]byte(op.key))
		} else {
			err = b.overlay.Put([]byte(op.key), op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
