package voxl

import (
	"sort"
	"sync"
	"time"
)

// Record is one rendered document waiting to be published.
type Record struct {
	Channel   int
	Topic     string
	Payload   []byte
	QoS       byte
	UpdatedAt time.Time
}

type bufferedRecord struct {
	Record
	dirty bool
}

// Buffer keeps the latest document per channel. Between two drains a channel
// yields at most one record, the most recent Put.
//
// Thread Safety: one mutex guards the whole table. It is held for a single
// Put or for a whole Drain or Clear, never across a publish.
type Buffer struct {
	mu      sync.Mutex
	entries map[int]*bufferedRecord
	now     func() time.Time
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		entries: make(map[int]*bufferedRecord),
		now:     time.Now,
	}
}

// Put stores payload as the latest record for channel and marks it dirty. It
// reports whether an unpublished record was overwritten.
func (b *Buffer) Put(channel int, topic string, payload []byte, qos byte) (superseded bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[channel]
	if !ok {
		e = &bufferedRecord{}
		b.entries[channel] = e
	}
	superseded = e.dirty
	e.Record = Record{
		Channel:   channel,
		Topic:     topic,
		Payload:   payload,
		QoS:       qos,
		UpdatedAt: b.now(),
	}
	e.dirty = true
	return superseded
}

// Drain returns every dirty record in channel order and clears their dirty
// flags.
func (b *Buffer) Drain() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Record
	for _, e := range b.entries {
		if !e.dirty {
			continue
		}
		out = append(out, e.Record)
		e.dirty = false
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Clear removes every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
}

// Len returns the number of channels holding a record, published or not.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Pending returns the number of records awaiting the next drain.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.entries {
		if e.dirty {
			n++
		}
	}
	return n
}
