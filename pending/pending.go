// Package pending correlates outgoing calls with the results that answer them.
//
// Each call that expects a result registers its id before the message is written, so the
// read loop can never see a reply for an id it does not know yet:
//
//	caller ── Add(7) ── Send(call 7) ── <-slot ─────────────┐
//	read loop ──────────────── Complete(7, result) ── slot ←┘
//
// When the channel fails, FailAll wakes every waiter with the same result and closes the
// table, so calls issued afterwards fail immediately instead of waiting forever.
package pending

import (
	"errors"
	"sync"

	"nanorpc/message"
)

var (
	ErrDuplicateCall = errors.New("pending: duplicate call id")
	ErrUnknownCall   = errors.New("pending: unknown call id")
	ErrClosed        = errors.New("pending: table closed")
)

// Table is safe for concurrent use.
type Table struct {
	mu     sync.Mutex
	calls  map[uint32]chan *message.Result
	closed *message.Result // set by FailAll
}

// New returns an empty table.
func New() *Table {
	return &Table{calls: make(map[uint32]chan *message.Result)}
}

// Add registers id and returns the slot its result will be delivered on.
// Each slot receives exactly one result.
func (t *Table) Add(id uint32) (<-chan *message.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed != nil {
		return nil, ErrClosed
	}
	if _, ok := t.calls[id]; ok {
		return nil, ErrDuplicateCall
	}
	slot := make(chan *message.Result, 1)
	t.calls[id] = slot
	return slot, nil
}

// Complete removes id and delivers result to its waiter.
func (t *Table) Complete(id uint32, result *message.Result) error {
	t.mu.Lock()
	slot, ok := t.calls[id]
	delete(t.calls, id)
	t.mu.Unlock()
	if !ok {
		return ErrUnknownCall
	}
	slot <- result
	return nil
}

// Remove drops id without signalling, for calls whose message was never sent.
func (t *Table) Remove(id uint32) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// FailAll delivers result to every waiter and closes the table. Later calls are no-ops.
func (t *Table) FailAll(result *message.Result) {
	t.mu.Lock()
	if t.closed != nil {
		t.mu.Unlock()
		return
	}
	t.closed = result
	calls := t.calls
	t.calls = make(map[uint32]chan *message.Result)
	t.mu.Unlock()

	for _, slot := range calls {
		slot <- result
	}
}

// Closed reports whether FailAll has run.
func (t *Table) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed != nil
}

// Len returns the number of calls still waiting.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
