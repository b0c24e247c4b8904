package handler

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tailored-agentic-units/acp/protocol"
)

// Func handles one dispatched message. A returned error is logged; it never
// reaches the transport.
type Func func(ctx context.Context, msg *protocol.Message, mc *Context) error

// Table maps each message type to exactly one Func. It is normally filled
// once at startup and read concurrently afterwards.
type Table struct {
	mu       sync.RWMutex
	handlers map[protocol.MessageType]Func
}

func NewTable() *Table {
	return &Table{handlers: make(map[protocol.MessageType]Func)}
}

// Register binds fn to typ. A second registration for the same type fails
// with ErrDuplicateHandler and leaves the first in place.
func (t *Table) Register(typ protocol.MessageType, fn Func) error {
	if !typ.Valid() {
		return fmt.Errorf("register handler: unknown message type %q", typ)
	}
	if fn == nil {
		return fmt.Errorf("register handler for %s: nil handler", typ)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.handlers[typ]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, typ)
	}
	t.handlers[typ] = fn
	return nil
}

// MustRegister is Register for tables assembled at program start.
func (t *Table) MustRegister(typ protocol.MessageType, fn Func) *Table {
	if err := t.Register(typ, fn); err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Lookup(typ protocol.MessageType) (Func, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.handlers[typ]
	return fn, ok
}

// Types returns the registered message types in sorted order.
func (t *Table) Types() []protocol.MessageType {
	t.mu.RLock()
	defer t.mu.RUnlock()

	types := make([]protocol.MessageType, 0, len(t.handlers))
	for typ := range t.handlers {
		types = append(types, typ)
	}
	slices.Sort(types)
	return types
}
