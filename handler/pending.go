package handler

import (
	"sync"

	"github.com/tailored-agentic-units/acp/protocol"
)

// pendingTable tracks outstanding requests by conversation id. Each entry
// holds a channel with room for exactly one response; whoever removes the
// entry from the map decides the request's outcome.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingRequest
}

type pendingRequest struct {
	requestID string
	responses chan *protocol.Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingRequest)}
}

// add registers the request message requestID under conversationID.
func (p *pendingTable) add(conversationID, requestID string) (<-chan *protocol.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[conversationID]; exists {
		return nil, false
	}
	entry := &pendingRequest{
		requestID: requestID,
		responses: make(chan *protocol.Message, 1),
	}
	p.entries[conversationID] = entry
	return entry.responses, true
}

// resolve hands msg to the waiter for conversationID and removes the entry.
// It reports false when no request is outstanding or msg is the request
// itself, which reaches its own sender on a broadcast or a self-addressed
// request.
func (p *pendingTable) resolve(conversationID string, msg *protocol.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.entries[conversationID]
	if !exists || entry.requestID == msg.ID() {
		return false
	}
	delete(p.entries, conversationID)
	entry.responses <- msg
	return true
}

// remove drops the entry. It reports false when a resolution already
// removed it, in which case the response is waiting on the channel.
func (p *pendingTable) remove(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[conversationID]; !exists {
		return false
	}
	delete(p.entries, conversationID)
	return true
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
