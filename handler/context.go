package handler

import (
	"context"

	"github.com/tailored-agentic-units/acp/protocol"
)

// Context is passed to every handler Func and lets it answer through the
// handler that dispatched the message.
type Context struct {
	AgentID string
	Topic   string

	handler *Handler
}

func (c *Context) Reply(ctx context.Context, request *protocol.Message, payload protocol.Payload) (string, error) {
	return c.handler.Reply(ctx, request, payload)
}

func (c *Context) Send(ctx context.Context, payload protocol.Payload, opts SendOptions) (string, error) {
	return c.handler.SendMessage(ctx, payload, opts)
}
