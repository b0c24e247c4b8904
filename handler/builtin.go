package handler

import (
	"context"
	"log/slog"

	"github.com/tailored-agentic-units/acp/protocol"
)

// HeartbeatResponder acknowledges a heartbeat to its sender, keeping the
// heartbeat's conversation so a Ping can correlate the ack.
func HeartbeatResponder(ctx context.Context, msg *protocol.Message, mc *Context) error {
	_, err := mc.Reply(ctx, msg, &protocol.HeartbeatAck{AckedMessageID: msg.ID()})
	return err
}

// LogPresence records agent_registration and agent_deregistration messages.
func LogPresence(logger *slog.Logger) Func {
	return func(ctx context.Context, msg *protocol.Message, mc *Context) error {
		switch p := msg.Payload.(type) {
		case *protocol.AgentRegistration:
			logger.InfoContext(
				ctx,
				"agent registered",
				slog.String("agent_id", p.AgentID),
				slog.Any("capabilities", p.Capabilities),
			)
		case *protocol.AgentDeregistration:
			logger.InfoContext(
				ctx,
				"agent deregistered",
				slog.String("agent_id", p.AgentID),
				slog.String("reason", p.Reason),
			)
		}
		return nil
	}
}
