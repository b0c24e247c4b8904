package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tailored-agentic-units/acp/handler"
	"github.com/tailored-agentic-units/acp/observability"
	"github.com/tailored-agentic-units/acp/protocol"
	"github.com/tailored-agentic-units/acp/store"
)

const defaultMaxResults = 10

// table builds the node's dispatch table. Response types (task_result,
// knowledge_response, heartbeat_ack) are left unregistered: they are only
// meaningful to an outstanding request.
func (n *Node) table() *handler.Table {
	return handler.NewTable().
		MustRegister(protocol.MessageTypeHeartbeat, handler.HeartbeatResponder).
		MustRegister(protocol.MessageTypeTaskRequest, n.handleTaskRequest).
		MustRegister(protocol.MessageTypeKnowledgeQuery, n.handleKnowledgeQuery).
		MustRegister(protocol.MessageTypeInformationShare, n.handleInformationShare).
		MustRegister(protocol.MessageTypeStatusUpdate, n.logMessage).
		MustRegister(protocol.MessageTypeErrorMessage, n.logMessage).
		MustRegister(protocol.MessageTypeUserInterventionRequest, n.logMessage).
		MustRegister(protocol.MessageTypeAgentRegistration, handler.LogPresence(n.logger)).
		MustRegister(protocol.MessageTypeAgentDeregistration, handler.LogPresence(n.logger))
}

func (n *Node) handleTaskRequest(ctx context.Context, msg *protocol.Message, mc *handler.Context) error {
	req := msg.Payload.(*protocol.TaskRequest)

	if req.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *req.Deadline)
		defer cancel()
	}

	result := &protocol.TaskResult{TaskName: req.TaskName}

	fn, ok := n.tasks[req.TaskName]
	if !ok {
		result.Status = protocol.TaskStatusFailure
		result.ErrorMessage = fmt.Errorf("%w: %s", ErrUnknownTask, req.TaskName).Error()
	} else if value, err := fn(ctx, req.TaskInput); err != nil {
		result.Status = protocol.TaskStatusFailure
		result.ErrorMessage = err.Error()
	} else {
		result.Status = protocol.TaskStatusSuccess
		result.Result = value
	}

	event, level := EventTaskComplete, observability.LevelInfo
	if result.Status != protocol.TaskStatusSuccess {
		event, level = EventTaskFailed, observability.LevelWarning
	}
	observability.Emit(ctx, n.observer, event, level, "node.handleTaskRequest", map[string]any{
		"agent_id":  mc.AgentID,
		"task_name": req.TaskName,
		"requester": msg.Header.SenderAgentID,
		"error":     result.ErrorMessage,
	})

	_, err := mc.Reply(ctx, msg, result)
	return err
}

func (n *Node) handleKnowledgeQuery(ctx context.Context, msg *protocol.Message, mc *handler.Context) error {
	query := msg.Payload.(*protocol.KnowledgeQuery)

	if n.store == nil {
		_, err := mc.Reply(ctx, msg, &protocol.ErrorMessage{
			Code:    "store_unavailable",
			Message: "agent has no knowledge store",
		})
		return err
	}

	limit := query.MaxResults
	if limit == 0 {
		limit = defaultMaxResults
	}

	matches, err := store.Search(ctx, n.store, query.Query, limit)
	if err != nil {
		_, replyErr := mc.Reply(ctx, msg, &protocol.ErrorMessage{
			Code:    "store_error",
			Message: err.Error(),
		})
		return errors.Join(err, replyErr)
	}

	results := make([]any, 0, len(matches))
	for _, obj := range matches {
		results = append(results, map[string]any{
			"id":      obj.ID,
			"subject": obj.Subject,
			"content": obj.Content,
			"tags":    obj.Tags,
			"source":  obj.Source,
		})
	}

	_, err = mc.Reply(ctx, msg, &protocol.KnowledgeResponse{
		Query:   query.Query,
		Results: results,
		Source:  mc.AgentID,
	})
	return err
}

func (n *Node) handleInformationShare(ctx context.Context, msg *protocol.Message, mc *handler.Context) error {
	share := msg.Payload.(*protocol.InformationShare)

	if n.store == nil {
		n.logger.InfoContext(
			ctx,
			"information shared",
			slog.String("topic", share.Topic),
			slog.String("from", msg.Header.SenderAgentID),
		)
		return nil
	}

	id, err := n.store.Put(ctx, &store.Object{
		Kind:    store.KindKnowledge,
		Subject: share.Topic,
		Content: share.Content,
		Tags:    share.Tags,
		Source:  msg.Header.SenderAgentID,
	})
	if err != nil {
		return fmt.Errorf("store shared information: %w", err)
	}

	observability.Emit(ctx, n.observer, EventKnowledgeSave, observability.LevelVerbose, "node.handleInformationShare",
		map[string]any{
			"agent_id":  mc.AgentID,
			"object_id": id,
			"topic":     share.Topic,
			"source":    msg.Header.SenderAgentID,
		})
	return nil
}

func (n *Node) logMessage(ctx context.Context, msg *protocol.Message, _ *handler.Context) error {
	attrs := []slog.Attr{
		slog.String("from", msg.Header.SenderAgentID),
		slog.String("message_id", msg.ID()),
	}
	level := slog.LevelInfo

	switch p := msg.Payload.(type) {
	case *protocol.StatusUpdate:
		attrs = append(attrs, slog.String("status", p.Status))
		if p.Progress != nil {
			attrs = append(attrs, slog.Float64("progress", *p.Progress))
		}
	case *protocol.ErrorMessage:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("code", p.Code), slog.String("error", p.Message))
	case *protocol.UserInterventionRequest:
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("reason", p.Reason), slog.String("prompt", p.Prompt))
	}

	n.logger.LogAttrs(ctx, level, string(msg.Type()), attrs...)
	return nil
}
