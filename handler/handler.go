package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tailored-agentic-units/acp/observability"
	"github.com/tailored-agentic-units/acp/protocol"
	"github.com/tailored-agentic-units/acp/transport"
)

type Handler struct {
	cfg       Config
	agentID   string
	transport transport.Transport
	table     *Table
	pending   *pendingTable
	metrics   *Metrics
	logger    *slog.Logger
	observer  observability.Observer

	mu      sync.Mutex
	started bool
}

type Option func(*Handler)

func WithObserver(observer observability.Observer) Option {
	return func(h *Handler) {
		if observer != nil {
			h.observer = observer
		}
	}
}

// WithTable replaces the handler's dispatch table with one assembled by the
// caller.
func WithTable(table *Table) Option {
	return func(h *Handler) {
		if table != nil {
			h.table = table
		}
	}
}

func New(cfg Config, t transport.Transport, opts ...Option) (*Handler, error) {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	if merged.AgentID == "" {
		return nil, ErrNoAgentID
	}
	if t == nil {
		return nil, ErrNoTransport
	}

	h := &Handler{
		cfg:       merged,
		agentID:   merged.AgentID,
		transport: t,
		table:     NewTable(),
		pending:   newPendingTable(),
		metrics:   NewMetrics(),
		logger:    merged.Logger.With(slog.String("agent_id", merged.AgentID)),
		observer:  observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) AgentID() string {
	return h.agentID
}

func (h *Handler) BroadcastTopic() string {
	return h.cfg.BroadcastTopic
}

// Start connects the transport and subscribes to the agent's inbox and the
// broadcast topic.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	if err := h.transport.Connect(ctx); err != nil {
		return fmt.Errorf("start %s: %w", h.agentID, err)
	}

	topics := []string{h.agentID}
	if h.cfg.BroadcastTopic != h.agentID {
		topics = append(topics, h.cfg.BroadcastTopic)
	}

	for i, topic := range topics {
		if err := h.transport.Subscribe(ctx, topic, h.onDelivery, h.subscribeOptions(topic)...); err != nil {
			for _, subscribed := range topics[:i] {
				h.transport.Unsubscribe(ctx, subscribed)
			}
			return fmt.Errorf("start %s: %w", h.agentID, err)
		}
	}
	h.started = true

	h.logger.InfoContext(
		ctx,
		"protocol handler started",
		slog.String("broadcast_topic", h.cfg.BroadcastTopic),
		slog.Any("handles", h.table.Types()),
	)

	if h.cfg.AnnouncePresence {
		_, err := h.SendMessage(ctx, &protocol.AgentRegistration{
			AgentID:      h.agentID,
			Capabilities: h.cfg.Capabilities,
		}, SendOptions{})
		if err != nil {
			h.logger.WarnContext(ctx, "registration announcement failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (h *Handler) subscribeOptions(topic string) []transport.SubscribeOption {
	if h.cfg.ConsumerName == "" {
		return nil
	}
	return []transport.SubscribeOption{
		transport.WithConsumerName(h.cfg.ConsumerName + ":" + topic),
	}
}

// Stop disconnects the transport. Outstanding requests run on to their own
// deadlines.
func (h *Handler) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	if h.cfg.AnnouncePresence {
		_, err := h.SendMessage(ctx, &protocol.AgentDeregistration{
			AgentID: h.agentID,
			Reason:  "shutdown",
		}, SendOptions{})
		if err != nil {
			h.logger.WarnContext(ctx, "deregistration announcement failed", slog.String("error", err.Error()))
		}
	}

	h.started = false
	if err := h.transport.Disconnect(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", h.agentID, err)
	}

	h.logger.InfoContext(ctx, "protocol handler stopped")
	return nil
}

// RegisterHandler binds fn to typ in the handler's dispatch table.
func (h *Handler) RegisterHandler(typ protocol.MessageType, fn Func) error {
	return h.table.Register(typ, fn)
}

type SendOptions struct {
	// Recipient is the target agent id. Empty broadcasts the message.
	Recipient      string
	ConversationID string
	Metadata       map[string]any
}

// SendMessage publishes payload from this agent and returns the new message
// id. The message type follows the payload variant.
func (h *Handler) SendMessage(ctx context.Context, payload protocol.Payload, opts SendOptions) (string, error) {
	msg, err := h.build(payload, opts)
	if err != nil {
		return "", err
	}
	if err := h.publish(ctx, msg, opts.Recipient); err != nil {
		return "", err
	}
	return msg.ID(), nil
}

func (h *Handler) build(payload protocol.Payload, opts SendOptions) (*protocol.Message, error) {
	if payload == nil {
		return nil, fmt.Errorf("send: %w", &protocol.ValidationError{Field: "payload", Reason: "is required"})
	}

	return protocol.New(h.agentID, payload).
		To(opts.Recipient).
		Conversation(opts.ConversationID).
		Metadata(opts.Metadata).
		Build(), nil
}

func (h *Handler) publish(ctx context.Context, msg *protocol.Message, recipient string) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}

	topic := h.topicFor(recipient)
	if _, err := h.transport.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}

	h.metrics.RecordSent()
	h.logger.DebugContext(
		ctx,
		"message sent",
		slog.String("message_id", msg.ID()),
		slog.String("message_type", string(msg.Type())),
		slog.String("topic", topic),
		slog.String("conversation_id", msg.Header.ConversationID),
	)
	observability.Emit(ctx, h.observer, observability.EventMessageSend, observability.LevelVerbose,
		"handler.SendMessage", map[string]any{
			"agent_id":     h.agentID,
			"message_id":   msg.ID(),
			"message_type": string(msg.Type()),
			"topic":        topic,
		})
	return nil
}

// SendMessageType is SendMessage for callers that state the message type
// explicitly. The payload variant must agree with typ.
func (h *Handler) SendMessageType(
	ctx context.Context,
	typ protocol.MessageType,
	payload protocol.Payload,
	opts SendOptions,
) (string, error) {
	if payload != nil && payload.MessageType() != typ {
		return "", fmt.Errorf("send: %w", &protocol.ValidationError{
			Field:  "message_type",
			Reason: fmt.Sprintf("%s payload cannot be sent as %s", payload.MessageType(), typ),
		})
	}
	return h.SendMessage(ctx, payload, opts)
}

// Reply sends payload to the sender of request within request's
// conversation.
func (h *Handler) Reply(ctx context.Context, request *protocol.Message, payload protocol.Payload) (string, error) {
	return h.SendMessage(ctx, payload, SendOptions{
		Recipient:      request.Header.SenderAgentID,
		ConversationID: request.Header.ConversationID,
	})
}

func (h *Handler) topicFor(recipient string) string {
	if recipient == "" {
		return h.cfg.BroadcastTopic
	}
	return recipient
}

// SendRequestAndAwaitResponse sends payload under a fresh conversation id
// and waits for the first other message carrying that id. A timeout of zero
// uses Config.DefaultTimeout. An empty recipient broadcasts the request; a
// recipient equal to the agent's own id is answered by its own handlers.
func (h *Handler) SendRequestAndAwaitResponse(
	ctx context.Context,
	payload protocol.Payload,
	recipient string,
	timeout time.Duration,
) (*protocol.Message, error) {
	if timeout <= 0 {
		timeout = h.cfg.DefaultTimeout
	}

	conversationID := protocol.NewConversationID()
	request, err := h.build(payload, SendOptions{
		Recipient:      recipient,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	responses, ok := h.pending.add(conversationID, request.ID())
	if !ok {
		return nil, fmt.Errorf("request: conversation %s already pending", conversationID)
	}

	observability.Emit(ctx, h.observer, observability.EventRequestStart, observability.LevelVerbose,
		"handler.SendRequestAndAwaitResponse", map[string]any{
			"agent_id":        h.agentID,
			"conversation_id": conversationID,
			"recipient":       recipient,
		})

	if err := h.publish(ctx, request, recipient); err != nil {
		h.pending.remove(conversationID)
		return nil, fmt.Errorf("request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-responses:
		return h.resolved(ctx, conversationID, response), nil
	case <-timer.C:
		if !h.pending.remove(conversationID) {
			return h.resolved(ctx, conversationID, <-responses), nil
		}
		h.metrics.RecordTimeout()
		h.logger.WarnContext(
			ctx,
			"request timed out",
			slog.String("conversation_id", conversationID),
			slog.String("recipient", recipient),
			slog.Duration("timeout", timeout),
		)
		observability.Emit(ctx, h.observer, observability.EventRequestTimeout, observability.LevelWarning,
			"handler.SendRequestAndAwaitResponse", map[string]any{
				"agent_id":        h.agentID,
				"conversation_id": conversationID,
				"timeout":         timeout.String(),
			})
		return nil, fmt.Errorf("request %s after %v: %w", conversationID, timeout, ErrTimeout)
	case <-ctx.Done():
		if !h.pending.remove(conversationID) {
			return h.resolved(ctx, conversationID, <-responses), nil
		}
		return nil, fmt.Errorf("request %s cancelled: %w", conversationID, ctx.Err())
	}
}

func (h *Handler) resolved(ctx context.Context, conversationID string, response *protocol.Message) *protocol.Message {
	observability.Emit(ctx, h.observer, observability.EventRequestResolve, observability.LevelVerbose,
		"handler.SendRequestAndAwaitResponse", map[string]any{
			"agent_id":        h.agentID,
			"conversation_id": conversationID,
			"message_type":    string(response.Type()),
		})
	return response
}

// Ping sends a heartbeat to recipient and waits for its acknowledgement.
func (h *Handler) Ping(ctx context.Context, recipient string, timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	response, err := h.SendRequestAndAwaitResponse(ctx, &protocol.Heartbeat{Status: "ping"}, recipient, timeout)
	if err != nil {
		return 0, err
	}
	if response.Type() != protocol.MessageTypeHeartbeatAck {
		return 0, fmt.Errorf("ping %s: unexpected %s response", recipient, response.Type())
	}
	return time.Since(start), nil
}

// ProcessIncomingMessage decodes and validates raw. Malformed input is
// logged and reported as false; it never panics.
func (h *Handler) ProcessIncomingMessage(ctx context.Context, raw []byte) (*protocol.Message, bool) {
	msg, err := h.decode(ctx, raw)
	return msg, err == nil
}

func (h *Handler) decode(ctx context.Context, raw []byte) (msg *protocol.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, err = nil, fmt.Errorf("%w: decoder panic: %v", ErrMalformedMessage, r)
		}
		if err != nil {
			h.metrics.RecordInvalid()
			h.logger.WarnContext(
				ctx,
				"dropping malformed message",
				slog.Int("bytes", len(raw)),
				slog.String("error", err.Error()),
			)
			observability.Emit(ctx, h.observer, observability.EventMessageInvalid, observability.LevelWarning,
				"handler.ProcessIncomingMessage", map[string]any{
					"agent_id": h.agentID,
					"error":    err.Error(),
				})
		}
	}()

	msg, err = protocol.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return msg, nil
}

// Dispatch routes one decoded message. It never returns handler failures;
// they are logged and counted.
func (h *Handler) Dispatch(ctx context.Context, msg *protocol.Message) {
	h.dispatch(ctx, msg, "")
}

func (h *Handler) dispatch(ctx context.Context, msg *protocol.Message, topic string) {
	h.metrics.RecordReceived()
	observability.Emit(ctx, h.observer, observability.EventMessageReceive, observability.LevelVerbose,
		"handler.Dispatch", map[string]any{
			"agent_id":     h.agentID,
			"message_id":   msg.ID(),
			"message_type": string(msg.Type()),
			"sender":       msg.Header.SenderAgentID,
		})

	if reason, drop := h.filter(msg); drop {
		h.metrics.RecordFiltered()
		h.logger.DebugContext(
			ctx,
			"message ignored",
			slog.String("message_id", msg.ID()),
			slog.String("reason", reason),
		)
		observability.Emit(ctx, h.observer, observability.EventMessageFiltered, observability.LevelVerbose,
			"handler.Dispatch", map[string]any{
				"agent_id":   h.agentID,
				"message_id": msg.ID(),
				"reason":     reason,
			})
		return
	}

	conversationID := msg.Header.ConversationID
	if conversationID != "" && h.pending.resolve(conversationID, msg) {
		h.metrics.RecordResolved()
		h.logger.DebugContext(
			ctx,
			"response correlated",
			slog.String("message_id", msg.ID()),
			slog.String("conversation_id", conversationID),
		)
		return
	}

	fn, ok := h.table.Lookup(msg.Type())
	if !ok {
		h.metrics.RecordUnroutable()
		h.logger.InfoContext(
			ctx,
			"unroutable message dropped",
			slog.String("message_id", msg.ID()),
			slog.String("message_type", string(msg.Type())),
			slog.String("sender", msg.Header.SenderAgentID),
			slog.String("conversation_id", conversationID),
		)
		observability.Emit(ctx, h.observer, observability.EventMessageUnroutable, observability.LevelInfo,
			"handler.Dispatch", map[string]any{
				"agent_id":        h.agentID,
				"message_id":      msg.ID(),
				"message_type":    string(msg.Type()),
				"conversation_id": conversationID,
			})
		return
	}

	h.metrics.RecordDispatched()
	observability.Emit(ctx, h.observer, observability.EventMessageDispatch, observability.LevelVerbose,
		"handler.Dispatch", map[string]any{
			"agent_id":     h.agentID,
			"message_id":   msg.ID(),
			"message_type": string(msg.Type()),
		})

	mc := &Context{AgentID: h.agentID, Topic: topic, handler: h}
	if err := h.invoke(ctx, fn, msg, mc); err != nil {
		h.metrics.RecordHandlerError()
		h.logger.ErrorContext(
			ctx,
			"message handler failed",
			slog.String("message_id", msg.ID()),
			slog.String("message_type", string(msg.Type())),
			slog.String("error", err.Error()),
		)
		observability.Emit(ctx, h.observer, observability.EventHandlerError, observability.LevelError,
			"handler.Dispatch", map[string]any{
				"agent_id":     h.agentID,
				"message_id":   msg.ID(),
				"message_type": string(msg.Type()),
				"error":        err.Error(),
			})
	}
}

// filter reports why msg should not be processed by this agent. Broadcasts
// are processed by every agent, their sender included.
func (h *Handler) filter(msg *protocol.Message) (string, bool) {
	if !msg.AddressedTo(h.agentID) {
		return "addressed to " + msg.Header.RecipientAgentID, true
	}
	return "", false
}

func (h *Handler) invoke(ctx context.Context, fn Func, msg *protocol.Message, mc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, msg, mc)
}

// onDelivery is the transport callback for both subscribed topics. Only
// undecodable payloads are reported back to the transport.
func (h *Handler) onDelivery(ctx context.Context, topic string, payload []byte) error {
	msg, err := h.decode(ctx, payload)
	if err != nil {
		return err
	}
	h.dispatch(ctx, msg, topic)
	return nil
}

func (h *Handler) Metrics() MetricsSnapshot {
	snapshot := h.metrics.Snapshot()
	snapshot.Pending = int64(h.pending.len())
	return snapshot
}
