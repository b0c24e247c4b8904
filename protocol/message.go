package protocol

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version stamped on outgoing messages.
const Version = "1.0"

type MessageType string

const (
	MessageTypeTaskRequest             MessageType = "task_request"
	MessageTypeTaskResult              MessageType = "task_result"
	MessageTypeKnowledgeQuery          MessageType = "knowledge_query"
	MessageTypeKnowledgeResponse       MessageType = "knowledge_response"
	MessageTypeInformationShare        MessageType = "information_share"
	MessageTypeUserInterventionRequest MessageType = "user_intervention_request"
	MessageTypeStatusUpdate            MessageType = "status_update"
	MessageTypeErrorMessage            MessageType = "error_message"
	MessageTypeAgentRegistration       MessageType = "agent_registration"
	MessageTypeAgentDeregistration     MessageType = "agent_deregistration"
	MessageTypeHeartbeat               MessageType = "heartbeat"
	MessageTypeHeartbeatAck            MessageType = "heartbeat_ack"
)

var messageTypes = []MessageType{
	MessageTypeTaskRequest,
	MessageTypeTaskResult,
	MessageTypeKnowledgeQuery,
	MessageTypeKnowledgeResponse,
	MessageTypeInformationShare,
	MessageTypeUserInterventionRequest,
	MessageTypeStatusUpdate,
	MessageTypeErrorMessage,
	MessageTypeAgentRegistration,
	MessageTypeAgentDeregistration,
	MessageTypeHeartbeat,
	MessageTypeHeartbeatAck,
}

// MessageTypes returns every message type defined by the protocol.
func MessageTypes() []MessageType {
	return slices.Clone(messageTypes)
}

func (t MessageType) Valid() bool {
	return slices.Contains(messageTypes, t)
}

// Header carries routing and correlation metadata. An empty ConversationID or
// RecipientAgentID is encoded as JSON null; an empty recipient means broadcast.
type Header struct {
	MessageID        string
	ConversationID   string
	SenderAgentID    string
	RecipientAgentID string
	Timestamp        time.Time
	MessageType      MessageType
	Version          string
	Metadata         map[string]any
}

type wireHeader struct {
	MessageID        string         `json:"message_id"`
	ConversationID   *string        `json:"conversation_id"`
	SenderAgentID    string         `json:"sender_agent_id"`
	RecipientAgentID *string        `json:"recipient_agent_id"`
	Timestamp        string         `json:"timestamp"`
	MessageType      MessageType    `json:"message_type"`
	Version          string         `json:"version,omitempty"`
	Metadata         map[string]any `json:"metadata"`
}

func (h Header) MarshalJSON() ([]byte, error) {
	w := wireHeader{
		MessageID:     h.MessageID,
		SenderAgentID: h.SenderAgentID,
		Timestamp:     h.Timestamp.UTC().Format(time.RFC3339Nano),
		MessageType:   h.MessageType,
		Version:       h.Version,
		Metadata:      h.Metadata,
	}
	if h.ConversationID != "" {
		w.ConversationID = &h.ConversationID
	}
	if h.RecipientAgentID != "" {
		w.RecipientAgentID = &h.RecipientAgentID
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	return json.Marshal(w)
}

func (h *Header) UnmarshalJSON(data []byte) error {
	var w wireHeader
	if err := strictDecode(data, &w); err != nil {
		return err
	}

	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339Nano, w.Timestamp)
		if err != nil {
			return invalid("header.timestamp", err.Error())
		}
		ts = parsed.UTC()
	}

	*h = Header{
		MessageID:     w.MessageID,
		SenderAgentID: w.SenderAgentID,
		Timestamp:     ts,
		MessageType:   w.MessageType,
		Version:       w.Version,
		Metadata:      w.Metadata,
	}
	if w.ConversationID != nil {
		h.ConversationID = *w.ConversationID
	}
	if w.RecipientAgentID != nil {
		h.RecipientAgentID = *w.RecipientAgentID
	}
	if h.Version == "" {
		h.Version = Version
	}
	if len(h.Metadata) == 0 {
		h.Metadata = nil
	}
	return nil
}

// Validate checks the header fields every message must carry.
func (h *Header) Validate() error {
	if h.MessageID == "" {
		return required("header.message_id")
	}
	if _, err := uuid.Parse(h.MessageID); err != nil {
		return invalid("header.message_id", "not a UUID")
	}
	if h.ConversationID != "" {
		if _, err := uuid.Parse(h.ConversationID); err != nil {
			return invalid("header.conversation_id", "not a UUID")
		}
	}
	if h.SenderAgentID == "" {
		return required("header.sender_agent_id")
	}
	if h.MessageType == "" {
		return required("header.message_type")
	}
	if !h.MessageType.Valid() {
		return invalid("header.message_type", fmt.Sprintf("unknown message type %q", h.MessageType))
	}
	if h.Timestamp.IsZero() {
		return required("header.timestamp")
	}
	return nil
}

type Message struct {
	Header  Header
	Payload Payload
}

// Validate checks the header and payload, and that the payload variant
// matches the declared message type.
func (msg *Message) Validate() error {
	if err := msg.Header.Validate(); err != nil {
		return err
	}
	if msg.Payload == nil {
		return required("payload")
	}
	if msg.Payload.MessageType() != msg.Header.MessageType {
		return invalid("payload", fmt.Sprintf(
			"%s payload does not match message type %s",
			msg.Payload.MessageType(),
			msg.Header.MessageType,
		))
	}
	return msg.Payload.Validate()
}

func (msg *Message) ID() string {
	return msg.Header.MessageID
}

func (msg *Message) Type() MessageType {
	return msg.Header.MessageType
}

func (msg *Message) IsBroadcast() bool {
	return msg.Header.RecipientAgentID == ""
}

// AddressedTo reports whether agentID should process the message: broadcasts
// are addressed to everyone.
func (msg *Message) AddressedTo(agentID string) bool {
	return msg.IsBroadcast() || msg.Header.RecipientAgentID == agentID
}

func (msg *Message) Clone() *Message {
	clone := *msg
	clone.Header.Metadata = maps.Clone(msg.Header.Metadata)
	return &clone
}

func (msg *Message) String() string {
	return fmt.Sprintf(
		"Message{ID: %s, Type: %s, From: %s, To: %s, Conversation: %s}",
		msg.Header.MessageID,
		msg.Header.MessageType,
		msg.Header.SenderAgentID,
		msg.Header.RecipientAgentID,
		msg.Header.ConversationID,
	)
}

func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewConversationID returns a fresh correlation id.
func NewConversationID() string {
	return uuid.NewString()
}
