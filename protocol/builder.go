package protocol

import (
	"maps"
	"time"
)

type MessageBuilder struct {
	message *Message
}

// New starts a message from sender carrying payload. The header's message
// type, id, timestamp and version are filled in.
func New(sender string, payload Payload) *MessageBuilder {
	msg := &Message{
		Header: Header{
			MessageID:     generateID(),
			SenderAgentID: sender,
			Timestamp:     time.Now().UTC(),
			Version:       Version,
		},
		Payload: payload,
	}
	if payload != nil {
		msg.Header.MessageType = payload.MessageType()
	}
	return &MessageBuilder{message: msg}
}

// NewReply starts a message answering request: it is addressed to the
// request's sender and continues the request's conversation.
func NewReply(sender string, request *Message, payload Payload) *MessageBuilder {
	return New(sender, payload).
		To(request.Header.SenderAgentID).
		Conversation(request.Header.ConversationID)
}

func (mb *MessageBuilder) To(recipient string) *MessageBuilder {
	mb.message.Header.RecipientAgentID = recipient
	return mb
}

func (mb *MessageBuilder) Conversation(conversationID string) *MessageBuilder {
	mb.message.Header.ConversationID = conversationID
	return mb
}

func (mb *MessageBuilder) Metadata(metadata map[string]any) *MessageBuilder {
	if len(metadata) == 0 {
		mb.message.Header.Metadata = nil
		return mb
	}
	mb.message.Header.Metadata = maps.Clone(metadata)
	return mb
}

func (mb *MessageBuilder) Version(version string) *MessageBuilder {
	mb.message.Header.Version = version
	return mb
}

func (mb *MessageBuilder) Build() *Message {
	return mb.message
}
