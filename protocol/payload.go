package protocol

import (
	"fmt"
	"time"
)

// Payload is implemented by each message variant. The variant fixes the
// message type it may travel under.
type Payload interface {
	MessageType() MessageType
	Validate() error
}

type TaskStatus string

const (
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailure TaskStatus = "failure"
	TaskStatusPartial TaskStatus = "partial"
)

type TaskRequest struct {
	TaskName  string         `json:"task_name"`
	TaskInput map[string]any `json:"task_input"`
	Priority  int            `json:"priority"`
	Deadline  *time.Time     `json:"deadline,omitempty"`
}

func (*TaskRequest) MessageType() MessageType { return MessageTypeTaskRequest }

func (p *TaskRequest) Validate() error {
	if p.TaskName == "" {
		return required("payload.task_name")
	}
	return nil
}

type TaskResult struct {
	TaskName     string     `json:"task_name"`
	Status       TaskStatus `json:"status"`
	Result       any        `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

func (*TaskResult) MessageType() MessageType { return MessageTypeTaskResult }

func (p *TaskResult) Validate() error {
	if p.TaskName == "" {
		return required("payload.task_name")
	}
	switch p.Status {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusPartial:
		return nil
	case "":
		return required("payload.status")
	default:
		return invalid("payload.status", fmt.Sprintf("unknown task status %q", p.Status))
	}
}

type KnowledgeQuery struct {
	Query      string         `json:"query"`
	Context    map[string]any `json:"context,omitempty"`
	MaxResults int            `json:"max_results,omitempty"`
}

func (*KnowledgeQuery) MessageType() MessageType { return MessageTypeKnowledgeQuery }

func (p *KnowledgeQuery) Validate() error {
	if p.Query == "" {
		return required("payload.query")
	}
	if p.MaxResults < 0 {
		return invalid("payload.max_results", "must not be negative")
	}
	return nil
}

type KnowledgeResponse struct {
	Query   string `json:"query"`
	Results []any  `json:"results"`
	Source  string `json:"source,omitempty"`
}

func (*KnowledgeResponse) MessageType() MessageType { return MessageTypeKnowledgeResponse }

func (p *KnowledgeResponse) Validate() error {
	if p.Query == "" {
		return required("payload.query")
	}
	return nil
}

type InformationShare struct {
	Topic   string   `json:"topic"`
	Content any      `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

func (*InformationShare) MessageType() MessageType { return MessageTypeInformationShare }

func (p *InformationShare) Validate() error {
	if p.Topic == "" {
		return required("payload.topic")
	}
	if p.Content == nil {
		return required("payload.content")
	}
	return nil
}

type UserInterventionRequest struct {
	Reason  string         `json:"reason"`
	Prompt  string         `json:"prompt,omitempty"`
	Options []string       `json:"options,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

func (*UserInterventionRequest) MessageType() MessageType {
	return MessageTypeUserInterventionRequest
}

func (p *UserInterventionRequest) Validate() error {
	if p.Reason == "" {
		return required("payload.reason")
	}
	return nil
}

type StatusUpdate struct {
	Status   string         `json:"status"`
	Details  map[string]any `json:"details,omitempty"`
	Progress *float64       `json:"progress,omitempty"`
}

func (*StatusUpdate) MessageType() MessageType { return MessageTypeStatusUpdate }

func (p *StatusUpdate) Validate() error {
	if p.Status == "" {
		return required("payload.status")
	}
	if p.Progress != nil && (*p.Progress < 0 || *p.Progress > 1) {
		return invalid("payload.progress", "must be within [0, 1]")
	}
	return nil
}

type ErrorMessage struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (*ErrorMessage) MessageType() MessageType { return MessageTypeErrorMessage }

func (p *ErrorMessage) Validate() error {
	if p.Code == "" {
		return required("payload.code")
	}
	if p.Message == "" {
		return required("payload.message")
	}
	return nil
}

type AgentRegistration struct {
	AgentID      string         `json:"agent_id"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (*AgentRegistration) MessageType() MessageType { return MessageTypeAgentRegistration }

func (p *AgentRegistration) Validate() error {
	if p.AgentID == "" {
		return required("payload.agent_id")
	}
	return nil
}

type AgentDeregistration struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason,omitempty"`
}

func (*AgentDeregistration) MessageType() MessageType { return MessageTypeAgentDeregistration }

func (p *AgentDeregistration) Validate() error {
	if p.AgentID == "" {
		return required("payload.agent_id")
	}
	return nil
}

type Heartbeat struct {
	Status string `json:"status,omitempty"`
}

func (*Heartbeat) MessageType() MessageType { return MessageTypeHeartbeat }

func (*Heartbeat) Validate() error { return nil }

type HeartbeatAck struct {
	AckedMessageID string `json:"acked_message_id,omitempty"`
}

func (*HeartbeatAck) MessageType() MessageType { return MessageTypeHeartbeatAck }

func (*HeartbeatAck) Validate() error { return nil }

// NewPayload returns an empty payload of the variant bound to t.
func NewPayload(t MessageType) (Payload, error) {
	switch t {
	case MessageTypeTaskRequest:
		return &TaskRequest{}, nil
	case MessageTypeTaskResult:
		return &TaskResult{}, nil
	case MessageTypeKnowledgeQuery:
		return &KnowledgeQuery{}, nil
	case MessageTypeKnowledgeResponse:
		return &KnowledgeResponse{}, nil
	case MessageTypeInformationShare:
		return &InformationShare{}, nil
	case MessageTypeUserInterventionRequest:
		return &UserInterventionRequest{}, nil
	case MessageTypeStatusUpdate:
		return &StatusUpdate{}, nil
	case MessageTypeErrorMessage:
		return &ErrorMessage{}, nil
	case MessageTypeAgentRegistration:
		return &AgentRegistration{}, nil
	case MessageTypeAgentDeregistration:
		return &AgentDeregistration{}, nil
	case MessageTypeHeartbeat:
		return &Heartbeat{}, nil
	case MessageTypeHeartbeatAck:
		return &HeartbeatAck{}, nil
	default:
		return nil, invalid("header.message_type", fmt.Sprintf("unknown message type %q", t))
	}
}
