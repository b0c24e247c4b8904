// Package protocol defines the agent communication protocol (ACP) wire model.
//
// Every message is a header plus a typed payload. The header carries routing
// and correlation metadata; the payload is one of a fixed set of variants
// selected by the header's message type.
//
// # Message Types
//
// The protocol defines twelve message types, each with its own payload:
//
//   - task_request / task_result: delegated work and its outcome
//   - knowledge_query / knowledge_response: lookups against an agent's knowledge
//   - information_share: unsolicited information for interested agents
//   - user_intervention_request: escalation to a human operator
//   - status_update: progress reporting
//   - error_message: protocol-level failure reports
//   - agent_registration / agent_deregistration: presence announcements
//   - heartbeat / heartbeat_ack: liveness checks
//
// # Message Construction
//
// Messages are constructed with a fluent builder. The message type is taken
// from the payload, so header and payload always agree:
//
//	msg := protocol.New("caller", &protocol.TaskRequest{
//	    TaskName:  "sum",
//	    TaskInput: map[string]any{"a": 2, "b": 3},
//	}).To("planner").Conversation(conversationID).Build()
//
// # Wire Format
//
// Messages are encoded as a JSON object with "header" and "payload" members.
// Decoding is a two-step discriminated parse: the header is read first, then
// the payload is decoded strictly against the schema for header.message_type.
// Unknown payload fields, missing required fields and unknown message types
// are rejected with an error wrapping ErrPayloadValidation:
//
//	data, err := protocol.Marshal(msg)
//	decoded, err := protocol.Unmarshal(data)
//	if errors.Is(err, protocol.ErrPayloadValidation) {
//	    // drop
//	}
package protocol
