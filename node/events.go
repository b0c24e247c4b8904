package node

import "github.com/tailored-agentic-units/acp/observability"

// Node event types emitted around the handler lifecycle and built-in tasks.
const (
	EventNodeStart     observability.EventType = "node.start"
	EventNodeStop      observability.EventType = "node.stop"
	EventTaskComplete  observability.EventType = "node.task.complete"
	EventTaskFailed    observability.EventType = "node.task.failed"
	EventKnowledgeSave observability.EventType = "node.knowledge.save"
)
