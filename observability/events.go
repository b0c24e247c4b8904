package observability

// Protocol handler events.
const (
	EventMessageSend       EventType = "message.send"
	EventMessageReceive    EventType = "message.receive"
	EventMessageInvalid    EventType = "message.invalid"
	EventMessageFiltered   EventType = "message.filtered"
	EventMessageDispatch   EventType = "message.dispatch"
	EventMessageUnroutable EventType = "message.unroutable"
	EventHandlerError      EventType = "handler.error"

	EventRequestStart   EventType = "request.start"
	EventRequestResolve EventType = "request.resolve"
	EventRequestTimeout EventType = "request.timeout"
)

// Transport events.
const (
	EventSubscriptionStart EventType = "subscription.start"
	EventSubscriptionStop  EventType = "subscription.stop"
	EventReadError         EventType = "subscription.read_error"
	EventCallbackError     EventType = "subscription.callback_error"
	EventDeadLetter        EventType = "entry.dead_letter"
)
