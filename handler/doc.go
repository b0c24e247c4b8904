// Package handler implements the protocol handler: the per-agent component
// that sends protocol messages over a transport.Transport, correlates
// requests with their responses and dispatches everything else to a static
// table of per-type handler functions.
//
// # Topics
//
// A handler subscribes to two topics when started: its own agent id, which
// is its direct inbox, and the broadcast topic. Messages with a recipient go
// to the recipient's inbox; messages without one go to the broadcast topic.
//
// # Dispatch
//
// Every decoded message passes through the same steps:
//
//  1. Messages addressed to another agent are dropped. Broadcasts reach
//     every agent, the sender included.
//  2. A message whose conversation id matches an outstanding request, other
//     than the request itself, resolves that request and goes no further.
//  3. Otherwise the handler registered for the message type runs.
//  4. With no handler registered, the message is logged and dropped.
//
// Handler failures and panics are logged and never reach the transport.
//
// # Request/Response
//
//	resp, err := h.SendRequestAndAwaitResponse(ctx, &protocol.TaskRequest{
//	    TaskName:  "sum",
//	    TaskInput: map[string]any{"a": 2, "b": 3},
//	}, "planner", 2*time.Second)
//
// Exactly one outcome is observed per request: the response, ErrTimeout, or
// the context error. The correlation entry is removed on every path, so a
// response arriving after the deadline is treated as unroutable.
package handler
