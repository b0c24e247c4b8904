package node_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/tailored-agentic-units/acp/handler"
	"github.com/tailored-agentic-units/acp/node"
	"github.com/tailored-agentic-units/acp/observability"
	"github.com/tailored-agentic-units/acp/protocol"
	"github.com/tailored-agentic-units/acp/store"
	"github.com/tailored-agentic-units/acp/transport/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startNode(t *testing.T, agentID string, opts ...node.Option) *node.Node {
	t.Helper()

	cfg := node.DefaultConfig()
	cfg.AgentID = agentID
	cfg.Transport.Kind = node.TransportMemory

	n, err := node.New(&cfg, append([]node.Option{node.WithLogger(discard())}, opts...)...)
	if err != nil {
		t.Fatalf("New(%s) error = %v", agentID, err)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s) error = %v", agentID, err)
	}
	t.Cleanup(func() { n.Stop(context.Background()) })
	return n
}

func request(t *testing.T, from *node.Node, to string, payload protocol.Payload) *protocol.Message {
	t.Helper()
	response, err := from.Handler().SendRequestAndAwaitResponse(context.Background(), payload, to, 2*time.Second)
	if err != nil {
		t.Fatalf("SendRequestAndAwaitResponse() error = %v", err)
	}
	return response
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := node.DefaultConfig()

	if _, err := node.New(&cfg); !errors.Is(err, node.ErrInvalidConfig) {
		t.Errorf("New() error = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_UnknownObserver(t *testing.T) {
	cfg := node.DefaultConfig()
	cfg.AgentID = "a"
	cfg.Transport.Kind = node.TransportMemory
	cfg.Observers = []string{"does-not-exist"}

	if _, err := node.New(&cfg); err == nil {
		t.Error("New() with unknown observer succeeded")
	}
}

func TestNode_SumTask(t *testing.T) {
	broker := memory.NewBroker()
	startNode(t, "planner", node.WithBroker(broker))
	caller := startNode(t, "caller", node.WithBroker(broker))

	response := request(t, caller, "planner", &protocol.TaskRequest{
		TaskName:  "sum",
		TaskInput: map[string]any{"a": 2, "b": 3},
	})

	result, ok := response.Payload.(*protocol.TaskResult)
	if !ok {
		t.Fatalf("response payload = %T, want *TaskResult", response.Payload)
	}
	if result.Status != protocol.TaskStatusSuccess || result.Result != json.Number("5") {
		t.Errorf("result = %+v, want success with 5", result)
	}
}

func TestNode_TaskFailures(t *testing.T) {
	broker := memory.NewBroker()
	startNode(t, "planner", node.WithBroker(broker), node.WithTask("fail", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("deliberate failure")
	}))
	caller := startNode(t, "caller", node.WithBroker(broker))

	tests := []struct {
		name    string
		task    string
		input   map[string]any
		wantErr string
	}{
		{name: "unknown task", task: "divide", wantErr: "unknown task: divide"},
		{name: "task error", task: "fail", wantErr: "deliberate failure"},
		{name: "bad input", task: "sum", input: map[string]any{"a": "two", "b": 3}, wantErr: `input "a" is string, want a number`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := request(t, caller, "planner", &protocol.TaskRequest{TaskName: tt.task, TaskInput: tt.input})
			result := response.Payload.(*protocol.TaskResult)
			if result.Status != protocol.TaskStatusFailure {
				t.Errorf("status = %s, want failure", result.Status)
			}
			if result.ErrorMessage != tt.wantErr {
				t.Errorf("error message = %q, want %q", result.ErrorMessage, tt.wantErr)
			}
		})
	}
}

func TestNode_KnowledgeRoundTrip(t *testing.T) {
	broker := memory.NewBroker()
	recorder := observability.NewRecorder()
	kb := startNode(t, "kb",
		node.WithBroker(broker),
		node.WithStore(store.NewFileStore(t.TempDir())),
		node.WithObserver(recorder),
	)
	client := startNode(t, "client", node.WithBroker(broker))

	_, err := client.Handler().SendMessage(context.Background(), &protocol.InformationShare{
		Topic:   "France",
		Content: "Paris is the capital of France",
		Tags:    []string{"geography"},
	}, handler.SendOptions{Recipient: "kb"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for recorder.Count(node.EventKnowledgeSave) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	objects, err := kb.Store().List(context.Background())
	if err != nil || len(objects) != 1 {
		t.Fatalf("store holds %d objects (error %v), want 1", len(objects), err)
	}
	if objects[0].Source != "client" || objects[0].Subject != "France" {
		t.Errorf("stored object = %+v", objects[0])
	}

	response := request(t, client, "kb", &protocol.KnowledgeQuery{Query: "paris"})
	kr, ok := response.Payload.(*protocol.KnowledgeResponse)
	if !ok {
		t.Fatalf("response payload = %T, want *KnowledgeResponse", response.Payload)
	}
	if len(kr.Results) != 1 || kr.Source != "kb" {
		t.Fatalf("knowledge response = %+v", kr)
	}
	first := kr.Results[0].(map[string]any)
	if first["content"] != "Paris is the capital of France" {
		t.Errorf("result content = %v", first["content"])
	}
}

func TestNode_KnowledgeWithoutStore(t *testing.T) {
	broker := memory.NewBroker()
	startNode(t, "kb", node.WithBroker(broker))
	client := startNode(t, "client", node.WithBroker(broker))

	response := request(t, client, "kb", &protocol.KnowledgeQuery{Query: "anything"})
	em, ok := response.Payload.(*protocol.ErrorMessage)
	if !ok {
		t.Fatalf("response payload = %T, want *ErrorMessage", response.Payload)
	}
	if em.Code != "store_unavailable" {
		t.Errorf("error code = %q, want store_unavailable", em.Code)
	}
}

func TestNode_Ping(t *testing.T) {
	broker := memory.NewBroker()
	startNode(t, "responder", node.WithBroker(broker))
	pinger := startNode(t, "pinger", node.WithBroker(broker))

	if _, err := pinger.Handler().Ping(context.Background(), "responder", time.Second); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNode_RunOverSQLite(t *testing.T) {
	cfg := node.DefaultConfig()
	cfg.AgentID = "solo"
	cfg.Transport.SQLitePath = filepath.Join(t.TempDir(), "acp.db")
	cfg.Transport.BlockTimeout = node.Duration(100 * time.Millisecond)
	cfg.Store = store.Config{Driver: store.DriverSQLite, Path: filepath.Join(t.TempDir(), "objects.db")}

	recorder := observability.NewRecorder()
	n, err := node.New(&cfg, node.WithLogger(discard()), node.WithObserver(recorder))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for recorder.Count(node.EventNodeStart) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if recorder.Count(node.EventNodeStart) != 1 {
		t.Fatal("node did not start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if recorder.Count(node.EventNodeStop) != 1 {
		t.Error("node stop event not emitted")
	}
}

func TestTasks(t *testing.T) {
	sums := []struct {
		name  string
		input map[string]any
		want  any
	}{
		{"mixed", map[string]any{"a": 2, "b": 3.5}, 5.5},
		{"integers", map[string]any{"a": 2, "b": 3}, int64(5)},
		{"decoded integers", map[string]any{"a": json.Number("9007199254740993"), "b": json.Number("1")}, int64(9007199254740994)},
		{"decoded floats", map[string]any{"a": json.Number("0.5"), "b": json.Number("1e1")}, 10.5},
		{"integer overflow", map[string]any{"a": int64(math.MaxInt64), "b": 1}, float64(math.MaxInt64) + 1},
	}
	for _, tt := range sums {
		t.Run(tt.name, func(t *testing.T) {
			got, err := node.Sum(context.Background(), tt.input)
			if err != nil || got != tt.want {
				t.Errorf("Sum() = %v (%T), %v; want %v (%T)", got, got, err, tt.want, tt.want)
			}
		})
	}

	if _, err := node.Sum(context.Background(), map[string]any{"a": 1}); err == nil {
		t.Error("Sum() without b succeeded")
	}

	input := map[string]any{"k": "v"}
	echoed, _ := node.Echo(context.Background(), input)
	if echoed.(map[string]any)["k"] != "v" {
		t.Errorf("Echo() = %v", echoed)
	}
}
