package transport_test

import (
	"strings"
	"testing"

	"github.com/tailored-agentic-units/acp/transport"
)

func TestNaming_Group(t *testing.T) {
	n := transport.DefaultNaming()

	if got := n.Group("broadcast"); got != "acp-group:broadcast" {
		t.Errorf("Group() = %q, want acp-group:broadcast", got)
	}
	if n.Group("planner") != n.Group("planner") {
		t.Error("Group() should be deterministic")
	}
}

func TestNaming_Consumer(t *testing.T) {
	n := transport.Naming{GroupPrefix: "g", ConsumerPrefix: "worker"}

	first := n.Consumer("planner", "")
	second := n.Consumer("planner", "")

	if !strings.HasPrefix(first, "worker:planner:") {
		t.Errorf("Consumer() = %q, want worker:planner: prefix", first)
	}
	if first == second {
		t.Error("generated consumer names should differ")
	}
	if got := n.Consumer("planner", "fixed"); got != "fixed" {
		t.Errorf("Consumer() = %q, want fixed", got)
	}
}

func TestNaming_Merge(t *testing.T) {
	n := transport.DefaultNaming()
	n.Merge(&transport.Naming{GroupPrefix: "planner"})

	if n.GroupPrefix != "planner" {
		t.Errorf("GroupPrefix = %q, want planner", n.GroupPrefix)
	}
	if n.ConsumerPrefix != transport.DefaultConsumerPrefix {
		t.Errorf("ConsumerPrefix = %q, want default", n.ConsumerPrefix)
	}
}

func TestApplySubscribeOptions(t *testing.T) {
	if got := transport.ApplySubscribeOptions(); got.ConsumerName != "" {
		t.Errorf("ConsumerName = %q, want empty", got.ConsumerName)
	}

	got := transport.ApplySubscribeOptions(transport.WithConsumerName("c1"))
	if got.ConsumerName != "c1" {
		t.Errorf("ConsumerName = %q, want c1", got.ConsumerName)
	}
}
