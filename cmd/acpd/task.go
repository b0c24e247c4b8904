package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tailored-agentic-units/acp/node"
	"github.com/tailored-agentic-units/acp/protocol"
)

func runTask(ctx context.Context, n *node.Node, to, name, rawInput string, timeout time.Duration) error {
	var input map[string]any
	decoder := json.NewDecoder(strings.NewReader(rawInput))
	decoder.UseNumber()
	if err := decoder.Decode(&input); err != nil {
		return fmt.Errorf("parse -input: %w", err)
	}

	response, err := n.Handler().SendRequestAndAwaitResponse(ctx, &protocol.TaskRequest{
		TaskName:  name,
		TaskInput: input,
	}, to, timeout)
	if err != nil {
		return err
	}

	switch p := response.Payload.(type) {
	case *protocol.TaskResult:
		if p.Status != protocol.TaskStatusSuccess {
			return fmt.Errorf("%s reported %s: %s", response.Header.SenderAgentID, p.Status, p.ErrorMessage)
		}
		out, err := json.MarshalIndent(p.Result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("Result: %s\n", out)
	case *protocol.ErrorMessage:
		return fmt.Errorf("%s: %s", p.Code, p.Message)
	default:
		fmt.Printf("Response: %s\n", response)
	}
	return nil
}
