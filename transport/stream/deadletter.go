package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const DeadLetterSchema = "acp/dlq/v1"

// DeadLetter wraps an entry whose callback failed, with failure metadata.
type DeadLetter struct {
	Schema        string `json:"schema"`
	Topic         string `json:"topic"`
	EntryID       string `json:"entry_id"`
	Group         string `json:"group"`
	Consumer      string `json:"consumer"`
	FailureReason string `json:"failure_reason"`
	FailureTime   string `json:"failure_time"`
	Data          []byte `json:"data"`
}

func DecodeDeadLetter(data []byte) (*DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return nil, fmt.Errorf("decode dead letter: %w", err)
	}
	if dl.Schema != DeadLetterSchema {
		return nil, fmt.Errorf("decode dead letter: unexpected schema %q", dl.Schema)
	}
	return &dl, nil
}

func (t *Transport) deadLetterTopic(topic string) string {
	return topic + t.cfg.DeadLetterSuffix
}

func (t *Transport) deadLetter(ctx context.Context, sub *subscription, entry Entry, cause error) error {
	envelope := DeadLetter{
		Schema:        DeadLetterSchema,
		Topic:         sub.topic,
		EntryID:       entry.ID,
		Group:         sub.group,
		Consumer:      sub.consumer,
		FailureReason: cause.Error(),
		FailureTime:   time.Now().UTC().Format(time.RFC3339),
		Data:          entry.Data,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	if _, err := t.backend.Append(ctx, t.deadLetterTopic(sub.topic), data); err != nil {
		return fmt.Errorf("append dead letter: %w", err)
	}
	return nil
}
