package handler

import (
	"log/slog"
	"time"
)

const DefaultBroadcastTopic = "broadcast"

type Config struct {
	AgentID        string
	BroadcastTopic string

	// DefaultTimeout applies to requests made without an explicit timeout.
	DefaultTimeout time.Duration

	// ConsumerName pins the consumer identity on durable transports so that
	// entries left unacknowledged by a previous run are redelivered.
	ConsumerName string

	// AnnouncePresence broadcasts agent_registration on Start and
	// agent_deregistration on Stop.
	AnnouncePresence bool
	Capabilities     []string

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		BroadcastTopic: DefaultBroadcastTopic,
		DefaultTimeout: 30 * time.Second,
		Logger:         slog.Default(),
	}
}

func (c *Config) Merge(source *Config) {
	if source.AgentID != "" {
		c.AgentID = source.AgentID
	}
	if source.BroadcastTopic != "" {
		c.BroadcastTopic = source.BroadcastTopic
	}
	if source.DefaultTimeout > 0 {
		c.DefaultTimeout = source.DefaultTimeout
	}
	if source.ConsumerName != "" {
		c.ConsumerName = source.ConsumerName
	}
	if source.AnnouncePresence {
		c.AnnouncePresence = true
	}
	if len(source.Capabilities) > 0 {
		c.Capabilities = source.Capabilities
	}
	if source.Logger != nil {
		c.Logger = source.Logger
	}
}
