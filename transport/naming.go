package transport

import (
	"github.com/google/uuid"
)

const (
	DefaultGroupPrefix    = "acp-group"
	DefaultConsumerPrefix = "acp-consumer"
)

// Naming derives consumer group and consumer names for a topic.
type Naming struct {
	GroupPrefix    string
	ConsumerPrefix string
}

func DefaultNaming() Naming {
	return Naming{
		GroupPrefix:    DefaultGroupPrefix,
		ConsumerPrefix: DefaultConsumerPrefix,
	}
}

func (n *Naming) Merge(source *Naming) {
	if source.GroupPrefix != "" {
		n.GroupPrefix = source.GroupPrefix
	}
	if source.ConsumerPrefix != "" {
		n.ConsumerPrefix = source.ConsumerPrefix
	}
}

// Group is deterministic: every process using the same prefix shares one
// durable cursor per topic.
func (n Naming) Group(topic string) string {
	return n.GroupPrefix + ":" + topic
}

// Consumer returns name when set, otherwise prefix, topic and a random suffix.
func (n Naming) Consumer(topic, name string) string {
	if name != "" {
		return name
	}
	return n.ConsumerPrefix + ":" + topic + ":" + uuid.NewString()[:8]
}
