// Package stream implements a durable transport.Transport over append-only
// streams with consumer groups.
//
// Each topic maps to one stream. A subscription creates (or reuses) a durable
// consumer group named Naming.Group(topic) and runs one listener goroutine
// that reads entries not yet delivered to any consumer of the group, invokes
// the callback once per entry and acknowledges it.
//
// # Delivery Semantics
//
// Delivery is at-least-once. Entries delivered to a consumer but never
// acknowledged, for instance because the process stopped mid-callback, are
// handed back to the same consumer name on its next subscription before any
// new entries. Acknowledgement follows every callback, including failed ones;
// with Config.DeadLetter set, a failed entry is first copied to
// topic+DeadLetterSuffix wrapped in a DeadLetter envelope.
//
// # Backends
//
// Backend abstracts the stream store. Two implementations are provided:
//
//   - SQLiteBackend: a single database file, shareable between processes
//   - RedisBackend: Redis Streams (XADD, XREADGROUP, XACK)
//
// # Usage
//
//	backend := stream.NewSQLiteBackend("acp.db")
//	tr := stream.New(backend, stream.Config{
//	    Naming: transport.Naming{GroupPrefix: "planner"},
//	})
//	if err := tr.Connect(ctx); err != nil {
//	    return err
//	}
//	defer tr.Disconnect(ctx)
//
//	err := tr.Subscribe(ctx, "planner", func(ctx context.Context, topic string, payload []byte) error {
//	    return handle(payload)
//	})
//
// # Consumer Groups and Fan-out
//
// Consumers sharing a group split the entries between them. Processes that
// must each see every entry of a topic, such as the broadcast topic, need
// distinct group prefixes.
package stream
