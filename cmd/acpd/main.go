package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tailored-agentic-units/acp/node"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to node config file, JSON or TOML")
		agentID    = flag.String("agent", "", "Agent id (overrides config)")
		kind       = flag.String("transport", "", "Transport: sqlite, redis or memory (overrides config)")
		sqlitePath = flag.String("sqlite", "", "SQLite stream database path (overrides config)")
		redisURL   = flag.String("redis", "", "Redis URL (overrides config)")
		storePath  = flag.String("store", "", "Object store directory (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")

		ping    = flag.String("ping", "", "Ping the given agent once and exit")
		task    = flag.String("task", "", "Send a task_request with this task name to -to and exit")
		input   = flag.String("input", "{}", "Task input as a JSON object")
		to      = flag.String("to", "", "Recipient agent for -task")
		timeout = flag.Duration("timeout", 5*time.Second, "Timeout for -ping and -task")
	)
	flag.Parse()

	cfg := node.DefaultConfig()
	if *configFile != "" {
		loaded, err := node.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = *loaded
	}

	if *agentID != "" {
		cfg.AgentID = *agentID
	}
	if *kind != "" {
		cfg.Transport.Kind = *kind
	}
	if *sqlitePath != "" {
		cfg.Transport.SQLitePath = *sqlitePath
	}
	if *redisURL != "" {
		cfg.Transport.RedisURL = *redisURL
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}

	if cfg.AgentID == "" {
		fmt.Fprintln(os.Stderr, "Usage: acpd -agent <id> [-config <file>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	oneShot := *ping != "" || *task != ""
	if oneShot {
		off := false
		cfg.AnnouncePresence = &off
	}

	n, err := node.New(&cfg, node.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !oneShot {
		if err := n.Run(ctx); err != nil {
			log.Fatalf("Node run failed: %v", err)
		}
		return
	}

	if err := n.Start(ctx); err != nil {
		log.Fatalf("Failed to start node: %v", err)
	}
	defer n.Stop(context.WithoutCancel(ctx))

	switch {
	case *ping != "":
		rtt, err := n.Handler().Ping(ctx, *ping, *timeout)
		if err != nil {
			log.Fatalf("Ping failed: %v", err)
		}
		fmt.Printf("heartbeat_ack from %s in %v\n", *ping, rtt)
	case *task != "":
		if *to == "" {
			log.Fatal("-task requires -to")
		}
		if err := runTask(ctx, n, *to, *task, *input, *timeout); err != nil {
			log.Fatalf("Task failed: %v", err)
		}
	}
}
