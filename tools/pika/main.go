package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runBenchmark(args)
	case "version":
		fmt.Printf("pika version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pika - pubkit benchmark tool

Usage:
  pika <command> [options]

Commands:
  run       Run a publish/follow workload against a local store
  version   Print version
  help      Show this help

Run Options:
  --backend       Store backend: pebble|sqlite|memory (default: pebble)
  --data-dir      Store directory (required for pebble and sqlite)
  --sync          Sync every commit to disk (default: true)
  --kits          Number of kits, one producer each (default: 4)
  --publishes     Publishes per kit (default: 10000)
  --duration      Duration to publish for (e.g., 30s), overrides --publishes
  --subscribers   Followers per kit (default: 8)
  --payload-size  Padding bytes per published value (default: 0)
  --fail          Terminate kits with Fail instead of Finish

Examples:
  pika run --backend=pebble --data-dir=/tmp/pika --kits=8 --subscribers=32
  pika run --backend=memory --duration=10s`)
}

func runBenchmark(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	var timeLimit time.Duration
	fs.DurationVar(&timeLimit, "time-limit", 0, "Maximum time to run (e.g., 30s, 1m)")
	fs.StringVar(&cfg.Backend, "backend", "pebble", "Store backend")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "Store directory")
	fs.BoolVar(&cfg.Sync, "sync", true, "Sync every commit to disk")
	fs.IntVar(&cfg.Kits, "kits", 4, "Number of kits")
	fs.IntVar(&cfg.Publishes, "publishes", 10000, "Publishes per kit")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to publish for (overrides --publishes)")
	fs.IntVar(&cfg.Subscribers, "subscribers", 8, "Followers per kit")
	fs.IntVar(&cfg.PayloadSize, "payload-size", 0, "Padding bytes per published value")
	fs.BoolVar(&cfg.FailAtEnd, "fail", false, "Terminate kits with Fail instead of Finish")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if timeLimit > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeLimit)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nInterrupted, shutting down...")
		cancel()
	}()

	if err := executeRun(ctx, cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		os.Exit(1)
	}
}
