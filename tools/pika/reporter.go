package main

import (
	"context"
	"fmt"
	"io"
	"time"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, w io.Writer, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastSnapshot Snapshot
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := stats.GetSnapshot()
			elapsed := time.Since(startTime)

			fmt.Fprintf(w, "[%5.0fs] publishes/sec: %6d | deliveries/sec: %7d | total: %8d | terminals: %5d | errors: %4d\n",
				elapsed.Seconds(),
				snapshot.Publishes-lastSnapshot.Publishes,
				snapshot.Deliveries-lastSnapshot.Deliveries,
				snapshot.Publishes,
				snapshot.Terminals,
				snapshot.Errors,
			)

			lastSnapshot = snapshot
		}
	}
}
