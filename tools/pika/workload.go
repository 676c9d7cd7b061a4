package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/pubsub"
)

const kindName = "PikaKit"

// sample is the payload every producer publishes
type sample struct {
	Seq    int    `msgpack:"seq"`
	SentAt int64  `msgpack:"sent_at"`
	Pad    []byte `msgpack:"pad,omitempty"`
}

// executeRun drives one producer and c.Subscribers followers per kit until
// every kit has terminated and every follower has seen it
func executeRun(ctx context.Context, c *Config, out io.Writer) error {
	store, err := baggage.Open(c.StoreConfiguration(), c.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	maker := pubsub.Prepare[sample](store, kindName)
	stats := NewStats()

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	go reportProgress(reportCtx, out, stats)

	fmt.Fprintf(out, "Running %d kits x %d subscribers on %s\n", c.Kits, c.Subscribers, c.Backend)

	start := time.Now()
	var wg sync.WaitGroup
	var makeErr error
	for i := 0; i < c.Kits; i++ {
		kit, err := maker.Make(ctx)
		if err != nil {
			makeErr = err
			break
		}
		for j := 0; j < c.Subscribers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				follow(ctx, kit, stats)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			produce(ctx, c, kit, stats)
		}()
	}
	wg.Wait()
	stopReport()

	stats.PrintFinal(out, time.Since(start))
	return makeErr
}

func produce(ctx context.Context, c *Config, kit *pubsub.Kit[sample], stats *Stats) {
	runCtx := ctx
	if c.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	pub := kit.Publisher()
	pad := make([]byte, c.PayloadSize)
	seq := 0
	for c.Duration > 0 || seq < c.Publishes {
		if runCtx.Err() != nil {
			break
		}
		seq++
		begin := time.Now()
		if err := pub.Publish(runCtx, sample{Seq: seq, SentAt: begin.UnixNano(), Pad: pad}); err != nil {
			stats.RecordError()
			continue
		}
		stats.RecordPublish(time.Since(begin))
	}

	// Followers only stop on the terminal update, so it is sent even after
	// cancellation.
	endCtx := context.WithoutCancel(ctx)
	var err error
	if c.FailAtEnd {
		err = pub.Fail(endCtx, errors.New("benchmark complete"))
	} else {
		err = pub.Finish(endCtx, sample{Seq: seq + 1, SentAt: time.Now().UnixNano()})
	}
	if err != nil {
		stats.RecordError()
	}
}

func follow(ctx context.Context, kit *pubsub.Kit[sample], stats *Stats) {
	for u, err := range pubsub.Updates(ctx, kit.Subscriber()) {
		if err != nil {
			if errors.Is(err, pubsub.ErrFailed) {
				stats.RecordTerminal()
			} else if ctx.Err() == nil {
				stats.RecordError()
			}
			return
		}
		stats.RecordDelivery(time.Since(time.Unix(0, u.Value.SentAt)))
		if u.Done {
			stats.RecordTerminal()
		}
	}
}
