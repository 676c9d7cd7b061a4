package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/maxpert/pubkit/admin"
	"github.com/maxpert/pubkit/cfg"
	"github.com/maxpert/pubkit/pubsub"
	"github.com/maxpert/pubkit/telemetry"
	"github.com/maxpert/pubkit/vat"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("invalid usage")

func dispatch(ctx context.Context, root *vat.Root, args []string, in io.Reader, out io.Writer) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "serve":
		return serve(ctx, root, in, out)
	case "version":
		fmt.Fprintln(out, root.Version())
		return nil
	case "get":
		return get(ctx, root, rest, out)
	case "publish", "finish", "fail":
		if len(rest) == 0 {
			return fmt.Errorf("%w: %s needs an argument", errUsage, cmd)
		}
		return produce(ctx, root, cmd, strings.Join(rest, " "), out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func produce(ctx context.Context, root *vat.Root, cmd, arg string, out io.Writer) error {
	var err error
	switch cmd {
	case "publish":
		err = root.Publish(ctx, arg)
	case "finish":
		err = root.Finish(ctx, arg)
	case "fail":
		err = root.Fail(ctx, arg)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if err != nil {
		return err
	}

	s := root.Latest()
	fmt.Fprintf(out, "%s #%d (%s)\n", cmd, s.Sequence, s.Status)
	return nil
}

func get(ctx context.Context, root *vat.Root, args []string, out io.Writer) error {
	var lastSeen uint64
	if len(args) > 0 {
		n, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: lastSeen %q: %v", errUsage, args[0], err)
		}
		lastSeen = n
	}

	s := root.Latest()
	if s.Status == pubsub.StatusActive && s.Sequence == lastSeen {
		if s.Sequence == 0 {
			fmt.Fprintln(out, "no updates yet")
		} else {
			fmt.Fprintf(out, "no updates since #%d\n", lastSeen)
		}
		return nil
	}

	u, err := root.Subscriber().GetUpdateSince(ctx, lastSeen)
	var failed *pubsub.FailedError
	switch {
	case errors.As(err, &failed):
		fmt.Fprintf(out, "#%d failed: %s\n", failed.UpdateCount, failed.Reason)
		return nil
	case err != nil:
		return err
	case u.Done:
		fmt.Fprintf(out, "#%d finished: %s\n", u.UpdateCount, u.Value)
	default:
		fmt.Fprintf(out, "#%d %s\n", u.UpdateCount, u.Value)
	}
	return nil
}

// serve runs until ctx is done: admin server, metrics collector, a follower
// logging every update and a command loop over in
func serve(ctx context.Context, root *vat.Root, in io.Reader, out io.Writer) error {
	if cfg.Config.Admin.Enabled {
		srv := admin.NewServer(cfg.Config.Admin.BindAddress, cfg.Config.Admin.Port, admin.NewRouter(admin.NewAdminHandlers(root)))
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	collector := telemetry.NewMetricsCollector(5*time.Second, root)
	collector.Start()
	defer collector.Stop()

	go follow(ctx, root)

	log.Info().
		Str("version", root.Version()).
		Str("data_dir", cfg.Config.DataDir).
		Str("store", string(cfg.Config.Store.Backend)).
		Msg("pubkit is serving")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if fields[0] == "serve" {
				fmt.Fprintln(out, "already serving")
				continue
			}
			if err := dispatch(ctx, root, fields, nil, out); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func follow(ctx context.Context, root *vat.Root) {
	err := pubsub.Observe(ctx, root.Subscriber(), pubsub.ObserverFuncs[string]{
		OnUpdate: func(v string) { log.Info().Str("value", v).Msg("Update") },
		OnFinish: func(v string) { log.Info().Str("value", v).Msg("Finished") },
		OnFail:   func(r string) { log.Warn().Str("reason", r).Msg("Failed") },
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Follower stopped")
	}
}
