// Command flasharb-tail prints telemetry that a running flasharb forwards to
// Redis. By default it follows the live pub/sub channel; with -from it
// replays the durable stream from that entry ID and keeps polling.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

const (
	readBatch    = 200
	pollInterval = 500 * time.Millisecond
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	from := flag.String("from", "", `replay the stream from this ID ("0" for the beginning)`)
	types := flag.String("types", "", "comma-separated event types to print (default all)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	filter, err := parseTypes(*types)
	if err != nil {
		logger.Error("invalid -types", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		logger.Error("redis unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()
	bus := redis.NewEventBus(client, cfg.Redis.StreamMaxLen)

	out := printer{w: os.Stdout, filter: filter}
	if *from != "" {
		err = replay(ctx, bus, cfg.Telemetry.RedisStream, *from, out)
	} else {
		err = follow(ctx, bus, cfg.Telemetry.RedisChannel, out)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tail stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func follow(ctx context.Context, bus domain.EventBus, channel string, out printer) error {
	if channel == "" {
		return errors.New("telemetry.redis_channel is not set")
	}
	msgs, err := bus.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	for payload := range msgs {
		out.print(payload)
	}
	return ctx.Err()
}

func replay(ctx context.Context, bus domain.EventBus, stream, lastID string, out printer) error {
	if stream == "" {
		return errors.New("telemetry.redis_stream is not set")
	}
	for {
		msgs, err := bus.StreamRead(ctx, stream, lastID, readBatch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			out.print(m.Payload)
			lastID = m.ID
		}
		if len(msgs) == readBatch {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// printer writes one JSON line per event whose type passes the filter.
type printer struct {
	w      io.Writer
	filter map[domain.EventType]bool
}

func (p printer) print(payload []byte) {
	if len(p.filter) > 0 {
		var head struct {
			Type domain.EventType `json:"type"`
		}
		if json.Unmarshal(payload, &head) != nil || !p.filter[head.Type] {
			return
		}
	}
	fmt.Fprintf(p.w, "%s\n", payload)
}

func parseTypes(s string) (map[domain.EventType]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[domain.EventType]bool)
	for _, part := range strings.Split(s, ",") {
		t := domain.EventType(strings.TrimSpace(part))
		if !t.Known() {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		out[t] = true
	}
	return out, nil
}
