// Command eventbusd runs the eventbus standalone: it subscribes audit
// queues to the three event exchanges and publishes a periodic heartbeat.
// It is used to exercise broker wiring in environments without the full
// auth service.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/osletta/eventbus"
	"github.com/osletta/eventbus/internal/rabbitmq"
)

func main() {
	var (
		heartbeat = flag.Duration("heartbeat", 30*time.Second, "heartbeat publish interval")
		verbose   = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(logger, *heartbeat); err != nil {
		logger.Error("eventbusd exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, heartbeat time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := eventbus.LoadConfig()
	client, err := eventbus.NewClient(cfg, eventbus.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Start(ctx); err != nil {
		return err
	}

	audit := func(queue string) func(map[string]any) error {
		return func(payload map[string]any) error {
			logger.Info("event received",
				"queue", queue,
				"eventType", payload["event_type"],
				"traceId", payload["trace_id"])
			return nil
		}
	}

	subscriptions := []struct {
		queue    string
		exchange string
	}{
		{"audit.user_events", rabbitmq.UserEvents},
		{"audit.order_events", rabbitmq.OrderEvents},
		{"audit.system_events", rabbitmq.SystemEvents},
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range subscriptions {
		sub := client.Subscribe(ctx, s.queue, []string{"#"}, s.exchange, audit(s.queue))
		g.Go(func() error {
			<-sub.Done()
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				client.Publish(rabbitmq.SystemEvents, "system.heartbeat", map[string]any{
					"event_type": "system.heartbeat",
					"source":     "eventbusd",
				})
			}
		}
	})

	logger.Info("eventbusd started", "subscriptions", len(subscriptions))
	<-ctx.Done()
	return g.Wait()
}
