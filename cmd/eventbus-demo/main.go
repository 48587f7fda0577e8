// Command eventbus-demo exercises the event bus end to end: it boots the
// singleton dispatcher, wires up an async single-event subscriber and a
// batching list subscriber, and publishes a stream of mixed-priority events
// through a sync publisher and a periodic publisher until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowmesh/eventcore/framework/events"
	"github.com/flowmesh/eventcore/framework/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// OrderPlaced is a sample domain event published at medium priority, with
// every fifth order at critical priority and the heartbeat at low priority.
type OrderPlaced struct {
	ID     string
	Amount float64
}

// PageViewed is a sample high-volume event accumulated into batches.
type PageViewed struct {
	Path string
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventbus-demo",
	Short: "eventbus-demo drives the in-process priority event bus",
	Long: `eventbus-demo boots the shared dispatcher, attaches a handful of
subscribers, and publishes sample events so the bus can be observed end to
end without writing a test harness.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Duration("interval", 200*time.Millisecond, "Interval between sample publishes")
	runCmd.Flags().Int("batch-size", 3, "Page-view batch size before the list handler fires")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event bus with sample publishers and subscribers until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		logLevel, _ := cmd.Flags().GetString("log-level")
		interval, _ := cmd.Flags().GetDuration("interval")
		batchSize, _ := cmd.Flags().GetInt("batch-size")

		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()

		return runDemo(logger, interval, batchSize)
	},
}

func runDemo(logger zerolog.Logger, interval time.Duration, batchSize int) error {
	m, err := metrics.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to build metrics: %w", err)
	}

	dispatcher := events.Instance().WithLogger(logger).WithMetrics(m)
	if err := dispatcher.Run(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	logger.Info().Str("dispatcher", dispatcher.ID()).Msg("dispatcher running")

	orders := events.NewAsyncSingleSubscriber(dispatcher)
	orders.WithLogger(logger).WithMetrics(m)
	if err := events.SubscribeEvent(orders.ProcessingSingleEventSubscriber, func(ctx context.Context, o OrderPlaced) error {
		logger.Info().Str("orderID", o.ID).Float64("amount", o.Amount).Msg("order processed")
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe order handler: %w", err)
	}
	if err := events.SubscribeErrorHandler[OrderPlaced](orders.ProcessingSingleEventErrorSubscriber, func(ctx context.Context, e *events.Event, err error) {
		logger.Warn().Err(err).Msg("order handler failed")
	}); err != nil {
		return fmt.Errorf("failed to subscribe order error handler: %w", err)
	}
	if err := orders.Run(); err != nil {
		return fmt.Errorf("failed to start order subscriber: %w", err)
	}

	pageViews, err := events.NewBatchListSubscriber(dispatcher, batchSize)
	if err != nil {
		return fmt.Errorf("failed to build page-view subscriber: %w", err)
	}
	pageViews.WithLogger(logger).WithMetrics(m)
	if err := events.SubscribeListEvent[PageViewed](pageViews, func(ctx context.Context, batch *events.Event) error {
		views, _ := events.ListPayload[PageViewed](batch)
		logger.Info().Int("count", len(views)).Msg("page view batch flushed")
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe page-view handler: %w", err)
	}
	if err := pageViews.Run(); err != nil {
		return fmt.Errorf("failed to start page-view subscriber: %w", err)
	}

	registry, err := events.DefaultScheduledTaskRegistry()
	if err != nil {
		return fmt.Errorf("failed to build scheduler registry: %w", err)
	}
	registry.WithMetrics(m)

	publisher := events.NewSyncPublisher(dispatcher).WithLogger(logger)
	heartbeat := events.NewPeriodicPublisher(dispatcher, registry)
	if _, err := heartbeat.Publish(context.Background(), events.NewEvent(OrderPlaced{ID: "heartbeat", Amount: 0}, events.PriorityLow), "heartbeat", 5*time.Second); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	n := 0
	logger.Info().Msg("publishing sample events; press Ctrl+C to stop")

	for {
		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
			if err := heartbeat.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("failed to shut down heartbeat publisher")
			}
			if err := registry.StopAndShutdown(); err != nil {
				logger.Warn().Err(err).Msg("failed to stop scheduler registry")
			}
			if err := pageViews.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("failed to shut down page-view subscriber")
			}
			if err := orders.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("failed to shut down order subscriber")
			}
			if err := dispatcher.Shutdown(); err != nil {
				return fmt.Errorf("failed to shut down dispatcher: %w", err)
			}
			logger.Info().Msg("shutdown complete")
			return nil

		case <-ticker.C:
			n++
			priority := events.PriorityMedium
			if n%5 == 0 {
				priority = events.PriorityCritical
			}
			if err := publisher.Publish(ctx, events.NewEvent(OrderPlaced{
				ID:     fmt.Sprintf("order-%d", n),
				Amount: float64(n) * 9.99,
			}, priority)); err != nil {
				logger.Warn().Err(err).Msg("failed to publish order")
			}
			if err := publisher.Publish(ctx, events.NewEvent(PageViewed{
				Path: fmt.Sprintf("/item/%d", n),
			}, events.PriorityLow)); err != nil {
				logger.Warn().Err(err).Msg("failed to publish page view")
			}
		}
	}
}
