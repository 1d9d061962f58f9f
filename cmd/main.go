// Command refundbot runs one pass of the return-refund automation: it polls
// the store for orders with in-progress returns, verifies delivery of the
// return shipment with the tracking provider and issues refunds for
// confirmed deliveries. It is meant to be triggered externally (cron) and
// exits when the pass completes.
//
// Usage:
//
//	refundbot --config config.yaml
//	refundbot --config config.yaml --dry-run
//
// Required environment variables:
//
//	SHOPIFY_ACCESS_TOKEN, TRACKING_API_KEY
//	SLACK_WEBHOOK_URL (optional, disables alerts when unset)
//
// Exit code is 0 on a completed pass even when individual orders failed;
// non-zero only on a configuration failure or an aborted pass.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vadiminshakov/refundbot/config"
	"github.com/vadiminshakov/refundbot/internal"
	"github.com/vadiminshakov/refundbot/internal/clients"
	"github.com/vadiminshakov/refundbot/internal/services/audit"
	"github.com/vadiminshakov/refundbot/internal/services/engine"
	"github.com/vadiminshakov/refundbot/internal/services/resolver"
	"github.com/vadiminshakov/refundbot/internal/storage/decisions"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("refund pass aborted", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Sync()
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := decisions.NewWALStore(cfg.WALDir, nil)
	if err != nil {
		return err
	}
	defer store.Close()

	auditor, err := audit.NewLogger(cfg.AuditDir, cfg.DryRun, cfg.StoreTimezone, nil)
	if err != nil {
		return err
	}
	defer auditor.Close()

	r := retrier.New(
		retrier.WithMaxAttempts(cfg.MaxRetryAttempts),
		retrier.WithBaseDelay(cfg.BaseRetryDelay),
		retrier.WithMaxDelay(cfg.MaxRetryDelay),
	)

	shopify := clients.NewShopifyClient(cfg.ShopifyStoreURL, cfg.ShopifyAccessToken, cfg.PageSize, cfg.RequestTimeout)
	tracking := clients.NewTrackingClient(cfg.TrackingAPIURL, cfg.TrackingAPIKey, cfg.RequestTimeout)
	notifier := clients.NewSlackNotifier(cfg.SlackWebhookURL, cfg.DryRun, logger)

	eng := engine.New(store,
		resolver.New(tracking, r, nil, logger),
		shopify, notifier, auditor, r,
		engine.Config{DryRun: cfg.DryRun, TTL: cfg.IdempotencyTTL, RefundDelay: cfg.RefundDelay},
		nil, logger)

	pass := internal.NewRefundPass(shopify, tracking, eng, notifier, r, cfg.Workers, logger)

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY_RUN"
	}
	logger.Info("starting refund pass",
		zap.String("mode", mode),
		zap.String("store_timezone", cfg.StoreTimezone.String()),
		zap.Duration("idempotency_ttl", cfg.IdempotencyTTL),
		zap.Duration("refund_delay", cfg.RefundDelay))

	summary, err := pass.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("refund pass finished",
		zap.Int("processed", summary.Processed),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.String("total_refunded", summary.TotalRefunded.StringFixed(2)))

	return nil
}
