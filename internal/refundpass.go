// Package internal wires the refund automation pass: one externally
// triggered run-to-completion sweep over all orders with in-progress returns.
package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/refundbot/internal/clients"
	"github.com/vadiminshakov/refundbot/internal/domain"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers = 4
	// provider limit on trackings per registration call
	registerSegmentSize = 40
)

// OrderSource pages through orders with in-progress returns.
type OrderSource interface {
	FetchReturnInProgressOrders(ctx context.Context, cursor string) ([]domain.CandidateOrder, string, error)
}

// TrackingRegistrar registers tracking numbers with the provider before lookups.
type TrackingRegistrar interface {
	Register(ctx context.Context, trackingNumbers []string) (accepted, rejected int, err error)
}

// DecisionEngine processes one candidate order to a terminal outcome.
type DecisionEngine interface {
	Process(ctx context.Context, order domain.CandidateOrder) (domain.DecisionOutcome, error)
}

// Notifier delivers alerts and the final run summary.
type Notifier interface {
	Alert(message, requestID, severity string)
	SendSummary(processed, failed, skipped int, total decimal.Decimal, currency string)
}

// Summary totals of one pass.
type Summary struct {
	Processed     int
	Unmatched     int
	Skipped       int
	Failed        int
	TotalRefunded decimal.Decimal
	Currency      string
}

// RefundPass orchestrates one pass: fetch pages, register trackings, run the
// decision engine per order with a bounded worker pool, report the summary.
type RefundPass struct {
	source    OrderSource
	registrar TrackingRegistrar
	engine    DecisionEngine
	notifier  Notifier
	retrier   *retrier.Retrier
	workers   int
	logger    *zap.Logger
}

// NewRefundPass creates a pass. workers <= 0 selects the default pool size.
func NewRefundPass(source OrderSource, registrar TrackingRegistrar, engine DecisionEngine,
	notifier Notifier, r *retrier.Retrier, workers int, logger *zap.Logger) *RefundPass {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &RefundPass{
		source:    source,
		registrar: registrar,
		engine:    engine,
		notifier:  notifier,
		retrier:   r,
		workers:   workers,
		logger:    logger,
	}
}

// Run executes the pass to completion. Per-order failures are counted and
// alerted, never fatal; a non-nil error means the pass aborted (unreachable
// order source or an untrustworthy idempotency store) and the process should
// exit non-zero.
func (p *RefundPass) Run(ctx context.Context) (Summary, error) {
	summary := Summary{TotalRefunded: decimal.Zero, Currency: "USD"}

	cursor := ""
	page := 0
	for {
		page++

		var nextCursor string
		orders, err := retrier.DoWithData(p.retrier, ctx, func(ctx context.Context) ([]domain.CandidateOrder, error) {
			batch, next, err := p.source.FetchReturnInProgressOrders(ctx, cursor)
			if err != nil {
				return nil, err
			}
			nextCursor = next
			return batch, nil
		})
		if err != nil {
			p.notifier.Alert(fmt.Sprintf("refund pass aborted: failed to fetch orders: %v", err), "", clients.SeverityError)
			return summary, errors.Wrap(err, "fetch candidate orders")
		}

		p.logger.Info("fetched candidate orders",
			zap.Int("page", page),
			zap.Int("count", len(orders)))

		if len(orders) > 0 {
			p.registerTrackings(ctx, orders)

			if err := p.processPage(ctx, orders, &summary); err != nil {
				p.notifier.Alert(fmt.Sprintf("refund pass aborted: %v", err), "", clients.SeverityError)
				return summary, err
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	p.logger.Info("refund pass completed",
		zap.Int("processed", summary.Processed),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.String("total_refunded", summary.TotalRefunded.StringFixed(2)),
		zap.String("currency", summary.Currency))

	p.notifier.SendSummary(summary.Processed, summary.Failed, summary.Unmatched+summary.Skipped,
		summary.TotalRefunded, summary.Currency)

	return summary, nil
}

// registerTrackings registers the page's tracking numbers in provider-sized
// segments. Registration failures degrade lookups to error verdicts, which
// the engine skips until the next pass, so they are alerted but not fatal.
func (p *RefundPass) registerTrackings(ctx context.Context, orders []domain.CandidateOrder) {
	numbers := make([]string, 0, len(orders))
	for _, order := range orders {
		if order.TrackingNumber != "" {
			numbers = append(numbers, order.TrackingNumber)
		}
	}

	for start := 0; start < len(numbers); start += registerSegmentSize {
		end := start + registerSegmentSize
		if end > len(numbers) {
			end = len(numbers)
		}
		segment := numbers[start:end]

		err := p.retrier.Do(ctx, func(ctx context.Context) error {
			accepted, rejected, err := p.registrar.Register(ctx, segment)
			if err != nil {
				return err
			}
			p.logger.Debug("registered trackings",
				zap.Int("accepted", accepted),
				zap.Int("rejected", rejected))
			return nil
		})
		if err != nil {
			requestID := ""
			if escalated, ok := retrier.AsEscalated(err); ok {
				requestID = escalated.RequestID
			}
			p.logger.Warn("failed to register tracking segment", zap.Error(err))
			p.notifier.Alert(fmt.Sprintf("failed to register %d trackings: %v", len(segment), err),
				requestID, clients.SeverityWarning)
		}
	}
}

func (p *RefundPass) processPage(ctx context.Context, orders []domain.CandidateOrder, summary *Summary) error {
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, order := range orders {
		g.Go(func() error {
			outcome, err := p.engine.Process(ctx, order)
			if err != nil {
				// only an untrustworthy idempotency store aborts the pass
				return errors.Wrapf(err, "order %s", order.Name)
			}

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case domain.OutcomeProcessed:
				summary.Processed++
				summary.TotalRefunded = summary.TotalRefunded.Add(order.RefundAmount())
				summary.Currency = order.Currency
			case domain.OutcomeUnmatched:
				summary.Unmatched++
			case domain.OutcomeFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
			return nil
		})
	}

	return g.Wait()
}
