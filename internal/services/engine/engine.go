// Package engine implements the refund decision state machine: one pass over
// a candidate order computes its idempotency key, consults the decision
// store, resolves the return delivery and either records why no refund is
// due or issues the refund mutation exactly once per key per TTL window.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/refundbot/internal/clients"
	"github.com/vadiminshakov/refundbot/internal/domain"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
	"go.uber.org/zap"
)

// Store is the durable idempotency cache consulted before any side effect.
type Store interface {
	Get(key string) (domain.DecisionRecord, bool, error)
	Put(record domain.DecisionRecord) error
}

// DeliveryResolver resolves a tracking reference to a normalized verdict.
type DeliveryResolver interface {
	Resolve(ctx context.Context, trackingNumber string) domain.DeliveryVerdict
}

// RefundMutator issues the refund against the store API.
type RefundMutator interface {
	CreateRefund(ctx context.Context, orderID string, amount decimal.Decimal, currency string) (string, error)
}

// Notifier delivers fire-and-forget alerts.
type Notifier interface {
	Alert(message, requestID, severity string)
}

// Auditor records every decision branch.
type Auditor interface {
	Record(entry domain.AuditEntry) error
}

// Config tunes the engine.
type Config struct {
	// DryRun computes every decision but never issues the mutation.
	DryRun bool
	// TTL window during which a recorded decision suppresses recomputation.
	TTL time.Duration
	// RefundDelay minimum time that must have passed since the delivery event
	// before a refund is issued. Zero disables the hold.
	RefundDelay time.Duration
}

// Engine decides and executes refunds for candidate orders.
type Engine struct {
	store    Store
	resolver DeliveryResolver
	mutator  RefundMutator
	notifier Notifier
	auditor  Auditor
	retrier  *retrier.Retrier
	cfg      Config
	clock    func() time.Time
	logger   *zap.Logger
}

// New creates an Engine. The clock is injectable for tests; nil means time.Now.
func New(store Store, resolver DeliveryResolver, mutator RefundMutator, notifier Notifier,
	auditor Auditor, r *retrier.Retrier, cfg Config, clock func() time.Time, logger *zap.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:    store,
		resolver: resolver,
		mutator:  mutator,
		notifier: notifier,
		auditor:  auditor,
		retrier:  r,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Process runs the decision state machine for one order and returns its
// terminal outcome. A non-nil error means the idempotency store is no longer
// trustworthy and the whole pass must abort; every other failure is a
// per-order outcome.
func (e *Engine) Process(ctx context.Context, order domain.CandidateOrder) (domain.DecisionOutcome, error) {
	key := domain.DecisionKey(&order)
	log := e.logger.With(
		zap.String("order", order.Name),
		zap.String("order_id", order.ID),
		zap.String("key", key))

	cached, hit, err := e.store.Get(key)
	if err != nil {
		return domain.OutcomeFailed, errors.Wrap(err, "idempotency store unreachable")
	}

	if hit && e.blocksReprocessing(cached) {
		log.Info("decision cached within TTL, skipping",
			zap.String("cached_outcome", string(cached.Outcome)),
			zap.Time("expires_at", cached.ExpiresAt))
		e.audit(domain.AuditEntry{
			EventType:      domain.EventDuplicateDetected,
			OrderID:        order.ID,
			OrderName:      order.Name,
			Amount:         cached.Amount,
			Currency:       cached.Currency,
			TrackingNumber: order.TrackingNumber,
			Branch:         "cached_skip",
			IdempotencyKey: key,
			RequestID:      cached.RequestID,
		})
		return domain.OutcomeSkipped, nil
	}

	verdict := e.resolver.Resolve(ctx, order.TrackingNumber)

	if verdict.Verdict == domain.VerdictError {
		// no record written: the order is retried on the next scheduled pass
		log.Warn("tracking unresolvable, skipping until next pass",
			zap.String("request_id", verdict.RequestID))
		e.notifier.Alert(
			fmt.Sprintf("tracking unresolvable for order %s (%s), skipping until next pass", order.Name, order.TrackingNumber),
			verdict.RequestID, clients.SeverityWarning)
		e.audit(domain.AuditEntry{
			EventType:      domain.EventErrorEscalated,
			OrderID:        order.ID,
			OrderName:      order.Name,
			Amount:         order.RefundAmount(),
			Currency:       order.Currency,
			TrackingNumber: order.TrackingNumber,
			Branch:         "tracking_unresolved",
			IdempotencyKey: key,
			RequestID:      verdict.RequestID,
		})
		return domain.OutcomeSkipped, nil
	}

	if reason := ineligibilityReason(&order, verdict); reason != "" {
		return e.recordUnmatched(log, order, key, verdict, reason)
	}

	if hold := e.deliveryHoldReason(&order, verdict); hold != "" {
		// no record written: eligibility changes as time passes, so the next
		// pass re-evaluates the hold
		log.Info("refund on hold", zap.String("reason", hold))
		e.audit(domain.AuditEntry{
			EventType:      domain.EventOrderSkipped,
			OrderID:        order.ID,
			OrderName:      order.Name,
			Amount:         order.RefundAmount(),
			Currency:       order.Currency,
			TrackingNumber: order.TrackingNumber,
			Branch:         "delivery_hold",
			IdempotencyKey: key,
			Error:          hold,
		})
		return domain.OutcomeSkipped, nil
	}

	amount := order.RefundAmount()

	if e.cfg.DryRun {
		return e.recordDryRun(log, order, key, amount)
	}

	return e.executeRefund(ctx, log, order, key, amount)
}

// blocksReprocessing reports whether a cached record short-circuits the
// order. A dry-run skip record must never block a live attempt.
func (e *Engine) blocksReprocessing(record domain.DecisionRecord) bool {
	if record.DryRun && !e.cfg.DryRun {
		return false
	}
	switch record.Outcome {
	case domain.OutcomeProcessed, domain.OutcomeSkipped, domain.OutcomeUnmatched:
		return true
	}
	return false
}

// ineligibilityReason applies the refund-eligibility policy. An empty string
// means eligible. Policy violations are decisions, not errors.
func ineligibilityReason(order *domain.CandidateOrder, verdict domain.DeliveryVerdict) string {
	if tag := order.BlockedByTag(); tag != "" {
		return fmt.Sprintf("blocked by tag %q", tag)
	}
	if !verdict.Confirmed() {
		return fmt.Sprintf("delivery not confirmed (status %s/%s)", verdict.Status, verdict.SubStatus)
	}
	if !order.IsPaid() {
		return fmt.Sprintf("order not paid (status %s)", order.FinancialStatus)
	}
	if !order.RefundAmount().IsPositive() {
		return "nothing left to refund"
	}
	if order.TransactionCurrency != "" && order.TransactionCurrency != order.Currency {
		return fmt.Sprintf("currency mismatch: order %s, transaction %s", order.Currency, order.TransactionCurrency)
	}
	return ""
}

// deliveryHoldReason enforces the post-delivery waiting period on a confirmed
// delivery. An empty string means the hold has elapsed. The force tag lifts
// the hold, matching its treatment of other soft blocks.
func (e *Engine) deliveryHoldReason(order *domain.CandidateOrder, verdict domain.DeliveryVerdict) string {
	if e.cfg.RefundDelay <= 0 || order.HasTag(domain.TagForceRefund) {
		return ""
	}
	if verdict.DeliveredAt.IsZero() {
		return "delivery time unknown"
	}
	elapsed := e.clock().Sub(verdict.DeliveredAt)
	if elapsed < e.cfg.RefundDelay {
		return fmt.Sprintf("delivered %.1fh ago, hold is %.1fh",
			elapsed.Hours(), e.cfg.RefundDelay.Hours())
	}
	return ""
}

func (e *Engine) recordUnmatched(log *zap.Logger, order domain.CandidateOrder, key string,
	verdict domain.DeliveryVerdict, reason string) (domain.DecisionOutcome, error) {

	log.Info("order not eligible for refund", zap.String("reason", reason))

	record := domain.NewDecisionRecord(key, domain.OutcomeUnmatched, order.RefundAmount(), order.Currency, e.clock(), e.cfg.TTL)
	record.Reason = reason
	record.DryRun = e.cfg.DryRun
	if err := e.store.Put(record); err != nil {
		return domain.OutcomeFailed, errors.Wrap(err, "persist unmatched decision")
	}

	e.audit(domain.AuditEntry{
		EventType:      domain.EventOrderUnmatched,
		OrderID:        order.ID,
		OrderName:      order.Name,
		Amount:         order.RefundAmount(),
		Currency:       order.Currency,
		TrackingNumber: order.TrackingNumber,
		Branch:         "unmatched",
		IdempotencyKey: key,
		Error:          reason,
	})

	return domain.OutcomeUnmatched, nil
}

func (e *Engine) recordDryRun(log *zap.Logger, order domain.CandidateOrder, key string,
	amount decimal.Decimal) (domain.DecisionOutcome, error) {

	log.Info("would process refund",
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", order.Currency))

	record := domain.NewDecisionRecord(key, domain.OutcomeSkipped, amount, order.Currency, e.clock(), e.cfg.TTL)
	record.Reason = "dry-run"
	record.DryRun = true
	if err := e.store.Put(record); err != nil {
		return domain.OutcomeFailed, errors.Wrap(err, "persist dry-run decision")
	}

	e.audit(domain.AuditEntry{
		EventType:      domain.EventWouldProcess,
		OrderID:        order.ID,
		OrderName:      order.Name,
		Amount:         amount,
		Currency:       order.Currency,
		TrackingNumber: order.TrackingNumber,
		Branch:         "would_process",
		IdempotencyKey: key,
	})

	return domain.OutcomeSkipped, nil
}

func (e *Engine) executeRefund(ctx context.Context, log *zap.Logger, order domain.CandidateOrder,
	key string, amount decimal.Decimal) (domain.DecisionOutcome, error) {

	start := e.clock()
	refundID, err := retrier.DoWithData(e.retrier, ctx, func(ctx context.Context) (string, error) {
		return e.mutator.CreateRefund(ctx, order.ID, amount, order.Currency)
	})
	elapsedMs := e.clock().Sub(start).Milliseconds()

	if err != nil {
		requestID := ""
		if escalated, ok := retrier.AsEscalated(err); ok {
			requestID = escalated.RequestID
		}

		log.Error("refund mutation failed", zap.String("request_id", requestID), zap.Error(err))
		e.notifier.Alert(
			fmt.Sprintf("refund failed for order %s (%s %s): %v", order.Name, amount.StringFixed(2), order.Currency, err),
			requestID, clients.SeverityError)

		// no record written: the order is retried on the next scheduled pass
		e.audit(domain.AuditEntry{
			EventType:      domain.EventRefundFailed,
			OrderID:        order.ID,
			OrderName:      order.Name,
			Amount:         amount,
			Currency:       order.Currency,
			TrackingNumber: order.TrackingNumber,
			Branch:         "failed",
			IdempotencyKey: key,
			RequestID:      requestID,
			ResponseTimeMs: elapsedMs,
			Error:          err.Error(),
		})

		return domain.OutcomeFailed, nil
	}

	record := domain.NewDecisionRecord(key, domain.OutcomeProcessed, amount, order.Currency, e.clock(), e.cfg.TTL)
	record.RefundID = refundID
	if err := e.store.Put(record); err != nil {
		// the mutation already happened; an unrecordable outcome risks a
		// duplicate refund next pass, so the pass aborts loudly
		e.notifier.Alert(
			fmt.Sprintf("CRITICAL: refund %s for order %s succeeded but could not be recorded: %v", refundID, order.Name, err),
			"", clients.SeverityError)
		return domain.OutcomeProcessed, errors.Wrap(err, "persist processed decision")
	}

	log.Info("refund processed",
		zap.String("refund_id", refundID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("currency", order.Currency),
		zap.Int64("response_time_ms", elapsedMs))

	e.audit(domain.AuditEntry{
		EventType:      domain.EventRefundCompleted,
		OrderID:        order.ID,
		OrderName:      order.Name,
		Amount:         amount,
		Currency:       order.Currency,
		TrackingNumber: order.TrackingNumber,
		Branch:         "processed",
		IdempotencyKey: key,
		ResponseTimeMs: elapsedMs,
	})

	return domain.OutcomeProcessed, nil
}

func (e *Engine) audit(entry domain.AuditEntry) {
	if err := e.auditor.Record(entry); err != nil {
		e.logger.Error("failed to write audit entry",
			zap.String("order_id", entry.OrderID),
			zap.Error(err))
	}
}
