// Package resolver normalizes provider-specific tracking statuses into the
// four-way delivery verdict the decision engine acts on.
package resolver

import (
	"context"
	"time"

	"github.com/vadiminshakov/refundbot/internal/clients"
	"github.com/vadiminshakov/refundbot/internal/domain"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
	"go.uber.org/zap"
)

type trackingProvider interface {
	QueryDelivery(ctx context.Context, trackingNumber string) (clients.DeliveryStatus, error)
}

type statusPair struct {
	status    string
	subStatus string
}

// verdictTable is the complete mapping of provider status/sub-status pairs.
// Only the delivered-to-merchant pairing confirms delivery; anything absent
// from the table falls back to in-transit so an unknown provider vocabulary
// can never trigger a refund.
var verdictTable = map[statusPair]domain.Verdict{
	{"Delivered", "Delivered_Other"}:     domain.VerdictDeliveredConfirmed,
	{"Delivered", ""}:                    domain.VerdictInTransit,
	{"NotFound", "NotFound_Other"}:       domain.VerdictNotFound,
	{"NotFound", ""}:                     domain.VerdictNotFound,
	{"Expired", ""}:                      domain.VerdictNotFound,
	{"InfoReceived", ""}:                 domain.VerdictInTransit,
	{"InTransit", "InTransit"}:           domain.VerdictInTransit,
	{"InTransit", ""}:                    domain.VerdictInTransit,
	{"AvailableForPickup", ""}:           domain.VerdictInTransit,
	{"OutForDelivery", ""}:               domain.VerdictInTransit,
	{"DeliveryFailure", ""}:              domain.VerdictInTransit,
	{"Exception", "Exception_Returning"}: domain.VerdictInTransit,
	{"Exception", "Exception_Returned"}:  domain.VerdictInTransit,
	{"Exception", ""}:                    domain.VerdictInTransit,
}

// Resolver resolves tracking references to delivery verdicts, retrying
// transient provider failures.
type Resolver struct {
	provider trackingProvider
	retrier  *retrier.Retrier
	clock    func() time.Time
	logger   *zap.Logger
}

// New creates a Resolver. The clock is injectable for tests; nil means time.Now.
func New(provider trackingProvider, r *retrier.Retrier, clock func() time.Time, logger *zap.Logger) *Resolver {
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		provider: provider,
		retrier:  r,
		clock:    clock,
		logger:   logger,
	}
}

// Resolve returns the normalized delivery verdict for the tracking number.
// A lookup that fails after retries (or permanently) yields VerdictError,
// which the engine treats as neither confirmed nor denied.
func (r *Resolver) Resolve(ctx context.Context, trackingNumber string) domain.DeliveryVerdict {
	status, err := retrier.DoWithData(r.retrier, ctx, func(ctx context.Context) (clients.DeliveryStatus, error) {
		return r.provider.QueryDelivery(ctx, trackingNumber)
	})
	if err != nil {
		requestID := ""
		if escalated, ok := retrier.AsEscalated(err); ok {
			requestID = escalated.RequestID
		}
		r.logger.Warn("tracking lookup failed",
			zap.String("tracking_number", trackingNumber),
			zap.String("request_id", requestID),
			zap.Error(err))
		return domain.DeliveryVerdict{
			Verdict:    domain.VerdictError,
			ObservedAt: r.clock(),
			RequestID:  requestID,
		}
	}

	return domain.DeliveryVerdict{
		Verdict:     mapVerdict(status),
		Status:      status.Status,
		SubStatus:   status.SubStatus,
		DeliveredAt: status.DeliveredAt,
		ObservedAt:  r.clock(),
	}
}

func mapVerdict(status clients.DeliveryStatus) domain.Verdict {
	if verdict, ok := verdictTable[statusPair{status.Status, status.SubStatus}]; ok {
		return verdict
	}
	// unknown sub-status: fall back to the bare status, never to confirmation
	if verdict, ok := verdictTable[statusPair{status.Status, ""}]; ok && verdict != domain.VerdictDeliveredConfirmed {
		return verdict
	}
	if status.Status == "" {
		return domain.VerdictNotFound
	}
	return domain.VerdictInTransit
}
