package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/refundbot/internal/clients"
	"github.com/vadiminshakov/refundbot/internal/domain"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
	"go.uber.org/zap"
)

type stubProvider struct {
	status clients.DeliveryStatus
	err    error
	calls  int
}

func (s *stubProvider) QueryDelivery(ctx context.Context, trackingNumber string) (clients.DeliveryStatus, error) {
	s.calls++
	return s.status, s.err
}

func newTestResolver(provider trackingProvider) *Resolver {
	r := retrier.New(retrier.WithMaxAttempts(3), retrier.WithBaseDelay(time.Millisecond))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return New(provider, r, func() time.Time { return now }, zap.NewNop())
}

func TestResolver_VerdictMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    string
		subStatus string
		expected  domain.Verdict
	}{
		{"delivered to merchant", "Delivered", "Delivered_Other", domain.VerdictDeliveredConfirmed},
		{"delivered without sub-status is not confirmation", "Delivered", "", domain.VerdictInTransit},
		{"delivered with unknown sub-status is not confirmation", "Delivered", "Delivered_Mailbox", domain.VerdictInTransit},
		{"not found", "NotFound", "NotFound_Other", domain.VerdictNotFound},
		{"not found bare", "NotFound", "", domain.VerdictNotFound},
		{"expired", "Expired", "", domain.VerdictNotFound},
		{"in transit", "InTransit", "InTransit", domain.VerdictInTransit},
		{"out for delivery", "OutForDelivery", "", domain.VerdictInTransit},
		{"exception returning", "Exception", "Exception_Returning", domain.VerdictInTransit},
		{"unknown status defaults to in transit", "Teleported", "Somewhere", domain.VerdictInTransit},
		{"empty status means provider has nothing", "", "", domain.VerdictNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{status: clients.DeliveryStatus{Status: tt.status, SubStatus: tt.subStatus}}
			verdict := newTestResolver(provider).Resolve(context.Background(), "TRK1")
			require.Equal(t, tt.expected, verdict.Verdict)
			require.Equal(t, tt.status, verdict.Status)
			require.False(t, verdict.ObservedAt.IsZero())
		})
	}
}

func TestResolver_NeverConfirmsUnknownPairs(t *testing.T) {
	for pair, verdict := range verdictTable {
		if verdict == domain.VerdictDeliveredConfirmed {
			require.Equal(t, statusPair{"Delivered", "Delivered_Other"}, pair,
				"only the delivered-to-merchant pairing may confirm delivery")
		}
	}
}

func TestResolver_ExhaustedRetriesYieldErrorVerdict(t *testing.T) {
	provider := &stubProvider{err: retrier.Transient(errors.New("503"))}
	verdict := newTestResolver(provider).Resolve(context.Background(), "TRK1")

	require.Equal(t, domain.VerdictError, verdict.Verdict)
	require.Equal(t, 3, provider.calls)
	require.Len(t, verdict.RequestID, 8, "escalations carry a request id for alert correlation")
}

func TestResolver_DeliveryTimePassesThrough(t *testing.T) {
	deliveredAt := time.Date(2026, 7, 27, 9, 30, 0, 0, time.UTC)
	provider := &stubProvider{status: clients.DeliveryStatus{
		Status:      "Delivered",
		SubStatus:   "Delivered_Other",
		DeliveredAt: deliveredAt,
	}}

	verdict := newTestResolver(provider).Resolve(context.Background(), "TRK1")
	require.Equal(t, domain.VerdictDeliveredConfirmed, verdict.Verdict)
	require.True(t, verdict.DeliveredAt.Equal(deliveredAt))
}

func TestResolver_PermanentFailureYieldsErrorVerdictWithoutRetry(t *testing.T) {
	provider := &stubProvider{err: errors.New("400 bad request")}
	verdict := newTestResolver(provider).Resolve(context.Background(), "TRK1")

	require.Equal(t, domain.VerdictError, verdict.Verdict)
	require.Equal(t, 1, provider.calls)
}
