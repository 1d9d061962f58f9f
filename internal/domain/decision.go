package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionOutcome terminal branch of one refund decision.
type DecisionOutcome string

const (
	// OutcomeMatched the order matched the refund criteria.
	OutcomeMatched DecisionOutcome = "matched"
	// OutcomeUnmatched the order failed the eligibility policy.
	OutcomeUnmatched DecisionOutcome = "unmatched"
	// OutcomeSkipped the order was skipped without a terminal policy decision
	// (dry-run, unresolved tracking, cached repeat).
	OutcomeSkipped DecisionOutcome = "skipped"
	// OutcomeProcessed the refund mutation succeeded.
	OutcomeProcessed DecisionOutcome = "processed"
	// OutcomeFailed the refund mutation failed after retries.
	OutcomeFailed DecisionOutcome = "failed"
)

// DecisionRecord is the durable outcome of one refund decision. Records are
// never mutated in place; reprocessing after expiry writes a new record for
// the same key.
type DecisionRecord struct {
	Key       string          `json:"key"`
	Outcome   DecisionOutcome `json:"outcome"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	RequestID string          `json:"request_id,omitempty"`
	RefundID  string          `json:"refund_id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	DryRun    bool            `json:"dry_run"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the record's TTL window has passed at the given time.
func (r DecisionRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// NewDecisionRecord builds a record for the key with the TTL window anchored
// at now.
func NewDecisionRecord(key string, outcome DecisionOutcome, amount decimal.Decimal, currency string, now time.Time, ttl time.Duration) DecisionRecord {
	return DecisionRecord{
		Key:       key,
		Outcome:   outcome,
		Amount:    amount,
		Currency:  currency,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// DecisionKey computes the deterministic idempotency key for an order.
// Identical inputs always reproduce the same key.
func DecisionKey(o *CandidateOrder) string {
	payload := fmt.Sprintf("%s|%s|%s|%s", o.ID, o.TrackingNumber, o.Amount.String(), o.Currency)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}
