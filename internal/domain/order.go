// Package domain defines core data structures used throughout the refund automation.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FinancialStatus payment state of an order as reported by the store.
type FinancialStatus string

const (
	FinancialStatusPaid              FinancialStatus = "PAID"
	FinancialStatusPartiallyPaid     FinancialStatus = "PARTIALLY_PAID"
	FinancialStatusPartiallyRefunded FinancialStatus = "PARTIALLY_REFUNDED"
	FinancialStatusRefunded          FinancialStatus = "REFUNDED"
	FinancialStatusPending           FinancialStatus = "PENDING"
	FinancialStatusVoided            FinancialStatus = "VOIDED"
)

// Order tags recognized by the eligibility policy.
const (
	TagForceRefund  = "refund:auto:now"
	TagNoAutoRefund = "refund:auto:off"
	TagChargeback   = "chargeback"
	TagManualRefund = "manual-refund-only"
	TagNoAutoAlias  = "no-auto-refund"
)

// CandidateOrder is an order with an in-progress return, immutable for the
// duration of one processing pass.
type CandidateOrder struct {
	// ID store-side order identifier.
	ID string
	// Name human-readable order number, e.g. "#1001".
	Name string
	// Amount original transaction amount.
	Amount decimal.Decimal
	// Currency order currency code.
	Currency string
	// Refunded amount already refunded through earlier adjustments.
	Refunded decimal.Decimal
	// TransactionID original payment transaction reference.
	TransactionID string
	// TransactionCurrency currency of the original payment transaction.
	TransactionCurrency string
	// TrackingNumber return shipment tracking reference.
	TrackingNumber string
	// FinancialStatus payment state of the order.
	FinancialStatus FinancialStatus
	// Tags store-side order tags.
	Tags []string
}

// RefundAmount returns the amount still refundable: the original transaction
// amount less already-applied adjustments.
func (o *CandidateOrder) RefundAmount() decimal.Decimal {
	return o.Amount.Sub(o.Refunded)
}

// IsPaid reports whether the order is in a refundable payment state.
func (o *CandidateOrder) IsPaid() bool {
	switch o.FinancialStatus {
	case FinancialStatusPaid, FinancialStatusPartiallyPaid, FinancialStatusPartiallyRefunded:
		return true
	}
	return false
}

// HasTag reports whether the order carries the given tag (case-insensitive).
func (o *CandidateOrder) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if strings.EqualFold(strings.TrimSpace(t), tag) {
			return true
		}
	}
	return false
}

// BlockedByTag returns the first tag that excludes the order from automatic
// refunds, or an empty string. The force tag bypasses tag-based blocks only;
// it never bypasses the delivery or payment policy.
func (o *CandidateOrder) BlockedByTag() string {
	if o.HasTag(TagForceRefund) {
		return ""
	}
	for _, tag := range []string{TagNoAutoRefund, TagNoAutoAlias, TagManualRefund, TagChargeback} {
		if o.HasTag(tag) {
			return tag
		}
	}
	return ""
}
