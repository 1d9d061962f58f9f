package domain

import "time"

// Verdict normalized delivery state of a return shipment.
type Verdict string

const (
	// VerdictDeliveredConfirmed the shipment reached the merchant.
	VerdictDeliveredConfirmed Verdict = "delivered_confirmed"
	// VerdictInTransit the shipment is still moving or in an unknown stage.
	VerdictInTransit Verdict = "in_transit"
	// VerdictNotFound the provider has no information for the tracking number.
	VerdictNotFound Verdict = "not_found"
	// VerdictError the provider could not be queried; neither confirmed nor denied.
	VerdictError Verdict = "error"
)

// DeliveryVerdict is the normalized result of one tracking lookup. Produced
// fresh on each resolution and never persisted.
type DeliveryVerdict struct {
	Verdict Verdict
	// Status raw provider status string.
	Status string
	// SubStatus raw provider sub-status string.
	SubStatus string
	// DeliveredAt time of the delivery event; zero when the provider did not
	// report one.
	DeliveredAt time.Time
	// ObservedAt when the lookup completed.
	ObservedAt time.Time
	// RequestID correlates an error verdict with its alert and audit entry.
	// Set only when Verdict is VerdictError.
	RequestID string
}

// Confirmed reports whether the verdict allows a refund.
func (v DeliveryVerdict) Confirmed() bool {
	return v.Verdict == VerdictDeliveredConfirmed
}
