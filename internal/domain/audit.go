package domain

import "github.com/shopspring/decimal"

// AuditEventType category of an audit entry.
type AuditEventType string

const (
	EventRefundCompleted   AuditEventType = "refund_completed"
	EventRefundFailed      AuditEventType = "refund_failed"
	EventOrderUnmatched    AuditEventType = "order_unmatched"
	EventOrderSkipped      AuditEventType = "order_skipped"
	EventDuplicateDetected AuditEventType = "duplicate_detected"
	EventWouldProcess      AuditEventType = "would_process"
	EventErrorEscalated    AuditEventType = "error_escalated"
)

// AuditEntry is one append-only record of a decision branch with all
// diagnostic fields.
type AuditEntry struct {
	// Timestamp ISO8601 time in the configured store timezone, set by the sink.
	Timestamp      string          `json:"timestamp"`
	EventType      AuditEventType  `json:"event_type"`
	OrderID        string          `json:"order_id"`
	OrderName      string          `json:"order_name"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	Branch         string          `json:"decision_branch"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	ResponseTimeMs int64           `json:"response_time_ms,omitempty"`
	Mode           string          `json:"mode"`
	Error          string          `json:"error,omitempty"`
}
