package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Alert severities understood by the notifier.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

var severityColors = map[string]string{
	SeverityInfo:    "#36a64f",
	SeverityWarning: "#ff9500",
	SeverityError:   "#ff0000",
}

// SlackNotifier delivers fire-and-forget alerts to a Slack incoming webhook.
// Delivery failures are logged and dropped; an alert never fails the pass.
type SlackNotifier struct {
	webhookURL string
	dryRun     bool
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSlackNotifier creates a notifier. An empty webhook URL disables delivery.
func NewSlackNotifier(webhookURL string, dryRun bool, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		dryRun:     dryRun,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackMessage struct {
	Username    string            `json:"username"`
	Attachments []slackAttachment `json:"attachments"`
}

// Alert sends one notification. The request id, when present, lets operators
// correlate the alert with audit entries.
func (n *SlackNotifier) Alert(message, requestID, severity string) {
	var fields []slackField
	if requestID != "" {
		fields = append(fields, slackField{Title: "Request ID", Value: requestID, Short: true})
	}
	n.send(message, severity, fields)
}

// SendSummary reports the final counters of one pass.
func (n *SlackNotifier) SendSummary(processed, failed, skipped int, total decimal.Decimal, currency string) {
	severity := SeverityInfo
	if failed > 0 {
		severity = SeverityWarning
	}

	fields := []slackField{
		{Title: "Processed", Value: fmt.Sprintf("%d", processed), Short: true},
		{Title: "Failed", Value: fmt.Sprintf("%d", failed), Short: true},
		{Title: "Skipped", Value: fmt.Sprintf("%d", skipped), Short: true},
		{Title: "Total refunded", Value: fmt.Sprintf("%s %s", total.StringFixed(2), currency), Short: true},
	}

	message := fmt.Sprintf("refund pass completed: %d processed, %d failed, %d skipped", processed, failed, skipped)
	n.send(message, severity, fields)
}

func (n *SlackNotifier) send(message, severity string, fields []slackField) {
	if n.webhookURL == "" {
		n.logger.Debug("slack notifications disabled", zap.String("message", message))
		return
	}

	mode := "LIVE"
	if n.dryRun {
		mode = "DRY-RUN"
	}

	color, ok := severityColors[severity]
	if !ok {
		color = "#808080"
	}

	payload := slackMessage{
		Username: "Refund Automation Bot",
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  fmt.Sprintf("Refund Automation (%s)", mode),
				Text:   message,
				Fields: fields,
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to marshal slack payload", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("failed to create slack request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Error("failed to send slack notification", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Error("slack webhook rejected notification", zap.Int("status", resp.StatusCode))
	}
}
