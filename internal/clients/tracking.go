// Package clients contains thin HTTP clients for the external collaborators:
// the store API (orders, refund mutation), the package-tracking provider and
// the notification webhook. Clients classify their failures as transient or
// permanent; retry policy lives in the callers.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/refundbot/pkg/retrier"
)

const defaultRequestTimeout = 15 * time.Second

// DeliveryStatus raw status pair reported by the tracking provider.
type DeliveryStatus struct {
	Status    string
	SubStatus string
	// DeliveredAt time of the latest tracking event; zero when the provider
	// reported none or an unparseable one.
	DeliveredAt time.Time
}

// TrackingClient queries the package-tracking provider.
type TrackingClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewTrackingClient creates a tracking provider client.
func NewTrackingClient(baseURL, apiKey string, timeout time.Duration) *TrackingClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &TrackingClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type trackingRequestEntry struct {
	Number string `json:"number"`
}

type trackingResponse struct {
	Code int    `json:"code"`
	Data struct {
		Accepted []struct {
			Number    string `json:"number"`
			TrackInfo *struct {
				LatestStatus struct {
					Status    string `json:"status"`
					SubStatus string `json:"sub_status"`
				} `json:"latest_status"`
				LatestEvent *struct {
					TimeUTC string `json:"time_utc"`
				} `json:"latest_event"`
			} `json:"track_info"`
		} `json:"accepted"`
		Rejected []struct {
			Number string `json:"number"`
		} `json:"rejected"`
	} `json:"data"`
}

// QueryDelivery looks up the latest delivery status for one tracking number.
func (c *TrackingClient) QueryDelivery(ctx context.Context, trackingNumber string) (DeliveryStatus, error) {
	if trackingNumber == "" {
		return DeliveryStatus{}, errors.New("tracking number is empty")
	}

	resp, err := c.post(ctx, "/gettrackinfo", []trackingRequestEntry{{Number: trackingNumber}})
	if err != nil {
		return DeliveryStatus{}, err
	}

	for _, accepted := range resp.Data.Accepted {
		if accepted.Number != trackingNumber {
			continue
		}
		if accepted.TrackInfo == nil {
			return DeliveryStatus{}, nil
		}
		status := DeliveryStatus{
			Status:    accepted.TrackInfo.LatestStatus.Status,
			SubStatus: accepted.TrackInfo.LatestStatus.SubStatus,
		}
		if event := accepted.TrackInfo.LatestEvent; event != nil && event.TimeUTC != "" {
			// malformed event times degrade to a zero DeliveredAt, which the
			// engine treats as delivery-time-unknown
			if ts, err := time.Parse(time.RFC3339, event.TimeUTC); err == nil {
				status.DeliveredAt = ts
			}
		}
		return status, nil
	}

	// rejected or unknown to the provider: an empty status maps to NotFound
	return DeliveryStatus{}, nil
}

// Register registers tracking numbers with the provider so lookups return
// data. Already-registered numbers come back rejected, which is fine.
func (c *TrackingClient) Register(ctx context.Context, trackingNumbers []string) (accepted, rejected int, err error) {
	if len(trackingNumbers) == 0 {
		return 0, 0, nil
	}

	payload := make([]trackingRequestEntry, 0, len(trackingNumbers))
	for _, number := range trackingNumbers {
		payload = append(payload, trackingRequestEntry{Number: number})
	}

	resp, err := c.post(ctx, "/register", payload)
	if err != nil {
		return 0, 0, err
	}

	return len(resp.Data.Accepted), len(resp.Data.Rejected), nil
}

func (c *TrackingClient) post(ctx context.Context, path string, payload any) (*trackingResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal tracking request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create tracking request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("17token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// network failures and client timeouts are retryable
		return nil, retrier.Transient(errors.Wrap(err, "tracking request failed"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retrier.Transient(errors.Wrap(err, "read tracking response"))
	}

	if err := classifyStatus(resp.StatusCode, "tracking API", raw); err != nil {
		return nil, err
	}

	var parsed trackingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrap(err, "decode tracking response")
	}

	// the provider signals failures in the body code even on HTTP 200
	switch parsed.Code {
	case 0:
	case http.StatusTooManyRequests:
		return nil, retrier.Transient(fmt.Errorf("tracking API rate limited, body code %d", parsed.Code))
	default:
		return nil, fmt.Errorf("tracking API returned body code %d", parsed.Code)
	}

	return &parsed, nil
}

// classifyStatus converts a non-2xx HTTP status into a transient or permanent
// error: 5xx and 429 retry, any other 4xx fails immediately.
func classifyStatus(statusCode int, api string, body []byte) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return retrier.Transient(fmt.Errorf("%s returned status %d: %s", api, statusCode, string(body)))
	default:
		return fmt.Errorf("%s returned status %d: %s", api, statusCode, string(body))
	}
}
