package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// HTTPWebhookSender posts alert payloads as JSON to a fixed URL.
type HTTPWebhookSender struct {
	url    string
	client *http.Client
}

// NewHTTPWebhookSender builds a sender for url. A nil client gets a
// default with a short timeout.
func NewHTTPWebhookSender(url string, client *http.Client) *HTTPWebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPWebhookSender{url: url, client: client}
}

// Send posts the payload. Non-2xx responses report a transport failure.
func (s *HTTPWebhookSender) Send(ctx context.Context, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "encode alert payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "deliver alert")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return xerrors.New(xerrors.CodeTransportFailure, "alert endpoint rejected the payload: "+resp.Status)
	}
	return nil
}

var _ WebhookSender = (*HTTPWebhookSender)(nil)
