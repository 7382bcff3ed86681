// Package webhook delivers approved-action payloads to the configured
// outbound endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// timeout bounds one delivery attempt. There are no retries: 2xx means
// delivered, anything else is reported back to the user as a partial failure.
var timeout = 30 * time.Second

// Payload is the JSON body POSTed on approval.
type Payload struct {
	UserID      string         `json:"user_id"`
	SessionID   string         `json:"session_id"`
	Intent      string         `json:"intent"`
	Data        map[string]any `json:"data"`
	Timestamp   time.Time      `json:"timestamp"`
	RoutingInfo map[string]any `json:"routing_info,omitempty"`
}

// Sender posts approved actions to one configured URL.
type Sender struct {
	url    string
	client *http.Client
}

// NewSender returns a Sender for the given endpoint. An empty URL yields a
// nil Sender, which Post treats as "no webhook configured".
func NewSender(url string) *Sender {
	if url == "" {
		return nil
	}
	return &Sender{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Post delivers the payload. Any non-2xx status is an error; the response
// body is included for operator logs but never shown to the user.
func (s *Sender) Post(ctx context.Context, payload *Payload) error {
	if s == nil {
		return errors.New("no webhook endpoint configured")
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", s.url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", s.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", s.url)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", s.url)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", s.url, resp.StatusCode, b)
	}
	return nil
}
