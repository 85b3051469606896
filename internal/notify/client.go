package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Notifier delivers transactional email.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Client posts messages to a Resend-compatible HTTP email API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	apiKey     string
	from       string
	timeout    time.Duration
	metrics    *metrics.Metrics
}

// NewClient creates an email API client with the specified timeout
func NewClient(apiURL, apiKey, from string, timeoutMS int, m *metrics.Metrics) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		apiURL:  apiURL,
		apiKey:  apiKey,
		from:    from,
		timeout: time.Duration(timeoutMS) * time.Millisecond,
		metrics: m,
	}
}

type emailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Send delivers msg. Callers treat failures as non-fatal.
func (c *Client) Send(ctx context.Context, msg Message) (err error) {
	defer func() { c.metrics.IncEmail(msg.Template, err) }()

	from := msg.From
	if from == "" {
		from = c.from
	}
	jsonData, err := json.Marshal(emailPayload{
		From:    from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTMLBody,
		Text:    msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("email API timed out after %s: %w", c.timeout, err)
		}
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	log.Info().
		Str("template", msg.Template).
		Str("to", msg.To).
		Msg("Email sent successfully")
	return nil
}

// LogNotifier drops messages after logging them. It is used when no email
// API key is configured.
type LogNotifier struct{}

// Send logs msg and reports success.
func (LogNotifier) Send(ctx context.Context, msg Message) error {
	log.Info().
		Str("template", msg.Template).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("Email delivery disabled, message dropped")
	log.Debug().Str("to", msg.To).Str("body", msg.TextBody).Msg("Dropped email body")
	return nil
}
