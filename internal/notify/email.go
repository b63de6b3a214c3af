package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// EmailRequest is the JSON body accepted by the email service.
type EmailRequest struct {
	From     string         `json:"from,omitempty"`
	To       []string       `json:"to"`
	Template string         `json:"template"`
	Subject  string         `json:"subject,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// EmailClient posts templated emails to the email service.
type EmailClient struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

// NewEmailClient returns nil when endpoint is empty.
func NewEmailClient(endpoint, apiKey, from string, timeout time.Duration) *EmailClient {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send implements Mailer.
func (c *EmailClient) Send(ctx context.Context, req EmailRequest) error {
	if c == nil {
		return errors.New("notify: email client not configured")
	}
	if req.From == "" {
		req.From = c.from
	}
	body, errMarshal := json.Marshal(req)
	if errMarshal != nil {
		return fmt.Errorf("notify: encode email: %w", errMarshal)
	}
	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if errReq != nil {
		return fmt.Errorf("notify: build email request: %w", errReq)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, errDo := c.client.Do(httpReq)
	if errDo != nil {
		return fmt.Errorf("notify: send email: %w", errDo)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: email service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

var _ Mailer = (*EmailClient)(nil)
