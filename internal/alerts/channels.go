package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"github.com/banshee-data/sentry.report/internal/httputil"
)

// Alert is one notification-worthy security event.
type Alert struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Location  string                 `json:"location"`
	Message   string                 `json:"message"`
	Priority  Priority               `json:"priority"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ErrPermanent marks delivery failures that retrying cannot fix, such as
// a rejected payload or a misconfigured endpoint.
var ErrPermanent = errors.New("permanent delivery failure")

// Channel delivers an alert to a set of recipients. Send must honour the
// context deadline and wrap non-retryable failures with ErrPermanent.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert, recipients []string) error
}

// statusError converts an HTTP status into nil, a permanent error or a
// transient one. 4xx responses will not improve on retry.
func statusError(channel string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500:
		return fmt.Errorf("%s: status %d: %w", channel, code, ErrPermanent)
	default:
		return fmt.Errorf("%s: status %d", channel, code)
	}
}

// subjectPrefix tags outbound messages with the alert urgency.
func subjectPrefix(p Priority) string {
	switch p {
	case PriorityHigh:
		return "[URGENT]"
	case PriorityMedium:
		return "[ALERT]"
	default:
		return "[INFO]"
	}
}

// WebhookChannel POSTs the alert as JSON to a configured endpoint.
type WebhookChannel struct {
	URL     string
	Headers map[string]string
	Client  httputil.HTTPClient
}

// NewWebhookChannel creates a webhook channel; a nil client uses the
// default HTTP client.
func NewWebhookChannel(endpoint string, headers map[string]string, client httputil.HTTPClient) *WebhookChannel {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &WebhookChannel{URL: endpoint, Headers: headers, Client: client}
}

func (w *WebhookChannel) Name() string { return ChannelWebhook }

func (w *WebhookChannel) Send(ctx context.Context, alert Alert, recipients []string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"alert":      alert,
		"recipients": recipients,
	})
	if err != nil {
		return fmt.Errorf("webhook: encode: %w: %w", err, ErrPermanent)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w: %w", err, ErrPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	return statusError("webhook", resp.StatusCode)
}

// EmailChannel sends alerts over SMTP. The send function is swappable so
// tests run without a mail server.
type EmailChannel struct {
	Addr string // host:port
	From string
	Auth smtp.Auth

	// SendMail defaults to smtp.SendMail.
	SendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel creates an SMTP-backed email channel.
func NewEmailChannel(addr, from string, auth smtp.Auth) *EmailChannel {
	return &EmailChannel{Addr: addr, From: from, Auth: auth, SendMail: smtp.SendMail}
}

func (e *EmailChannel) Name() string { return ChannelEmail }

func (e *EmailChannel) Send(ctx context.Context, alert Alert, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: %w", err)
	}

	subject := fmt.Sprintf("%s %s at %s", subjectPrefix(alert.Priority), alert.Type, alert.Location)
	body := alert.Message
	if body == "" {
		body = fmt.Sprintf("%s detected at %s (%s)", alert.Type, alert.Location, alert.Timestamp.Format(time.RFC3339))
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		e.From, strings.Join(recipients, ", "), subject, body)

	if err := e.SendMail(e.Addr, e.Auth, e.From, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	return nil
}

// SMSChannel delivers alerts through an HTTP SMS provider API, one
// request per recipient number.
type SMSChannel struct {
	APIURL string
	Token  string
	From   string
	Client httputil.HTTPClient
}

// NewSMSChannel creates an SMS channel; a nil client uses the default
// HTTP client.
func NewSMSChannel(apiURL, token, from string, client httputil.HTTPClient) *SMSChannel {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &SMSChannel{APIURL: apiURL, Token: token, From: from, Client: client}
}

func (s *SMSChannel) Name() string { return ChannelSMS }

func (s *SMSChannel) Send(ctx context.Context, alert Alert, recipients []string) error {
	text := fmt.Sprintf("%s %s at %s", subjectPrefix(alert.Priority), alert.Type, alert.Location)
	for _, to := range recipients {
		form := url.Values{}
		form.Set("From", s.From)
		form.Set("To", to)
		form.Set("Body", text)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("sms: build request: %w: %w", err, ErrPermanent)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+s.Token)

		resp, err := s.Client.Do(req)
		if err != nil {
			return fmt.Errorf("sms: %w", err)
		}
		resp.Body.Close()
		if err := statusError("sms", resp.StatusCode); err != nil {
			return err
		}
	}
	return nil
}

// PushChannel delivers alerts through an HTTP push provider API in a
// single batched request.
type PushChannel struct {
	APIURL string
	Key    string
	Client httputil.HTTPClient
}

// NewPushChannel creates a push channel; a nil client uses the default
// HTTP client.
func NewPushChannel(apiURL, key string, client httputil.HTTPClient) *PushChannel {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &PushChannel{APIURL: apiURL, Key: key, Client: client}
}

func (p *PushChannel) Name() string { return ChannelPush }

func (p *PushChannel) Send(ctx context.Context, alert Alert, recipients []string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"tokens": recipients,
		"title":  fmt.Sprintf("%s %s", subjectPrefix(alert.Priority), alert.Type),
		"body":   fmt.Sprintf("%s at %s", alert.Type, alert.Location),
		"data":   alert.Data,
	})
	if err != nil {
		return fmt.Errorf("push: encode: %w: %w", err, ErrPermanent)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.APIURL, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("push: build request: %w: %w", err, ErrPermanent)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+p.Key)

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	defer resp.Body.Close()
	return statusError("push", resp.StatusCode)
}
