package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/charlesng35/campusync/pkg/errors"
)

// Sender delivers one item to its remote endpoint.
type Sender interface {
	Send(ctx context.Context, item Item) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, item Item) error

func (f SenderFunc) Send(ctx context.Context, item Item) error {
	return f(ctx, item)
}

// HTTPSender submits items as JSON requests.
type HTTPSender struct {
	client  *http.Client
	baseURL *url.URL
}

// SenderOption customises an HTTPSender.
type SenderOption func(*HTTPSender) error

// WithBaseURL resolves relative item URLs against base.
func WithBaseURL(base string) SenderOption {
	return func(s *HTTPSender) error {
		if strings.TrimSpace(base) == "" {
			return nil
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("queue: parse base url: %w", err)
		}
		s.baseURL = parsed
		return nil
	}
}

// NewHTTPSender builds a sender using client, or a client with a 30s timeout when nil.
func NewHTTPSender(client *http.Client, opts ...SenderOption) (*HTTPSender, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	s := &HTTPSender{client: client}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// BearerClient returns an HTTP client attaching token as a bearer credential.
// An empty token yields a plain client.
func BearerClient(ctx context.Context, token string, timeout time.Duration) *http.Client {
	if strings.TrimSpace(token) == "" {
		return &http.Client{Timeout: timeout}
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = timeout
	return client
}

// Send performs the request. Any status outside 2xx is a delivery failure.
func (s *HTTPSender) Send(ctx context.Context, item Item) error {
	target, err := s.resolve(item.URL)
	if err != nil {
		return apperrors.DeliveryFailed(err)
	}

	method := strings.ToUpper(strings.TrimSpace(item.Method))
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(item.Data))
	if err != nil {
		return apperrors.DeliveryFailed(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.DeliveryFailed(fmt.Errorf("%s %s: %w", method, target, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.DeliveryFailed(fmt.Errorf("%s %s: unexpected status %d", method, target, resp.StatusCode))
	}
	return nil
}

func (s *HTTPSender) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if s.baseURL == nil {
		return "", fmt.Errorf("relative url %q without base url", raw)
	}
	return s.baseURL.ResolveReference(ref).String(), nil
}
