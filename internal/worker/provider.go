package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// Message is the provider-neutral payload for one send.
type Message struct {
	JobID          string
	CampaignID     string
	ProjectID      string
	Channel        domain.Channel
	To             string
	FromEmail      string
	FromName       string
	ReplyTo        string
	Subject        string
	HTMLBody       string
	TextBody       string
	IdempotencyKey string
	Tags           map[string]string
}

// SendResult is what a provider returns on acceptance.
type SendResult struct {
	MessageID string
}

// Sender delivers one message through a provider.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// ProviderError classifies a provider failure for the retry layer.
type ProviderError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("provider %s error %s: %v", kind, e.Code, e.Err)
	}
	return fmt.Sprintf("provider %s error %s: %s", kind, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider failure.
func Transient(code string, err error) error {
	return &ProviderError{Code: code, Retryable: true, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(code string, err error) error {
	return &ProviderError{Code: code, Retryable: false, Err: err}
}

// IsRetryable reports whether err should be retried. Deadline and
// cancellation errors are retryable; unclassified errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// ProviderRouter picks a Sender by channel.
type ProviderRouter struct {
	senders map[domain.Channel]Sender
}

// NewProviderRouter builds an empty router.
func NewProviderRouter() *ProviderRouter {
	return &ProviderRouter{senders: make(map[domain.Channel]Sender)}
}

// Register binds s to channel. A nil sender unregisters it.
func (r *ProviderRouter) Register(channel domain.Channel, s Sender) {
	if s == nil {
		delete(r.senders, channel)
		return
	}
	r.senders[channel] = s
}

// Send implements Sender.
func (r *ProviderRouter) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	s, ok := r.senders[msg.Channel]
	if !ok {
		return nil, &ProviderError{Code: "no_provider", Message: "no provider configured for " + string(msg.Channel)}
	}
	return s.Send(ctx, msg)
}
