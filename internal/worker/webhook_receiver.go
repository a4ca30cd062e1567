package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/pkg/httputil"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
	"github.com/ignite/campaign-delivery/internal/service/feedback"
)

const maxWebhookBody = 1 << 20

// EventProcessor applies one normalized provider event.
type EventProcessor interface {
	Process(ctx context.Context, ev domain.ProviderEvent) (feedback.Result, error)
}

// Archiver keeps a copy of each raw webhook body.
type Archiver interface {
	Archive(ctx context.Context, provider string, body []byte) error
}

// WebhookReceiver handles inbound provider webhooks.
type WebhookReceiver struct {
	processor   EventProcessor
	archiver    Archiver
	confirmer   httpDoer
	autoConfirm bool
	log         *logger.Logger

	eventsReceived int64
	eventsIgnored  int64
	errors         int64
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookOption customises a WebhookReceiver.
type WebhookOption func(*WebhookReceiver)

// WithArchiver stores every raw body before processing.
func WithArchiver(a Archiver) WebhookOption { return func(w *WebhookReceiver) { w.archiver = a } }

// WithAutoConfirm visits SNS SubscribeURLs using client.
func WithAutoConfirm(client httpDoer) WebhookOption {
	return func(w *WebhookReceiver) {
		w.autoConfirm = true
		w.confirmer = client
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *logger.Logger) WebhookOption { return func(w *WebhookReceiver) { w.log = l } }

// NewWebhookReceiver builds the receiver.
func NewWebhookReceiver(p EventProcessor, opts ...WebhookOption) *WebhookReceiver {
	w := &WebhookReceiver{processor: p, log: logger.Default()}
	for _, opt := range opts {
		opt(w)
	}
	if w.confirmer == nil {
		w.confirmer = &http.Client{Timeout: 10 * time.Second}
	}
	return w
}

// HandleSESWebhook processes AWS SES events, direct or SNS-wrapped.
// Malformed payloads get 400; unhandled event types get 200 so the
// provider does not retry them; processing failures get 500 so it does.
func (w *WebhookReceiver) HandleSESWebhook(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(rw, "failed to read body")
		return
	}

	if w.archiver != nil {
		if err := w.archiver.Archive(r.Context(), "ses", body); err != nil {
			w.log.Warn("webhook archive failed", "error", err)
		}
	}

	payload, err := NormalizeSES(body)
	if err != nil {
		atomic.AddInt64(&w.errors, 1)
		w.log.Warn("rejecting malformed ses webhook", "error", err)
		httputil.BadRequest(rw, err.Error())
		return
	}

	if payload.Confirmation {
		w.confirm(r.Context(), payload)
		httputil.OK(rw, map[string]string{"status": "confirmed"})
		return
	}
	if payload.Unknown {
		atomic.AddInt64(&w.eventsIgnored, 1)
		w.log.Info("ignoring unsupported ses event type", "type", payload.RawType)
		httputil.OK(rw, map[string]string{"status": "ignored", "type": payload.RawType})
		return
	}

	atomic.AddInt64(&w.eventsReceived, 1)
	res, err := w.processor.Process(r.Context(), payload.Event)
	if err != nil {
		atomic.AddInt64(&w.errors, 1)
		httputil.InternalError(rw, fmt.Errorf("process %s event: %w", payload.Event.Type, err))
		return
	}
	httputil.OK(rw, res)
}

func (w *WebhookReceiver) confirm(ctx context.Context, p NormalizedPayload) {
	if !w.autoConfirm || p.RawType != "SubscriptionConfirmation" {
		w.log.Info("sns handshake acknowledged", "type", p.RawType)
		return
	}
	if !trustedSubscribeURL(p.SubscribeURL) {
		w.log.Warn("refusing sns subscribe url", "url", p.SubscribeURL)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.SubscribeURL, nil)
	if err != nil {
		w.log.Warn("sns confirmation request", "error", err)
		return
	}
	resp, err := w.confirmer.Do(req)
	if err != nil {
		w.log.Warn("sns confirmation failed", "error", err)
		return
	}
	resp.Body.Close()
	w.log.Info("sns subscription confirmed", "status", resp.StatusCode)
}

// trustedSubscribeURL accepts only https URLs on an SNS host.
func trustedSubscribeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" {
		return false
	}
	host := u.Hostname()
	return strings.HasPrefix(host, "sns.") && strings.HasSuffix(host, ".amazonaws.com")
}

// Stats returns receiver counters.
func (w *WebhookReceiver) Stats() map[string]int64 {
	return map[string]int64{
		"events_received": atomic.LoadInt64(&w.eventsReceived),
		"events_ignored":  atomic.LoadInt64(&w.eventsIgnored),
		"errors":          atomic.LoadInt64(&w.errors),
	}
}

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes raw webhook bodies to provider/yyyy/mm/dd/<uuid>.json.
type S3Archiver struct {
	client S3API
	bucket string
	now    func() time.Time
}

// NewS3Archiver builds an archiver for bucket.
func NewS3Archiver(client S3API, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, now: time.Now}
}

// Archive implements Archiver.
func (a *S3Archiver) Archive(ctx context.Context, provider string, body []byte) error {
	if a.bucket == "" {
		return errors.New("archive bucket not configured")
	}
	key := fmt.Sprintf("%s/%s/%s.json", provider, a.now().UTC().Format("2006/01/02"), uuid.NewString())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
