package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-delivery/internal/pkg/httpretry"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Signature-256"

// Subscription is one organization endpoint listening for events.
type Subscription struct {
	ID             string
	OrganizationID string
	URL            string
	Secret         string
	Events         []string
}

// SubscriptionStore finds active subscriptions for an event.
type SubscriptionStore interface {
	ActiveSubscriptions(ctx context.Context, organizationID, event string) ([]Subscription, error)
}

// PostgresSubscriptions reads org_webhooks.
type PostgresSubscriptions struct{ db *sql.DB }

// NewPostgresSubscriptions creates the store.
func NewPostgresSubscriptions(db *sql.DB) *PostgresSubscriptions {
	return &PostgresSubscriptions{db: db}
}

// ActiveSubscriptions returns enabled endpoints whose event list contains
// event or is empty.
func (s *PostgresSubscriptions) ActiveSubscriptions(ctx context.Context, organizationID, event string) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, url, secret, events
		FROM org_webhooks
		WHERE organization_id = $1 AND active = TRUE
		  AND (cardinality(events) = 0 OR $2 = ANY(events))
		ORDER BY created_at
	`, organizationID, event)
	if err != nil {
		return nil, fmt.Errorf("list org webhooks: %w", err)
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.ID, &sub.OrganizationID, &sub.URL, &sub.Secret, pq.Array(&sub.Events)); err != nil {
			return nil, fmt.Errorf("scan org webhook: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// WebhookDispatcher posts signed event payloads to every matching
// subscription of an organization.
type WebhookDispatcher struct {
	subs    SubscriptionStore
	client  httpretry.HTTPDoer
	timeout time.Duration
	log     *logger.Logger
	now     func() time.Time
}

// NewWebhookDispatcher builds a dispatcher. A nil client gets a retry client
// with maxRetries attempts over a default http.Client.
func NewWebhookDispatcher(subs SubscriptionStore, client httpretry.HTTPDoer, timeout time.Duration, maxRetries int, log *logger.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	if client == nil {
		client = httpretry.NewRetryClient(&http.Client{Timeout: timeout}, maxRetries, httpretry.WithLogger(log))
	}
	return &WebhookDispatcher{
		subs:    subs,
		client:  client,
		timeout: timeout,
		log:     log.With("component", "webhook_dispatcher"),
		now:     time.Now,
	}
}

type envelope struct {
	ID         string      `json:"id"`
	Event      string      `json:"event"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Trigger delivers event to each subscription. It attempts every endpoint and
// returns the joined failures.
func (d *WebhookDispatcher) Trigger(ctx context.Context, organizationID, event string, payload interface{}) error {
	subs, err := d.subs.ActiveSubscriptions(ctx, organizationID, event)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(envelope{ID: uuid.NewString(), Event: event, OccurredAt: d.now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if err := d.post(ctx, sub, event, body); err != nil {
			d.log.Warn("org webhook delivery failed", "subscription_id", sub.ID, "event", event, "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		d.log.Debug("org webhook delivered", "subscription_id", sub.ID, "event", event)
	}
	return errors.Join(errs...)
}

func (d *WebhookDispatcher) post(ctx context.Context, sub Subscription, event string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event", event)
	req.Header.Set("X-Timestamp", strconv.FormatInt(d.now().Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(sub.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
