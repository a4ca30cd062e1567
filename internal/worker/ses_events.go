package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/campaign-delivery/internal/domain"
)

// ErrMalformedEvent marks a webhook payload that cannot be an SES event.
var ErrMalformedEvent = errors.New("malformed provider event")

// NormalizedPayload is the outcome of decoding one webhook body.
type NormalizedPayload struct {
	// Confirmation is set for SNS subscription handshakes.
	Confirmation bool
	SubscribeURL string
	// Unknown is set for well-formed events of a type we do not handle.
	Unknown bool
	RawType string
	Event   domain.ProviderEvent
}

// SNSMessage is the AWS SNS HTTP delivery envelope.
type SNSMessage struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesTimestamped struct {
	Timestamp time.Time `json:"timestamp"`
}

// sesEvent covers both the event publishing shape (eventType) and the
// legacy notification shape (notificationType).
type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             *struct {
		MessageID   string    `json:"messageId"`
		Timestamp   time.Time `json:"timestamp"`
		Destination []string  `json:"destination"`
	} `json:"mail"`
	Bounce *struct {
		sesTimestamped
		BounceType        string `json:"bounceType"`
		BounceSubType     string `json:"bounceSubType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		sesTimestamped
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
		ComplainedRecipients  []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
	Delivery *struct {
		sesTimestamped
		Recipients []string `json:"recipients"`
	} `json:"delivery"`
	Open *struct {
		sesTimestamped
		IPAddress string `json:"ipAddress"`
		UserAgent string `json:"userAgent"`
	} `json:"open"`
	Click *struct {
		sesTimestamped
		IPAddress string `json:"ipAddress"`
		UserAgent string `json:"userAgent"`
		Link      string `json:"link"`
	} `json:"click"`
}

// NormalizeSES decodes a raw SES webhook body: an SNS envelope or a direct
// event, with either eventType or notificationType.
func NormalizeSES(body []byte) (NormalizedPayload, error) {
	var env SNSMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return NormalizedPayload{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	switch env.Type {
	case "SubscriptionConfirmation", "UnsubscribeConfirmation":
		return NormalizedPayload{Confirmation: true, SubscribeURL: env.SubscribeURL, RawType: env.Type}, nil
	case "Notification":
		if env.Message == "" {
			return NormalizedPayload{}, fmt.Errorf("%w: empty SNS message", ErrMalformedEvent)
		}
		body = []byte(env.Message)
	}

	var ev sesEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return NormalizedPayload{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	rawType := ev.EventType
	if rawType == "" {
		rawType = ev.NotificationType
	}
	if rawType == "" {
		return NormalizedPayload{}, fmt.Errorf("%w: missing eventType", ErrMalformedEvent)
	}
	if ev.Mail == nil || ev.Mail.MessageID == "" {
		return NormalizedPayload{}, fmt.Errorf("%w: missing mail.messageId", ErrMalformedEvent)
	}

	t, ok := domain.ParseProviderEventType(rawType)
	if !ok {
		return NormalizedPayload{Unknown: true, RawType: rawType}, nil
	}
	out := NormalizedPayload{RawType: rawType, Event: domain.ProviderEvent{
		Type:              t,
		ProviderMessageID: ev.Mail.MessageID,
		Timestamp:         ev.Mail.Timestamp,
		Recipients:        ev.Mail.Destination,
	}}
	pe := &out.Event

	switch t {
	case domain.ProviderBounce:
		if ev.Bounce != nil {
			pe.BounceType = parseBounceKind(ev.Bounce.BounceType)
			pe.BounceSubType = ev.Bounce.BounceSubType
			setTime(pe, ev.Bounce.Timestamp)
			if len(ev.Bounce.BouncedRecipients) > 0 {
				pe.Recipients = nil
				for _, r := range ev.Bounce.BouncedRecipients {
					pe.Recipients = append(pe.Recipients, r.EmailAddress)
				}
				pe.Diagnostic = ev.Bounce.BouncedRecipients[0].DiagnosticCode
			}
		} else {
			pe.BounceType = domain.BounceUndetermined
		}
	case domain.ProviderComplaint:
		if ev.Complaint != nil {
			pe.ComplaintFeedbackType = ev.Complaint.ComplaintFeedbackType
			setTime(pe, ev.Complaint.Timestamp)
		}
	case domain.ProviderDelivery:
		if ev.Delivery != nil {
			setTime(pe, ev.Delivery.Timestamp)
		}
	case domain.ProviderOpen:
		if ev.Open != nil {
			pe.IPAddress, pe.UserAgent = ev.Open.IPAddress, ev.Open.UserAgent
			setTime(pe, ev.Open.Timestamp)
		}
	case domain.ProviderClick:
		if ev.Click != nil {
			pe.IPAddress, pe.UserAgent, pe.Link = ev.Click.IPAddress, ev.Click.UserAgent, ev.Click.Link
			setTime(pe, ev.Click.Timestamp)
		}
	}
	return out, nil
}

func setTime(pe *domain.ProviderEvent, t time.Time) {
	if !t.IsZero() {
		pe.Timestamp = t
	}
}

func parseBounceKind(s string) domain.BounceKind {
	switch strings.ToLower(s) {
	case "permanent":
		return domain.BouncePermanent
	case "transient":
		return domain.BounceTransient
	default:
		return domain.BounceUndetermined
	}
}
