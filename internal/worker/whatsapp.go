package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignite/campaign-delivery/internal/pkg/httpretry"
	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// WhatsAppSender posts text messages to the WhatsApp Cloud API.
type WhatsAppSender struct {
	client        httpretry.HTTPDoer
	baseURL       string
	phoneNumberID string
	accessToken   string
	log           *logger.Logger
}

// NewWhatsAppSender builds a sender. client may be nil for http.DefaultClient.
func NewWhatsAppSender(client httpretry.HTTPDoer, baseURL, phoneNumberID, accessToken string, log *logger.Logger) *WhatsAppSender {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Default()
	}
	return &WhatsAppSender{
		client:        client,
		baseURL:       strings.TrimRight(baseURL, "/"),
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		log:           log,
	}
}

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
	BizOpaqueCallbackData string `json:"biz_opaque_callback_data,omitempty"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send delivers the message text body. The idempotency key rides along as
// callback data so status webhooks can be correlated.
func (s *WhatsAppSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	text := msg.TextBody
	if text == "" {
		return nil, Permanent("empty_body", errors.New("whatsapp message has no text body"))
	}
	reqBody := whatsAppRequest{
		MessagingProduct:      "whatsapp",
		To:                    strings.TrimPrefix(msg.To, "+"),
		Type:                  "text",
		BizOpaqueCallbackData: msg.IdempotencyKey,
	}
	reqBody.Text.Body = text

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, Permanent("encode", err)
	}
	url := fmt.Sprintf("%s/%s/messages", s.baseURL, s.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, Permanent("request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, Transient("timeout", err)
		}
		return nil, Transient("transport", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var out whatsAppResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		message := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			message = out.Error.Message
		}
		perr := &ProviderError{
			Code:      strconv.Itoa(resp.StatusCode),
			Message:   message,
			Retryable: httpretry.IsRetryableStatus(resp.StatusCode),
		}
		s.log.Warn("whatsapp send failed", "job_id", msg.JobID, "phone", msg.To, "status", resp.StatusCode)
		return nil, perr
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return nil, Transient("no_message_id", errors.New("whatsapp response carried no message id"))
	}
	return &SendResult{MessageID: out.Messages[0].ID}, nil
}
