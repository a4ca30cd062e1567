package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-delivery/internal/pkg/logger"
)

// SESAPI is the subset of the SES v2 client the sender uses.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends email through AWS SES.
type SESSender struct {
	client           SESAPI
	configurationSet string
	defaultFrom      string
	defaultFromName  string
	log              *logger.Logger
}

// NewSESSender wraps an SES client. configurationSet may be empty.
func NewSESSender(client SESAPI, configurationSet string, log *logger.Logger) *SESSender {
	if log == nil {
		log = logger.Default()
	}
	return &SESSender{client: client, configurationSet: configurationSet, log: log}
}

// NewSESSenderFromConfig builds the SES client from an AWS config.
func NewSESSenderFromConfig(cfg aws.Config, configurationSet string, log *logger.Logger) *SESSender {
	return NewSESSender(sesv2.NewFromConfig(cfg), configurationSet, log)
}

// SetDefaultFrom sets the sender used for campaigns without a from address.
func (s *SESSender) SetDefaultFrom(email, name string) {
	s.defaultFrom, s.defaultFromName = email, name
}

// Send delivers one email. Errors are *ProviderError.
func (s *SESSender) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	fromEmail, fromName := msg.FromEmail, msg.FromName
	if fromEmail == "" {
		fromEmail, fromName = s.defaultFrom, s.defaultFromName
	}
	if fromEmail == "" {
		return nil, Permanent("no_sender", errors.New("no from address configured"))
	}
	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}

	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("job_id"), Value: aws.String(msg.JobID)},
			{Name: aws.String("idempotency_key"), Value: aws.String(msg.IdempotencyKey)},
		},
	}
	for k, v := range msg.Tags {
		input.EmailTags = append(input.EmailTags, types.MessageTag{Name: aws.String(k), Value: aws.String(v)})
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		perr := classifySESError(err)
		s.log.Warn("ses send failed", "job_id", msg.JobID, "recipient", msg.To, "error", perr.Error())
		return nil, perr
	}

	id := aws.ToString(out.MessageId)
	s.log.Debug("ses sent", "job_id", msg.JobID, "recipient", msg.To, "message_id", id)
	return &SendResult{MessageID: id}, nil
}

var sesRetryableCodes = map[string]bool{
	"TooManyRequestsException": true,
	"LimitExceededException":   true,
	"ThrottlingException":      true,
	"Throttling":               true,
	"SendingPausedException":   true,
	"InternalFailure":          true,
	"ServiceUnavailable":       true,
	"RequestTimeout":           true,
}

// classifySESError maps SES API error codes onto retryable or permanent.
// Errors without an API code (transport, timeouts) are retryable.
func classifySESError(err error) *ProviderError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		retryable := sesRetryableCodes[code] || apiErr.ErrorFault() == smithy.FaultServer
		return &ProviderError{Code: code, Message: apiErr.ErrorMessage(), Retryable: retryable, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Code: "timeout", Retryable: true, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Code: "canceled", Retryable: true, Err: err}
	}
	return &ProviderError{Code: "transport", Retryable: true, Err: err}
}
