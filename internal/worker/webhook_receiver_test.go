package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/feedback"
)

const sesBounce = `{
  "eventType": "Bounce",
  "mail": {"messageId": "0100-abc", "timestamp": "2026-02-01T10:00:00Z", "destination": ["a@example.com"]},
  "bounce": {
    "bounceType": "Permanent", "bounceSubType": "General", "timestamp": "2026-02-01T10:00:05Z",
    "bouncedRecipients": [{"emailAddress": "a@example.com", "diagnosticCode": "550 5.1.1 user unknown"}]
  }
}`

func snsWrap(t *testing.T, msg string) string {
	t.Helper()
	b, err := json.Marshal(SNSMessage{Type: "Notification", MessageID: "sns-1", Message: msg})
	require.NoError(t, err)
	return string(b)
}

func TestNormalizeSES(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType domain.ProviderEventType
		check    func(t *testing.T, p NormalizedPayload)
	}{
		{
			name:     "direct bounce",
			body:     sesBounce,
			wantType: domain.ProviderBounce,
			check: func(t *testing.T, p NormalizedPayload) {
				assert.Equal(t, "0100-abc", p.Event.ProviderMessageID)
				assert.Equal(t, domain.BouncePermanent, p.Event.BounceType)
				assert.Equal(t, "550 5.1.1 user unknown", p.Event.Diagnostic)
				assert.Equal(t, time.Date(2026, 2, 1, 10, 0, 5, 0, time.UTC), p.Event.Timestamp)
			},
		},
		{
			name:     "legacy notificationType complaint",
			body:     `{"notificationType":"Complaint","mail":{"messageId":"m-2"},"complaint":{"complaintFeedbackType":"abuse"}}`,
			wantType: domain.ProviderComplaint,
			check: func(t *testing.T, p NormalizedPayload) {
				assert.Equal(t, "abuse", p.Event.ComplaintFeedbackType)
			},
		},
		{
			name:     "bounce without details is undetermined",
			body:     `{"eventType":"Bounce","mail":{"messageId":"m-3"}}`,
			wantType: domain.ProviderBounce,
			check: func(t *testing.T, p NormalizedPayload) {
				assert.Equal(t, domain.BounceUndetermined, p.Event.BounceType)
			},
		},
		{
			name:     "lowercase transient bounce kind",
			body:     `{"eventType":"Bounce","mail":{"messageId":"m-4"},"bounce":{"bounceType":"transient"}}`,
			wantType: domain.ProviderBounce,
			check: func(t *testing.T, p NormalizedPayload) {
				assert.Equal(t, domain.BounceTransient, p.Event.BounceType)
			},
		},
		{
			name:     "click carries link",
			body:     `{"eventType":"Click","mail":{"messageId":"m-5"},"click":{"link":"https://x.test/a","ipAddress":"10.0.0.1","userAgent":"curl"}}`,
			wantType: domain.ProviderClick,
			check: func(t *testing.T, p NormalizedPayload) {
				assert.Equal(t, "https://x.test/a", p.Event.Link)
				assert.Equal(t, "10.0.0.1", p.Event.IPAddress)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, body := range []string{tt.body, snsWrap(t, tt.body)} {
				p, err := NormalizeSES([]byte(body))
				require.NoError(t, err)
				assert.False(t, p.Unknown)
				assert.Equal(t, tt.wantType, p.Event.Type)
				tt.check(t, p)
			}
		})
	}
}

func TestNormalizeSES_Rejects(t *testing.T) {
	for name, body := range map[string]string{
		"not json":          `{{`,
		"missing type":      `{"mail":{"messageId":"m"}}`,
		"missing messageId": `{"eventType":"Delivery","mail":{}}`,
		"empty sns message": `{"Type":"Notification","Message":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizeSES([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestNormalizeSES_UnknownAndConfirmation(t *testing.T) {
	p, err := NormalizeSES([]byte(`{"eventType":"Rendering Failure","mail":{"messageId":"m"}}`))
	require.NoError(t, err)
	assert.True(t, p.Unknown)
	assert.Equal(t, "Rendering Failure", p.RawType)

	p, err = NormalizeSES([]byte(`{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription"}`))
	require.NoError(t, err)
	assert.True(t, p.Confirmation)
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []domain.ProviderEvent
	err    error
}

func (p *recordingProcessor) Process(_ context.Context, ev domain.ProviderEvent) (feedback.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	if p.err != nil {
		return feedback.Result{}, p.err
	}
	return feedback.Result{Handled: true, JobID: "job-1", Status: domain.JobBounced, StatusChanged: true, Suppressed: true}, nil
}

func postWebhook(h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ses", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestWebhookReceiver_ProcessesEvent(t *testing.T) {
	proc := &recordingProcessor{}
	w := NewWebhookReceiver(proc)

	rec := postWebhook(w.HandleSESWebhook, snsWrap(t, sesBounce))
	require.Equal(t, http.StatusOK, rec.Code)

	var res feedback.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Suppressed)
	require.Len(t, proc.events, 1)
	assert.Equal(t, "0100-abc", proc.events[0].ProviderMessageID)
	assert.Equal(t, int64(1), w.Stats()["events_received"])
}

func TestWebhookReceiver_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed", `{"eventType":"Bounce"}`, nil, http.StatusBadRequest},
		{"unknown type", `{"eventType":"DeliveryDelay","mail":{"messageId":"m"}}`, nil, http.StatusOK},
		{"processing failure", sesBounce, errors.New("db down"), http.StatusInternalServerError},
		{"confirmation", `{"Type":"UnsubscribeConfirmation"}`, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &recordingProcessor{err: tt.err}
			rec := postWebhook(NewWebhookReceiver(proc).HandleSESWebhook, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func TestWebhookReceiver_AutoConfirm(t *testing.T) {
	var visited []string
	client := doerFunc(func(r *http.Request) (*http.Response, error) {
		visited = append(visited, r.URL.String())
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	w := NewWebhookReceiver(&recordingProcessor{}, WithAutoConfirm(client))

	good := `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://sns.eu-west-1.amazonaws.com/?Action=ConfirmSubscription&Token=x"}`
	evil := `{"Type":"SubscriptionConfirmation","SubscribeURL":"https://attacker.test/?sns.amazonaws.com"}`

	assert.Equal(t, http.StatusOK, postWebhook(w.HandleSESWebhook, good).Code)
	assert.Equal(t, http.StatusOK, postWebhook(w.HandleSESWebhook, evil).Code)
	require.Len(t, visited, 1)
	assert.Contains(t, visited[0], "sns.eu-west-1.amazonaws.com")
}

type fakeS3 struct {
	puts []*s3.PutObjectInput
	body []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.body = append(f.body, string(b))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_ArchivesRawBody(t *testing.T) {
	client := &fakeS3{}
	arch := NewS3Archiver(client, "raw-events")
	arch.now = func() time.Time { return testEpoch }

	w := NewWebhookReceiver(&recordingProcessor{}, WithArchiver(arch))
	postWebhook(w.HandleSESWebhook, sesBounce)

	require.Len(t, client.puts, 1)
	assert.Equal(t, "raw-events", aws.ToString(client.puts[0].Bucket))
	assert.True(t, strings.HasPrefix(aws.ToString(client.puts[0].Key), "ses/2026/02/01/"))
	assert.JSONEq(t, sesBounce, client.body[0])
}

func TestS3Archiver_RequiresBucket(t *testing.T) {
	err := NewS3Archiver(&fakeS3{}, "").Archive(context.Background(), "ses", []byte("{}"))
	assert.Error(t, err)
}
