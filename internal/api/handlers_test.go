package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/service/campaign"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeCampaigns struct {
	campaigns map[string]*domain.Campaign
	created   *campaign.CreateInput
	listed    campaign.ListFilter
	approver  string
	reason    string
	err       error
}

func newFakeCampaigns() *fakeCampaigns {
	return &fakeCampaigns{campaigns: map[string]*domain.Campaign{
		"c1": {ID: "c1", ProjectID: "p1", Status: domain.CampaignBlocked},
		"c2": {ID: "c2", ProjectID: "p1", Status: domain.CampaignCompleted},
	}}
}

func (f *fakeCampaigns) get(id string) (*domain.Campaign, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaigns) Create(_ context.Context, in campaign.CreateInput) (*campaign.CreateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &in
	if in.Body == "" {
		return nil, &campaign.ValidationError{Field: "body", Message: "is required"}
	}
	return &campaign.CreateResult{
		Campaign:    &domain.Campaign{ID: "new", ProjectID: in.ProjectID, Status: domain.CampaignQueued},
		JobsCreated: len(in.Recipients),
	}, nil
}

func (f *fakeCampaigns) Get(_ context.Context, id string) (*domain.Campaign, error) { return f.get(id) }

func (f *fakeCampaigns) List(_ context.Context, projectID string, lf campaign.ListFilter) ([]domain.Campaign, int, error) {
	f.listed = lf
	var out []domain.Campaign
	for _, c := range f.campaigns {
		if c.ProjectID == projectID {
			out = append(out, *c)
		}
	}
	return out, len(out), f.err
}

func (f *fakeCampaigns) Readiness(_ context.Context, projectID string) (*domain.Readiness, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Readiness{ProjectID: projectID, Score: 72, Outcome: domain.OutcomeAllow}, nil
}

func (f *fakeCampaigns) Approve(_ context.Context, id, adminID, reason string) (*domain.Campaign, error) {
	c, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignBlocked {
		return nil, &campaign.TransitionError{CampaignID: id, Op: "approve", Current: c.Status}
	}
	f.approver, f.reason = adminID, reason
	c.Status = domain.CampaignQueued
	return c, nil
}

func (f *fakeCampaigns) Cancel(_ context.Context, id, _, reason string) (*domain.Campaign, error) {
	c, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if c.Status.IsTerminal() {
		return nil, &campaign.TransitionError{CampaignID: id, Op: "cancel", Current: c.Status}
	}
	f.reason = reason
	c.Status = domain.CampaignCancelled
	return c, nil
}

func (f *fakeCampaigns) Pause(_ context.Context, id, _ string) (*domain.Campaign, error) {
	c, err := f.get(id)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CampaignPaused
	return c, nil
}

func (f *fakeCampaigns) Resume(_ context.Context, id, _ string) (*domain.Campaign, error) {
	c, err := f.get(id)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CampaignQueued
	return c, nil
}

func (f *fakeCampaigns) Stats(_ context.Context, id string) (*domain.CampaignStats, error) {
	if _, err := f.get(id); err != nil {
		return nil, err
	}
	return &domain.CampaignStats{CampaignID: id, Total: 10, DeliveryRate: 90}, nil
}

type fakeSuppressions struct {
	entries []domain.SuppressionEntry
	filter  suppression.ListFilter
	added   *suppression.AddInput
}

func (f *fakeSuppressions) Add(_ context.Context, in suppression.AddInput) (*domain.SuppressionEntry, error) {
	if in.Email == "" && in.Phone == "" {
		return nil, suppression.ErrMissingTarget
	}
	f.added = &in
	e := domain.SuppressionEntry{ID: "s-new", ProjectID: in.ProjectID, Email: in.Email, Reason: domain.SuppressionReason(in.Reason), Source: in.Source}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeSuppressions) Remove(_ context.Context, id string) error {
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return suppression.ErrNotFound
}

func (f *fakeSuppressions) List(_ context.Context, _ string, lf suppression.ListFilter) ([]domain.SuppressionEntry, int, error) {
	f.filter = lf
	return f.entries, len(f.entries), nil
}

func (f *fakeSuppressions) GetStats(_ context.Context, _ string) (*suppression.Stats, error) {
	return &suppression.Stats{Total: len(f.entries)}, nil
}

func setupRouter(t *testing.T) (http.Handler, *fakeCampaigns, *fakeSuppressions) {
	t.Helper()
	campaigns := newFakeCampaigns()
	supp := &fakeSuppressions{}
	r := SetupRoutes(NewHandlers(campaigns, supp), RouterConfig{
		Health:       NewHealthChecker(nil, nil, nil, ""),
		SESWebhook:   func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) },
		WebhookToken: "s3cret",
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
	return r, campaigns, supp
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req.ContentLength = 0
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

var admin = map[string]string{ActorHeader: "admin-1", AdminHeader: "true"}

// ---------------------------------------------------------------------------
// Campaign endpoints
// ---------------------------------------------------------------------------

func TestCreateCampaign_UsesPathAndActor(t *testing.T) {
	r, campaigns, _ := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/projects/p1/campaigns", map[string]any{
		"project_id":     "ignored",
		"channel":        "EMAIL",
		"subject":        "Hi",
		"body":           "<p>Hello</p>",
		"skip_readiness": true,
		"recipients":     []map[string]string{{"email": "a@example.com"}, {"email": "b@example.com"}},
	}, map[string]string{ActorHeader: "user-9", OrganizationHeader: "org-1"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, campaigns.created)
	assert.Equal(t, "p1", campaigns.created.ProjectID)
	assert.Equal(t, "user-9", campaigns.created.CreatedBy)
	assert.Equal(t, "org-1", campaigns.created.OrganizationID)
	assert.False(t, campaigns.created.SkipReadiness, "only admins may skip the readiness gate")
	assert.EqualValues(t, 2, decodeBody(t, rec)["jobs_created"])
}

func TestCreateCampaign_ValidationIs400(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/projects/p1/campaigns", map[string]any{"channel": "EMAIL"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation_failed", body["code"])
	assert.Equal(t, map[string]any{"field": "body"}, body["details"])
}

func TestCreateCampaign_MalformedJSON(t *testing.T) {
	r, _, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/campaigns", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCampaign(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/campaigns/c1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BLOCKED", decodeBody(t, rec)["status"])

	rec = do(t, r, http.MethodGet, "/api/v1/campaigns/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApproveCampaign(t *testing.T) {
	r, campaigns, _ := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/campaigns/c1/approve", map[string]string{"reason": "known sender"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "non-admin approve")

	rec = do(t, r, http.MethodPost, "/api/v1/campaigns/c1/approve", map[string]string{"reason": " known sender "}, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "QUEUED", decodeBody(t, rec)["status"])
	assert.Equal(t, "admin-1", campaigns.approver)
	assert.Equal(t, "known sender", campaigns.reason)
}

func TestTransitionConflictCarriesCurrentStatus(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/campaigns/c2/approve", nil, admin)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "invalid_transition", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "COMPLETED", details["current_status"])
	assert.Equal(t, "approve", details["operation"])
}

func TestCancelPauseResume(t *testing.T) {
	r, campaigns, _ := setupRouter(t)
	campaigns.campaigns["c3"] = &domain.Campaign{ID: "c3", Status: domain.CampaignQueued}

	rec := do(t, r, http.MethodPost, "/api/v1/campaigns/c3/pause", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CampaignPaused, campaigns.campaigns["c3"].Status)

	rec = do(t, r, http.MethodPost, "/api/v1/campaigns/c3/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CampaignQueued, campaigns.campaigns["c3"].Status)

	rec = do(t, r, http.MethodPost, "/api/v1/campaigns/c3/cancel", map[string]string{"reason": "typo"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CANCELLED", decodeBody(t, rec)["status"])
	assert.Equal(t, "typo", campaigns.reason)
}

func TestCancelCampaign_EmptyChunkedBody(t *testing.T) {
	r, campaigns, _ := setupRouter(t)
	campaigns.campaigns["c4"] = &domain.Campaign{ID: "c4", Status: domain.CampaignQueued}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/campaigns/c4/cancel", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.CampaignCancelled, campaigns.campaigns["c4"].Status)
	assert.Empty(t, campaigns.reason)
}

func TestCampaignStatsAndReadiness(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/campaigns/c1/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 90, decodeBody(t, rec)["delivery_rate"])

	rec = do(t, r, http.MethodGet, "/api/v1/projects/p1/readiness", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 72, body["score"])
	assert.Equal(t, "ALLOW", body["outcome"])
}

func TestListCampaigns_Paginates(t *testing.T) {
	r, campaigns, _ := setupRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/projects/p1/campaigns?status=blocked&page=2&limit=1000", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BLOCKED", campaigns.listed.Status)
	assert.Equal(t, maxPageSize, campaigns.listed.Limit)
	assert.Equal(t, maxPageSize, campaigns.listed.Offset)
	meta := decodeBody(t, rec)["pagination"].(map[string]any)
	assert.EqualValues(t, 2, meta["page"])
	assert.EqualValues(t, 2, meta["total"])
}

func TestInternalErrorsAreSanitized(t *testing.T) {
	r, campaigns, _ := setupRouter(t)
	campaigns.err = errors.New("pq: relation \"campaigns\" does not exist")

	rec := do(t, r, http.MethodGet, "/api/v1/campaigns/c1", nil, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pq:")
}

// ---------------------------------------------------------------------------
// Suppression endpoints
// ---------------------------------------------------------------------------

func TestSuppressionLifecycle(t *testing.T) {
	r, _, supp := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/projects/p1/suppressions",
		map[string]string{"email": "x@example.com", "reason": "MANUAL"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, supp.added)
	assert.Equal(t, domain.SourceAPI, supp.added.Source)
	assert.Equal(t, "p1", supp.added.ProjectID)

	rec = do(t, r, http.MethodGet, "/api/v1/projects/p1/suppressions?reason=manual&search=x@", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MANUAL", supp.filter.Reason)
	assert.Equal(t, "x@", supp.filter.Search)
	assert.Equal(t, defaultPageSize, supp.filter.Limit)
	assert.Len(t, decodeBody(t, rec)["data"], 1)

	rec = do(t, r, http.MethodDelete, "/api/v1/suppressions/s-new", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, r, http.MethodDelete, "/api/v1/suppressions/s-new", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddSuppression_MissingTargetIs400(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/api/v1/projects/p1/suppressions", map[string]string{"reason": "MANUAL"}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSuppressions_EmptyIsArray(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodGet, "/api/v1/projects/p1/suppressions", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

// ---------------------------------------------------------------------------
// Infrastructure routes
// ---------------------------------------------------------------------------

func TestWebhookToken(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodPost, "/webhooks/ses", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, r, http.MethodPost, "/webhooks/ses?token=s3cret", map[string]string{}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodPost, "/webhooks/ses", map[string]string{}, map[string]string{"X-Webhook-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _, _ := setupRouter(t)

	rec := do(t, r, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"], "unconfigured components do not degrade health")

	rec = do(t, r, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]ComponentCheck
		want   string
	}{
		{"all up", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}}, "healthy"},
		{"db down", map[string]ComponentCheck{"database": {Status: "down", Message: "ping failed"}}, "unhealthy"},
		{"redis down", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "down", Message: "ping failed"}}, "degraded"},
		{"slow", map[string]ComponentCheck{"database": {Status: "degraded"}}, "degraded"},
		{"redis off", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "off"}}, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overallStatus(tt.checks))
		})
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "5s", formatUptime(5*time.Second))
	assert.Equal(t, "2m 3s", formatUptime(2*time.Minute+3*time.Second))
	assert.Equal(t, "1d 1h 0m 0s", formatUptime(25*time.Hour))
}
