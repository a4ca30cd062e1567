package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-delivery/internal/domain"
	"github.com/ignite/campaign-delivery/internal/pkg/httputil"
	"github.com/ignite/campaign-delivery/internal/service/campaign"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
)

// CampaignService is the campaign lifecycle as seen by the HTTP layer.
type CampaignService interface {
	Create(ctx context.Context, in campaign.CreateInput) (*campaign.CreateResult, error)
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	List(ctx context.Context, projectID string, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Readiness(ctx context.Context, projectID string) (*domain.Readiness, error)
	Approve(ctx context.Context, id, adminID, reason string) (*domain.Campaign, error)
	Cancel(ctx context.Context, id, cancelledBy, reason string) (*domain.Campaign, error)
	Pause(ctx context.Context, id, actorID string) (*domain.Campaign, error)
	Resume(ctx context.Context, id, actorID string) (*domain.Campaign, error)
	Stats(ctx context.Context, id string) (*domain.CampaignStats, error)
}

// SuppressionService manages a project's suppression list.
type SuppressionService interface {
	Add(ctx context.Context, in suppression.AddInput) (*domain.SuppressionEntry, error)
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, projectID string, f suppression.ListFilter) ([]domain.SuppressionEntry, int, error)
	GetStats(ctx context.Context, projectID string) (*suppression.Stats, error)
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	campaigns    CampaignService
	suppressions SuppressionService
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(campaigns CampaignService, suppressions SuppressionService) *Handlers {
	return &Handlers{campaigns: campaigns, suppressions: suppressions}
}

// ---------------------------------------------------------------------------
// Campaigns
// ---------------------------------------------------------------------------

// CreateCampaign handles POST /api/v1/projects/{projectID}/campaigns.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	actor := ActorFrom(r.Context())
	in.ProjectID = chi.URLParam(r, "projectID")
	in.CreatedBy = actor.ID
	if in.OrganizationID == "" {
		in.OrganizationID = actor.OrganizationID
	}
	// Only admins may bypass the readiness gate.
	if !actor.Admin {
		in.SkipReadiness = false
	}

	res, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, res)
}

// ListCampaigns handles GET /api/v1/projects/{projectID}/campaigns.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := pageFromQuery(r.URL.Query())
	items, total, err := h.campaigns.List(r.Context(), chi.URLParam(r, "projectID"), campaign.ListFilter{
		Status: strings.ToUpper(r.URL.Query().Get("status")),
		Limit:  p.Size,
		Offset: p.Offset(),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []domain.Campaign{}
	}
	httputil.OK(w, pageOf(items, p, total))
}

// GetReadiness handles GET /api/v1/projects/{projectID}/readiness.
func (h *Handlers) GetReadiness(w http.ResponseWriter, r *http.Request) {
	res, err := h.campaigns.Readiness(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, res)
}

// GetCampaign handles GET /api/v1/campaigns/{id}.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// GetCampaignStats handles GET /api/v1/campaigns/{id}/stats.
func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.campaigns.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// decodeReason reads an optional {"reason": "..."} body. An empty body is allowed.
func decodeReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req reasonRequest
	if !httputil.DecodeOptional(w, r, &req) {
		return "", false
	}
	return strings.TrimSpace(req.Reason), true
}

// ApproveCampaign handles POST /api/v1/campaigns/{id}/approve. Admin only.
func (h *Handlers) ApproveCampaign(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	if !actor.Admin {
		httputil.Error(w, http.StatusForbidden, "admin role required")
		return
	}
	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}
	c, err := h.campaigns.Approve(r.Context(), chi.URLParam(r, "id"), actor.ID, reason)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// CancelCampaign handles POST /api/v1/campaigns/{id}/cancel.
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	reason, ok := decodeReason(w, r)
	if !ok {
		return
	}
	c, err := h.campaigns.Cancel(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()).ID, reason)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// PauseCampaign handles POST /api/v1/campaigns/{id}/pause.
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Pause(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ResumeCampaign handles POST /api/v1/campaigns/{id}/resume.
func (h *Handlers) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.Resume(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()).ID)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

// ---------------------------------------------------------------------------
// Suppressions
// ---------------------------------------------------------------------------

type addSuppressionRequest struct {
	Email  string `json:"email"`
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

// AddSuppression handles POST /api/v1/projects/{projectID}/suppressions.
func (h *Handlers) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var req addSuppressionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	entry, err := h.suppressions.Add(r.Context(), suppression.AddInput{
		ProjectID: chi.URLParam(r, "projectID"),
		Email:     req.Email,
		Phone:     req.Phone,
		Reason:    req.Reason,
		Source:    domain.SourceAPI,
		Note:      req.Note,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, entry)
}

// ListSuppressions handles GET /api/v1/projects/{projectID}/suppressions.
// Supports reason, source and search filters.
func (h *Handlers) ListSuppressions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := pageFromQuery(q)
	items, total, err := h.suppressions.List(r.Context(), chi.URLParam(r, "projectID"), suppression.ListFilter{
		Reason: strings.ToUpper(q.Get("reason")),
		Source: q.Get("source"),
		Search: q.Get("search"),
		Limit:  p.Size,
		Offset: p.Offset(),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if items == nil {
		items = []domain.SuppressionEntry{}
	}
	httputil.OK(w, pageOf(items, p, total))
}

// GetSuppressionStats handles GET /api/v1/projects/{projectID}/suppressions/stats.
func (h *Handlers) GetSuppressionStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.suppressions.GetStats(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}

// DeleteSuppression handles DELETE /api/v1/suppressions/{id}.
func (h *Handlers) DeleteSuppression(w http.ResponseWriter, r *http.Request) {
	if err := h.suppressions.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}
