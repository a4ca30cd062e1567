package api

import (
	"errors"
	"net/http"

	"github.com/ignite/campaign-delivery/internal/pkg/httputil"
	"github.com/ignite/campaign-delivery/internal/service/campaign"
	"github.com/ignite/campaign-delivery/internal/service/suppression"
)

// respondError maps service errors to HTTP responses. Anything unrecognised
// is logged and answered with a generic 500 so internal details never leak.
func respondError(w http.ResponseWriter, err error) {
	var (
		verr *campaign.ValidationError
		terr *campaign.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		httputil.ErrorWithCode(w, http.StatusBadRequest, "validation_failed", verr.Error(),
			map[string]string{"field": verr.Field})
	case errors.As(err, &terr):
		httputil.Conflict(w, terr.Error(), map[string]string{
			"campaign_id":    terr.CampaignID,
			"operation":      terr.Op,
			"current_status": string(terr.Current),
		})
	case errors.Is(err, suppression.ErrInvalidReason), errors.Is(err, suppression.ErrMissingTarget):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, suppression.ErrNotFound):
		httputil.NotFound(w, "suppression entry not found")
	default:
		httputil.InternalError(w, err)
	}
}
