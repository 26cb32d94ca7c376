package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaywave/wa-core/internal/auth"
	"github.com/relaywave/wa-core/internal/campaign"
	"github.com/relaywave/wa-core/internal/domain"
	apperrors "github.com/relaywave/wa-core/internal/errors"
	"github.com/relaywave/wa-core/internal/repository"
)

// CampaignsHandler implements the /v1/campaigns family from §6, delegating
// the actual send/pause/resume/cancel state transitions to campaign.Registry
// so a single in-process executor goroutine ever owns a given campaign.
type CampaignsHandler struct {
	Campaigns repository.CampaignRepository
	Registry  *campaign.Registry
}

type createCampaignRequest struct {
	Name          string  `json:"name"`
	PhoneNumberID string  `json:"phone_number_id"`
	TemplateName  string  `json:"template_name"`
	LanguageCode  string  `json:"language_code"`
	ScheduledAt   *string `json:"scheduled_at,omitempty"`
}

func (h *CampaignsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.KindBadPayload, "invalid request body"))
		return
	}
	if req.Name == "" || req.PhoneNumberID == "" || req.TemplateName == "" {
		writeError(w, apperrors.New(apperrors.KindInvalidCommand, "name, phone_number_id and template_name are required"))
		return
	}

	workspaces := auth.WorkspaceIDs(r.Context())
	if len(workspaces) == 0 {
		writeError(w, apperrors.New(apperrors.KindAuthExpired, "no authorized workspace"))
		return
	}

	c := &domain.Campaign{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaces[0],
		Name:          req.Name,
		PhoneNumberID: req.PhoneNumberID,
		TemplateName:  req.TemplateName,
		LanguageCode:  req.LanguageCode,
		Status:        domain.CampaignDraft,
	}
	if err := h.Campaigns.Create(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CampaignsHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaces := auth.WorkspaceIDs(r.Context())
	if len(workspaces) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{}, "total": 0})
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	status := r.URL.Query().Get("status")

	campaigns, total, err := h.Campaigns.List(r.Context(), workspaces[0], offset, limit, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": campaigns, "total": total})
}

func (h *CampaignsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !auth.HasWorkspace(r.Context(), c.WorkspaceID) {
		writeError(w, apperrors.NotFound("campaign", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Send starts (or resumes into) the Campaign Executor for id, CAS'ing
// DRAFT/SCHEDULED/PAUSED -> SENDING.
func (h *CampaignsHandler) Send(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requireOwnedCampaign(r, id); err != nil {
		writeError(w, err)
		return
	}

	started, err := h.Registry.Start(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "started": started})
}

// Resume is an alias for Send: both CAS into SENDING and (re)launch the
// executor, the only difference being the expected prior state the client
// believes it's in.
func (h *CampaignsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.Send(w, r)
}

// Pause CASes SENDING -> PAUSED. The running executor observes this on its
// next poll and stops enqueuing; Registry.Stop short-circuits that wait.
func (h *CampaignsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requireOwnedCampaign(r, id); err != nil {
		writeError(w, err)
		return
	}

	applied, err := h.Campaigns.CASStatus(r.Context(), id, domain.CampaignSending, domain.CampaignPaused)
	if err != nil {
		writeError(w, err)
		return
	}
	if applied {
		h.Registry.Stop(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "paused": applied})
}

// Cancel sets the cancellation tombstone the Dispatcher checks in its own
// step 2, from any non-terminal status.
func (h *CampaignsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.requireOwnedCampaign(r, id); err != nil {
		writeError(w, err)
		return
	}

	applied := false
	for _, from := range []domain.CampaignStatus{domain.CampaignDraft, domain.CampaignScheduled, domain.CampaignSending, domain.CampaignPaused} {
		ok, err := h.Campaigns.CASStatus(r.Context(), id, from, domain.CampaignCancelled)
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			applied = true
			break
		}
	}
	if applied {
		h.Registry.Stop(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": applied})
}

func (h *CampaignsHandler) requireOwnedCampaign(r *http.Request, id string) error {
	c, err := h.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		return err
	}
	if !auth.HasWorkspace(r.Context(), c.WorkspaceID) {
		return apperrors.NotFound("campaign", id)
	}
	return nil
}
