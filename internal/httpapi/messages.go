package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaywave/wa-core/internal/auth"
	"github.com/relaywave/wa-core/internal/domain"
	apperrors "github.com/relaywave/wa-core/internal/errors"
	"github.com/relaywave/wa-core/internal/queue"
	"github.com/relaywave/wa-core/internal/repository"
)

// sendMessageRequest is the POST /v1/messages body: a thin envelope over
// domain.OutboundCommand's per-kind union, scoped by phone_number_id
// instead of the queue-internal upstream_phone_id/access_token pair, which
// this handler resolves server-side from the PhoneNumber row.
type sendMessageRequest struct {
	PhoneNumberID string      `json:"phone_number_id"`
	To            string      `json:"to"`
	Kind          domain.Kind `json:"kind"`

	Text               string               `json:"text,omitempty"`
	PreviewURL         bool                 `json:"preview_url,omitempty"`
	ReplyToMessageID   string               `json:"reply_to_message_id,omitempty"`
	TemplateName       string               `json:"template_name,omitempty"`
	LanguageCode       string               `json:"language_code,omitempty"`
	TemplateComponents []map[string]any     `json:"template_components,omitempty"`
	MediaType          string               `json:"media_type,omitempty"`
	MediaID            string               `json:"media_id,omitempty"`
	MediaURL           string               `json:"media_url,omitempty"`
	Caption            string               `json:"caption,omitempty"`
	Filename           string               `json:"filename,omitempty"`
	HeaderText         string               `json:"header_text,omitempty"`
	FooterText         string               `json:"footer_text,omitempty"`
	BodyText           string               `json:"body_text,omitempty"`
	Buttons            []domain.Button      `json:"buttons,omitempty"`
	ListButtonText     string               `json:"list_button_text,omitempty"`
	Sections           []domain.ListSection `json:"sections,omitempty"`
	Latitude           float64              `json:"latitude,omitempty"`
	Longitude          float64              `json:"longitude,omitempty"`
	LocationName       string               `json:"location_name,omitempty"`
	LocationAddress    string               `json:"location_address,omitempty"`
	TargetMessageID    string               `json:"target_message_id,omitempty"`
	Emoji              string               `json:"emoji,omitempty"`
}

// MessagesHandler implements POST/GET /v1/messages{,/{id}}.
type MessagesHandler struct {
	Messages     repository.MessageRepository
	PhoneNumbers repository.PhoneNumberRepository
	Queue        queue.Queue
}

func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.KindBadPayload, "invalid request body"))
		return
	}
	if req.PhoneNumberID == "" || req.To == "" || req.Kind == "" {
		writeError(w, apperrors.New(apperrors.KindInvalidCommand, "phone_number_id, to and kind are required"))
		return
	}

	phone, err := h.PhoneNumbers.GetByID(r.Context(), req.PhoneNumberID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !auth.HasWorkspace(r.Context(), phone.WorkspaceID) {
		writeError(w, apperrors.New(apperrors.KindAuthExpired, "not authorized for this workspace"))
		return
	}

	cmd := domain.OutboundCommand{
		MessageID:          uuid.NewString(),
		WorkspaceID:        phone.WorkspaceID,
		PhoneNumberID:      phone.ID,
		UpstreamPhoneID:    phone.UpstreamPhoneID,
		AccessToken:        phone.EncryptedToken,
		Kind:               req.Kind,
		ToNumber:           req.To,
		Text:               req.Text,
		PreviewURL:         req.PreviewURL,
		ReplyToMessageID:   req.ReplyToMessageID,
		TemplateName:       req.TemplateName,
		LanguageCode:       req.LanguageCode,
		TemplateComponents: req.TemplateComponents,
		MediaType:          req.MediaType,
		MediaID:            req.MediaID,
		MediaURL:           req.MediaURL,
		Caption:            req.Caption,
		Filename:           req.Filename,
		HeaderText:         req.HeaderText,
		FooterText:         req.FooterText,
		BodyText:           req.BodyText,
		Buttons:            req.Buttons,
		ListButtonText:     req.ListButtonText,
		Sections:           req.Sections,
		Latitude:           req.Latitude,
		Longitude:          req.Longitude,
		LocationName:       req.LocationName,
		LocationAddress:    req.LocationAddress,
		TargetMessageID:    req.TargetMessageID,
		Emoji:              req.Emoji,
	}
	cmd.IdempotencyKey = cmd.MessageID

	payload, err := json.Marshal(cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	msg := &domain.Message{
		ID:            cmd.MessageID,
		WorkspaceID:   phone.WorkspaceID,
		PhoneNumberID: phone.ID,
		Direction:     domain.DirectionOutbound,
		Kind:          req.Kind,
		Recipient:     req.To,
		Payload:       payload,
		Status:        domain.StatusPending,
	}
	if err := h.Messages.Create(r.Context(), msg); err != nil {
		writeError(w, err)
		return
	}

	applied, err := h.Messages.CASStatus(r.Context(), msg.ID, domain.StatusPending, domain.StatusQueued, repository.CASOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	if applied {
		if err := h.Queue.Publish(r.Context(), queue.QueueOutbound, payload); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": msg.ID, "status": string(domain.StatusQueued)})
}

func (h *MessagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.Messages.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !auth.HasWorkspace(r.Context(), msg.WorkspaceID) {
		writeError(w, apperrors.NotFound("message", id))
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
