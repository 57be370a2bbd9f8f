package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lacolombe/portal-notify/internal/authz"
	"github.com/lacolombe/portal-notify/internal/models"
	"github.com/lacolombe/portal-notify/internal/notification"
	"github.com/lacolombe/portal-notify/internal/repository"
)

type NotificationHandler struct {
	service notification.Service
	parents repository.ParentRepository
	devices repository.DeviceRepository
	logger  zerolog.Logger
}

func NewNotificationHandler(
	service notification.Service,
	parents repository.ParentRepository,
	devices repository.DeviceRepository,
	logger zerolog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		parents: parents,
		devices: devices,
		logger:  logger.With().Str("handler", "notification").Logger(),
	}
}

// SendParentNotification dispatches one notification to a parent. A parent
// who disabled notifications yields 200 with success=false, not an error.
func (h *NotificationHandler) SendParentNotification(w http.ResponseWriter, r *http.Request) {
	var req models.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParentID == "" || req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "parentId, title and body are required")
		return
	}

	outcome, err := h.service.Dispatch(r.Context(), req)
	if err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			writeError(w, http.StatusNotFound, "parent or device token not found")
			return
		}
		h.logger.Error().Err(err).Str("parent_id", req.ParentID).Msg("dispatch failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type saveTokenRequest struct {
	Token     string `json:"token"`
	ParentID  string `json:"parentId"`
	Platform  string `json:"platform"`
	UserAgent string `json:"userAgent"`
}

// SaveFCMToken registers a device token for a parent and re-enables
// notifications for the account.
func (h *NotificationHandler) SaveFCMToken(w http.ResponseWriter, r *http.Request) {
	var req saveTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" || req.ParentID == "" {
		writeError(w, http.StatusBadRequest, "token and parentId are required")
		return
	}

	if err := h.parents.SetFCMToken(r.Context(), req.ParentID, req.Token); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "parent not found")
			return
		}
		h.logger.Error().Err(err).Msg("save token")
		writeError(w, http.StatusInternalServerError, "failed to save token")
		return
	}

	reg := models.DeviceRegistration{
		Token:     req.Token,
		ParentID:  req.ParentID,
		Platform:  req.Platform,
		UserAgent: req.UserAgent,
	}
	if reg.UserAgent == "" {
		reg.UserAgent = r.UserAgent()
	}
	if err := h.devices.Upsert(r.Context(), reg); err != nil {
		h.logger.Error().Err(err).Msg("register device")
		writeError(w, http.StatusInternalServerError, "failed to register device")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// NotificationStats aggregates the audit trail for a parent over a period
// (default 7 days).
func (h *NotificationHandler) NotificationStats(w http.ResponseWriter, r *http.Request) {
	parentID := r.URL.Query().Get("parentId")
	if parentID == "" {
		writeError(w, http.StatusBadRequest, "parentId is required")
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = parsed
	}

	stats, err := h.service.Stats(r.Context(), parentID, days)
	if err != nil {
		h.logger.Error().Err(err).Str("parent_id", parentID).Msg("load stats")
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"stats":    stats,
		"parentId": parentID,
		"period":   strconv.Itoa(days) + "d",
	})
}

type sendTestRequest struct {
	Token string `json:"token"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// SendTest fires a canned test notification straight at a device token,
// bypassing parent resolution.
func (h *NotificationHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req sendTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	outcome, err := h.service.SendTest(r.Context(), req.Token, req.Title, req.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// List returns the authenticated parent's recent notifications.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	parentID, ok := authz.ParentIDFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	records, err := h.service.ListRecent(r.Context(), parentID, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("parent_id", parentID).Msg("list notifications")
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if records == nil {
		records = []models.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "notifications": records})
}
