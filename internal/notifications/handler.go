package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Dharshni15/job/internal/domain"
	"github.com/Dharshni15/job/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrJobNotFound, Status: http.StatusNotFound, Message: "delivery job not found"},
	{Error: ErrJobTerminal, Status: http.StatusConflict, Message: "job already in a terminal state"},
	{Error: ErrNotRetryable, Status: http.StatusConflict, Message: "job is not in a retryable state"},
	{Error: ErrUnknownTemplate, Status: http.StatusBadRequest},
	{Error: ErrDuplicateDigest, Status: http.StatusConflict, Message: "digest already generated for this period"},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	processor *Processor
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service, processor *Processor) *Handler {
	return &Handler{
		service:   service,
		processor: processor,
		validator: validator.New(),
	}
}

// RegisterRoutes registers producer and recipient routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/notifications", h.Notify)
	r.Post("/notifications/{id}/read", h.MarkRead)
	r.Post("/notifications/{id}/archive", h.Archive)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/notifications", h.List)
		r.Get("/preferences", h.GetPreferences)
		r.Put("/preferences", h.UpdatePreferences)
	})
}

// RegisterAdminRoutes registers the operator queue surface.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", h.QueueStats)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/retry", h.RetryJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)
	})
}

// NotifyRequest represents request body for creating a notification.
type NotifyRequest struct {
	Type      string            `json:"type" validate:"required"`
	Recipient string            `json:"recipient" validate:"required,uuid"`
	Sender    string            `json:"sender" validate:"omitempty,uuid"`
	Data      map[string]string `json:"data"`
}

// Notify handles POST /notifications.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := NotifyInput{
		Type:      req.Type,
		Recipient: uuid.MustParse(req.Recipient),
		Data:      req.Data,
	}
	if req.Sender != "" {
		sender := uuid.MustParse(req.Sender)
		input.Sender = &sender
	}

	n, err := h.service.Notify(r.Context(), input)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, n)
}

// List handles GET /users/{userID}/notifications.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	opts := ListOptions{
		UnreadOnly:      r.URL.Query().Get("unread_only") == "true",
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	items, unread, err := h.service.List(r.Context(), userID, opts)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"unread_count":  unread,
	})
}

// MarkRead handles POST /notifications/{id}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.service.MarkRead(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /notifications/{id}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	if err := h.service.Archive(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences handles GET /users/{userID}/preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	profile, err := h.service.GetPreferences(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, profile)
}

// ChannelPreferenceRequest mirrors one channel block of the profile.
type ChannelPreferenceRequest struct {
	Enabled    bool            `json:"enabled"`
	Categories map[string]bool `json:"categories"`
}

// UpdatePreferencesRequest represents request body for updating preferences.
type UpdatePreferencesRequest struct {
	Email      ChannelPreferenceRequest `json:"email"`
	Push       ChannelPreferenceRequest `json:"push"`
	InApp      ChannelPreferenceRequest `json:"in_app"`
	Frequency  string                   `json:"frequency" validate:"required,oneof=immediate daily weekly"`
	QuietHours struct {
		Enabled   bool   `json:"enabled"`
		StartTime string `json:"start_time" validate:"omitempty,len=5"`
		EndTime   string `json:"end_time" validate:"omitempty,len=5"`
		Timezone  string `json:"timezone"`
	} `json:"quiet_hours"`
}

// UpdatePreferences handles PUT /users/{userID}/preferences.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req UpdatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	profile := &domain.PreferenceProfile{
		UserID:    userID,
		Email:     toChannelPreference(req.Email),
		Push:      toChannelPreference(req.Push),
		InApp:     toChannelPreference(req.InApp),
		Frequency: domain.Frequency(req.Frequency),
		QuietHours: domain.QuietHours{
			Enabled:   req.QuietHours.Enabled,
			StartTime: req.QuietHours.StartTime,
			EndTime:   req.QuietHours.EndTime,
			Timezone:  req.QuietHours.Timezone,
		},
	}
	if profile.QuietHours.Timezone == "" {
		profile.QuietHours.Timezone = "UTC"
	}

	if err := h.service.UpdatePreferences(r.Context(), profile); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.Success(w, http.StatusOK, profile)
}

// QueueStats handles GET /admin/queue/stats.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.processor.Stats(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, stats)
}

// GetJob handles GET /admin/queue/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.processor.Job(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, job)
}

// RetryJob handles POST /admin/queue/jobs/{id}/retry.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.processor.Retry(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"message": "job requeued"})
}

// CancelJob handles POST /admin/queue/jobs/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid job id")
		return
	}

	if err := h.processor.Cancel(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, map[string]string{"message": "job cancelled"})
}

func toChannelPreference(req ChannelPreferenceRequest) domain.ChannelPreference {
	pref := domain.ChannelPreference{Enabled: req.Enabled}
	if len(req.Categories) > 0 {
		pref.Categories = make(map[domain.Category]bool, len(req.Categories))
		for k, v := range req.Categories {
			pref.Categories[domain.Category(k)] = v
		}
	}
	return pref
}
