package leads

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/emma-intake/pkg/logging"
)

// Handler serves the admin lead endpoints.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a new leads handler.
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if repo == nil {
		panic("leads: repository cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// ListProfilesResponse is the response for listing profiles.
type ListProfilesResponse struct {
	Profiles []*Profile `json:"profiles"`
	Count    int        `json:"count"`
	Offset   int        `json:"offset"`
	Limit    int        `json:"limit"`
}

// ListProfiles handles GET /admin/leads.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Limit: 50}

	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	if complete := q.Get("complete"); complete != "" {
		filter.CompleteOnly, _ = strconv.ParseBool(complete)
	}
	filter.CountryCode = q.Get("country")

	profiles, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list lead profiles", "error", err)
		http.Error(w, "failed to list leads", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ListProfilesResponse{
		Profiles: profiles,
		Count:    len(profiles),
		Offset:   filter.Offset,
		Limit:    filter.Limit,
	})
}

// GetProfile handles GET /admin/leads/{conversationID}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	profile, err := h.repo.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			http.Error(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get lead profile", "error", err, "conversation_id", conversationID)
		http.Error(w, "failed to get lead", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
