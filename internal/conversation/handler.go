package conversation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

const maxChatBodyBytes = 64 << 10

// Handler wires HTTP requests to the conversation service.
type Handler struct {
	service  Service
	logger   *logging.Logger
	gatherer prometheus.Gatherer
}

// NewHandler creates a conversation handler.
func NewHandler(service Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:  service,
		logger:   logger,
		gatherer: prometheus.DefaultGatherer,
	}
}

// Chat handles POST /v1/chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode chat request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Chat(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, intake.ErrEmptyMessage):
		http.Error(w, "message is required", http.StatusBadRequest)
	case errors.Is(err, ErrUpstreamUnavailable):
		h.logger.Error("chat turn failed upstream", "error", err, "conversation_id", req.ConversationID)
		writeJSON(w, http.StatusOK, UpstreamFailureResponse(req))
	default:
		h.logger.Error("chat turn failed", "error", err, "conversation_id", req.ConversationID)
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
	}
}

// UpstreamFailureResponse is the apologetic reply sent when the model is down.
func UpstreamFailureResponse(req ChatRequest) *ChatResponse {
	lang := NormalizeLanguage(req.Language)
	return &ChatResponse{
		ConversationID: req.ConversationID,
		Response:       apologyFor(lang),
		Language:       lang,
		Error:          "upstream_unavailable",
	}
}

// GetConversation handles GET /v1/conversations/{conversationID}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		http.Error(w, "missing conversation id", http.StatusBadRequest)
		return
	}

	state, err := h.service.GetState(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load conversation", "error", err, "conversation_id", conversationID)
		http.Error(w, "Failed to load conversation", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// LLMLatency handles GET /admin/llm/latency.
func (h *Handler) LLMLatency(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SnapshotLLMLatency(h.gatherer))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
