package compliance

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	httpmiddleware "github.com/wolfman30/emma-intake/internal/http/middleware"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

type eventQuerier interface {
	QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// Handler exposes the consent and security audit trail to admins.
type Handler struct {
	audit  eventQuerier
	logger *logging.Logger
}

func NewHandler(audit eventQuerier, logger *logging.Logger) *Handler {
	if audit == nil {
		panic("compliance: audit service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{audit: audit, logger: logger}
}

// ListEvents handles GET /admin/audit. Supported query parameters are
// conversation_id, event_type, since and until (RFC 3339), limit and offset.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := AuditFilter{
		ConversationID: q.Get("conversation_id"),
		EventType:      AuditEventType(q.Get("event_type")),
		Limit:          100,
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 500 {
			filter.Limit = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}
	for key, dst := range map[string]*time.Time{"since": &filter.StartTime, "until": &filter.EndTime} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid "+key+" timestamp", http.StatusBadRequest)
			return
		}
		*dst = ts
	}

	events, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "error", err, "conversation_id", filter.ConversationID)
		http.Error(w, "failed to query audit events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []AuditEvent{}
	}

	// Reads of the consent trail are themselves worth a log line.
	if claims, ok := httpmiddleware.AdminClaimsFromContext(r.Context()); ok {
		h.logger.Info("audit trail read", "subject", claims.Subject, "conversation_id", filter.ConversationID, "count", len(events))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}
