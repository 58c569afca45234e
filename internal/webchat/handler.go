package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

const maxMessageBytes = 16 << 10

// Handler serves the chat widget over WebSocket with an HTTP fallback.
type Handler struct {
	service conversation.Service
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*wsConn // conversationID -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, msg)
}

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type     string `json:"type"` // "message", "ping"
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// OutboundMessage is what we send to the widget.
type OutboundMessage struct {
	Type           string              `json:"type"` // "session", "history", "typing", "message", "pong", "error"
	ConversationID string              `json:"conversationId,omitempty"`
	Text           string              `json:"text,omitempty"`
	Role           string              `json:"role,omitempty"`
	Phase          string              `json:"phase,omitempty"`
	Complete       bool                `json:"complete,omitempty"`
	CollectedInfo  *intake.ContactInfo `json:"collectedInfo,omitempty"`
	CustomFields   intake.CustomFields `json:"customFields,omitempty"`
	Timestamp      string              `json:"timestamp,omitempty"`
	Messages       []HistoryMessage    `json:"messages,omitempty"`
}

// HistoryMessage is one transcript entry as the widget renders it.
type HistoryMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// NewHandler creates a web chat handler.
func NewHandler(service conversation.Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("webchat: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service:  service,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*wsConn),
	}
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		conn.MaxPayloadBytes = maxMessageBytes
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	convID := strings.TrimSpace(r.URL.Query().Get("conversation"))
	if convID == "" {
		convID = uuid.NewString()
	}
	lang := conversation.NormalizeLanguage(r.URL.Query().Get("lang"))

	wsc := &wsConn{conn: conn}
	_ = wsc.send(OutboundMessage{Type: "session", ConversationID: convID})

	h.register(convID, wsc)
	defer h.unregister(convID, wsc)

	log := h.logger.ForConversation(convID)
	log.Info("webchat: connection opened", "language", lang)

	state, err := h.service.GetState(ctx, convID)
	switch {
	case err == nil:
		if history := historyFrom(state.Transcript); len(history) > 0 {
			_ = wsc.send(OutboundMessage{Type: "history", ConversationID: convID, Messages: history})
		}
		if state.Language != "" {
			lang = state.Language
		}
	case errors.Is(err, conversation.ErrSessionNotFound):
		// A fresh widget gets the greeting without waiting for the user.
		h.processMessage(ctx, wsc, conversation.ChatRequest{ConversationID: convID, Language: lang})
	default:
		log.Error("webchat: failed to load session", "error", err)
		_ = wsc.send(OutboundMessage{Type: "error", Text: apology(lang)})
		return
	}

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			log.Debug("webchat: connection closed", "error", err)
			return
		}

		if msg.Type == "ping" {
			_ = wsc.send(OutboundMessage{Type: "pong"})
			continue
		}

		if msg.Type != "message" || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if msg.Language != "" {
			lang = conversation.NormalizeLanguage(msg.Language)
		}

		h.processMessage(ctx, wsc, conversation.ChatRequest{
			ConversationID: convID,
			Message:        msg.Text,
			Language:       lang,
		})
	}
}

func (h *Handler) register(convID string, wsc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[convID] = wsc
}

func (h *Handler) unregister(convID string, wsc *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[convID] == wsc {
		delete(h.sessions, convID)
	}
}

// ActiveSessions reports how many widgets are connected.
func (h *Handler) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Handler) processMessage(ctx context.Context, wsc *wsConn, req conversation.ChatRequest) {
	_ = wsc.send(OutboundMessage{Type: "typing"})

	resp, err := h.service.Chat(ctx, req)
	if err != nil {
		if !errors.Is(err, conversation.ErrUpstreamUnavailable) {
			h.logger.Error("webchat: chat turn failed", "error", err, "conversation_id", req.ConversationID)
			_ = wsc.send(OutboundMessage{Type: "error", Text: apology(req.Language)})
			return
		}
		h.logger.Warn("webchat: model unavailable", "error", err, "conversation_id", req.ConversationID)
		resp = conversation.UpstreamFailureResponse(req)
	}
	_ = wsc.send(h.replyMessage(resp))
}

func (h *Handler) replyMessage(resp *conversation.ChatResponse) OutboundMessage {
	return OutboundMessage{
		Type:           "message",
		ConversationID: resp.ConversationID,
		Role:           intake.RoleAssistant,
		Text:           resp.Response,
		Phase:          resp.Phase,
		Complete:       resp.Complete,
		CollectedInfo:  resp.CollectedInfo,
		CustomFields:   resp.CustomFields,
		Timestamp:      h.now().UTC().Format(time.RFC3339),
	}
}

// SendToSession pushes a message to a connected widget. It reports false when
// no widget holds the conversation open.
func (h *Handler) SendToSession(convID string, msg OutboundMessage) bool {
	h.mu.RLock()
	wsc, ok := h.sessions[convID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return wsc.send(msg) == nil
}

// HandleMessage is the HTTP fallback for sending messages.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
		Language       string `json:"language"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	chatReq := conversation.ChatRequest{
		ConversationID: req.ConversationID,
		Message:        req.Text,
		Language:       req.Language,
	}

	resp, err := h.service.Chat(r.Context(), chatReq)
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrUpstreamUnavailable):
		resp = conversation.UpstreamFailureResponse(chatReq)
	default:
		h.logger.Error("webchat: chat turn failed", "error", err, "conversation_id", req.ConversationID)
		http.Error(w, "failed to process message", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.replyMessage(resp))
}

// HandleHistory returns the transcript for a conversation.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conversation")
	if convID == "" {
		http.Error(w, "conversation parameter required", http.StatusBadRequest)
		return
	}

	state, err := h.service.GetState(r.Context(), convID)
	if errors.Is(err, conversation.ErrSessionNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []HistoryMessage{}})
		return
	}
	if err != nil {
		h.logger.Error("webchat: failed to load history", "error", err, "conversation_id", convID)
		http.Error(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": historyFrom(state.Transcript),
		"phase":    state.Label(),
	})
}

func historyFrom(turns []intake.Turn) []HistoryMessage {
	history := make([]HistoryMessage, 0, len(turns))
	for _, t := range turns {
		history = append(history, HistoryMessage{Role: t.Role, Text: t.Content})
	}
	return history
}

func apology(lang string) string {
	return conversation.UpstreamFailureResponse(conversation.ChatRequest{Language: lang}).Response
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
