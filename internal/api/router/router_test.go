package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/emma-intake/internal/compliance"
	"github.com/wolfman30/emma-intake/internal/conversation"
	httpmiddleware "github.com/wolfman30/emma-intake/internal/http/middleware"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/internal/leads"
	"github.com/wolfman30/emma-intake/internal/webchat"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

const testSecret = "router-secret"

type echoService struct{}

func (echoService) Chat(_ context.Context, req conversation.ChatRequest) (*conversation.ChatResponse, error) {
	return &conversation.ChatResponse{ConversationID: req.ConversationID, Response: "echo: " + req.Message, Phase: "framing"}, nil
}

func (echoService) GetState(_ context.Context, id string) (*intake.State, error) {
	if id != "conv-1" {
		return nil, conversation.ErrSessionNotFound
	}
	return &intake.State{ConversationID: id, Phase: intake.PhaseFraming, Language: "en"}, nil
}

type auditTrail struct{}

func (auditTrail) QueryEvents(_ context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error) {
	return []compliance.AuditEvent{{ID: "evt-1", EventType: compliance.EventOptInGranted, ConversationID: filter.ConversationID}}, nil
}

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()

	logger := logging.New("error")
	repo := leads.NewInMemoryRepository()
	if err := repo.Upsert(context.Background(), leads.Profile{ConversationID: "conv-1", Phase: "framing"}); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	cfg := &Config{
		Logger:              logger,
		ConversationHandler: conversation.NewHandler(echoService{}, logger),
		LeadsHandler:        leads.NewHandler(repo, logger),
		AuditHandler:        compliance.NewHandler(auditTrail{}, logger),
		WebChat:             webchat.NewHandler(echoService{}, logger),
		AdminAuthSecret:     testSecret,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func adminToken(t *testing.T) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		Scope: httpmiddleware.AdminScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "advisor-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterReadiness(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.Readiness = map[string]ReadinessCheck{
			"redis":    func(context.Context) error { return nil },
			"postgres": func(context.Context) error { return errors.New("connection refused") },
		}
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	var resp struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode readiness response: %v", err)
	}
	if resp.Ready || resp.Checks["redis"] != "ok" || resp.Checks["postgres"] != "connection refused" {
		t.Errorf("unexpected readiness body: %+v", resp)
	}
}

func TestRouterChatEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"conversationId":"conv-1","message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp conversation.ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Response != "echo: hi" {
		t.Errorf("expected echoed reply, got %q", resp.Response)
	}
}

func TestRouterChatRateLimited(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.ChatRateLimiter = httpmiddleware.NewRateLimiter(0.001, 1)
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi"}`))
		req.RemoteAddr = "203.0.113.7:4242"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
}

func TestRouterConversationState(t *testing.T) {
	router := newTestRouter(t, nil)

	for path, want := range map[string]int{
		"/v1/conversations/conv-1":  http.StatusOK,
		"/v1/conversations/missing": http.StatusNotFound,
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != want {
			t.Errorf("%s: expected %d, got %d", path, want, rr.Code)
		}
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/admin/leads", "/admin/leads/conv-1", "/admin/llm/latency", "/admin/audit?conversation_id=conv-1"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: expected 401, got %d", path, rr.Code)
		}

		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t))
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s with token: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestRouterAdminDisabledWithoutSecret(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) { cfg.AdminAuthSecret = "" })

	req := httptest.NewRequest(http.MethodGet, "/admin/leads", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when admin routes are disabled, got %d", rr.Code)
	}
}

func TestRouterWebChatRoutesOptional(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) { cfg.WebChat = nil })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/history?conversation=conv-1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a webchat handler, got %d", rr.Code)
	}

	router = newTestRouter(t, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/history?conversation=conv-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from webchat history, got %d", rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# HELP emma_turns_total\n"))
		})
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "emma_turns_total") {
		t.Fatalf("unexpected metrics response: %d %q", rr.Code, rr.Body.String())
	}
}

func TestNewPanicsWithoutConversationHandler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New(&Config{})
}
