package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

type stubService struct {
	lastReq conversation.ChatRequest
	err     error
}

func (s *stubService) Chat(_ context.Context, req conversation.ChatRequest) (*conversation.ChatResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &conversation.ChatResponse{ConversationID: req.ConversationID, Response: "¿Cuál es su nombre?", Language: "es", Phase: "first_name"}, nil
}

func (s *stubService) GetState(context.Context, string) (*intake.State, error) {
	return nil, conversation.ErrSessionNotFound
}

func request(method, path, body string) events.APIGatewayV2HTTPRequest {
	return events.APIGatewayV2HTTPRequest{
		RawPath: path,
		Body:    body,
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method: method,
				Path:   path,
			},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	resp, err := handle(context.Background(), &stubService{}, logging.New("error"), request(http.MethodGet, "/health", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body != "ok" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, resp.Body)
	}
}

func TestHandleRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "unknown path", method: http.MethodPost, path: "/webhooks/unknown", want: http.StatusNotFound},
		{name: "get chat", method: http.MethodGet, path: "/v1/chat", want: http.StatusMethodNotAllowed},
		{name: "preflight", method: http.MethodOptions, path: "/v1/chat", want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := handle(context.Background(), &stubService{}, logging.New("error"), request(tt.method, tt.path, ""))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestHandleChat(t *testing.T) {
	svc := &stubService{}
	evt := request(http.MethodPost, "/v1/chat", "")
	evt.Body = base64.StdEncoding.EncodeToString([]byte(`{"conversationId":"conv-1","message":"sí","language":"es"}`))
	evt.IsBase64Encoded = true

	resp, err := handle(context.Background(), svc, logging.New("error"), evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if resp.Headers["content-type"] != "application/json" {
		t.Fatalf("expected json content type, got %q", resp.Headers["content-type"])
	}
	var got conversation.ChatResponse
	if err := json.Unmarshal([]byte(resp.Body), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Phase != "first_name" || svc.lastReq.Message != "sí" {
		t.Fatalf("unexpected round trip: %+v %+v", got, svc.lastReq)
	}
}

func TestHandleChatErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "malformed", body: "{", want: http.StatusBadRequest},
		{name: "empty message", body: `{"conversationId":"c"}`, err: intake.ErrEmptyMessage, want: http.StatusBadRequest},
		{name: "store failure", body: `{"message":"hi"}`, err: errors.New("dynamo down"), want: http.StatusInternalServerError},
		{name: "model down", body: `{"message":"hi","language":"es"}`, err: conversation.ErrUpstreamUnavailable, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := handle(context.Background(), &stubService{err: tt.err}, logging.New("error"), request(http.MethodPost, "/chat", tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestHandleBadBase64(t *testing.T) {
	evt := request(http.MethodPost, "/v1/chat", "%%%")
	evt.IsBase64Encoded = true
	resp, _ := handle(context.Background(), &stubService{}, logging.New("error"), evt)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
