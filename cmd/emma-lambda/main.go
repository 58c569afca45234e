package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/emma-intake/cmd/mainconfig"
	"github.com/wolfman30/emma-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/internal/intake"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

const maxBodyBytes = 64 << 10

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		panic(err)
	}
	// Lambda instances are recycled, so state must live outside the process.
	if cfg.SessionStore == "" || cfg.SessionStore == bootstrap.SessionStoreMemory {
		cfg.SessionStore = bootstrap.SessionStoreDynamoDB
	}
	stack, err := bootstrap.BuildChatStack(ctx, cfg, awsCfg, nil, logger)
	if err != nil {
		panic(err)
	}

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, stack.Orchestrator, logger, evt)
	})
}

func handle(ctx context.Context, svc conversation.Service, logger *logging.Logger, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}

	switch path {
	case "/v1/chat", "/chat":
	default:
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}
	if method == http.MethodOptions {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNoContent}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := decodeBody(evt)
	if err != nil || len(body) > maxBodyBytes {
		return textResponse(http.StatusBadRequest, "invalid body"), nil
	}
	var req conversation.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return textResponse(http.StatusBadRequest, "invalid body"), nil
	}

	resp, err := svc.Chat(ctx, req)
	switch {
	case err == nil:
		return jsonResponse(http.StatusOK, resp), nil
	case errors.Is(err, intake.ErrEmptyMessage):
		return textResponse(http.StatusBadRequest, "message is required"), nil
	case errors.Is(err, conversation.ErrUpstreamUnavailable):
		logger.Error("chat turn failed upstream", "error", err, "conversation_id", req.ConversationID)
		return jsonResponse(http.StatusOK, conversation.UpstreamFailureResponse(req)), nil
	default:
		logger.Error("chat turn failed", "error", err, "conversation_id", req.ConversationID)
		return textResponse(http.StatusInternalServerError, "failed to process message"), nil
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(evt.Body)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

func jsonResponse(status int, v any) events.APIGatewayV2HTTPResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return textResponse(http.StatusInternalServerError, "failed to encode response")
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func textResponse(status int, body string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       body,
		Headers:    map[string]string{"content-type": "text/plain; charset=utf-8"},
	}
}
