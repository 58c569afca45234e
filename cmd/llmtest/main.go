package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/emma-intake/cmd/mainconfig"
	"github.com/wolfman30/emma-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/emma-intake/internal/config"
	"github.com/wolfman30/emma-intake/internal/conversation"
	"github.com/wolfman30/emma-intake/pkg/logging"
)

// englishScript walks the happy path up to the first qualification question.
var englishScript = []string{
	"",
	"Hi, I have a retirement question",
	"Sure, go ahead",
	"Yes, I agree",
	"Ana",
	"Pérez",
	"+34 600 111 222",
	"ok",
	"What is an annuity?",
	"How are annuities taxed?",
	"Thanks, that helps",
	"That's all, thanks",
	"ok",
	"Yes, let's continue",
	"Yes",
}

var spanishScript = []string{
	"",
	"Hola, tengo una pregunta sobre mi jubilación",
	"Sí, claro",
	"Sí, acepto",
	"Ana",
	"Pérez",
	"+52 55 1234 5678",
	"vale",
	"¿Qué es una anualidad?",
	"¿Cómo tributan?",
	"Gracias",
	"Eso es todo",
	"vale",
	"Sí, continuemos",
	"Sí",
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	provider := flag.String("provider", "", "override LLM_PROVIDER")
	lang := flag.String("lang", "en", "conversation language (en or es)")
	flag.Parse()

	cfg := appconfig.Load()
	if *provider != "" {
		cfg.LLMProvider = strings.ToLower(*provider)
	}
	cfg.LLMFallbackProvider = ""
	logger := logging.New("warn")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	llm, model, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		log.Fatalf("build llm client: %v", err)
	}
	svc, err := bootstrap.BuildOrchestrator(cfg, llm, model, conversation.NewMemorySessionStore(), bootstrap.Deps{}, logger)
	if err != nil {
		log.Fatalf("build orchestrator: %v", err)
	}

	script := englishScript
	if conversation.NormalizeLanguage(*lang) == "es" {
		script = spanishScript
	}

	fmt.Printf("Intake walkthrough against %s (%s)\n", cfg.LLMProvider, model)
	fmt.Println(strings.Repeat("=", 60))

	convID := fmt.Sprintf("llmtest-%d", time.Now().Unix())
	for i, msg := range script {
		start := time.Now()
		resp, err := svc.Chat(ctx, conversation.ChatRequest{ConversationID: convID, Message: msg, Language: *lang})
		if err != nil {
			fmt.Printf("[%02d] ❌ %v\n", i, err)
			return
		}
		if msg != "" {
			fmt.Printf("[%02d] user: %s\n", i, msg)
		}
		fmt.Printf("[%02d] emma (%s, %v): %s\n", i, resp.Phase, time.Since(start).Round(time.Millisecond), resp.Response)
	}

	state, err := svc.GetState(ctx, convID)
	if err != nil {
		log.Fatalf("load final state: %v", err)
	}
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Final phase: %s\n", state.Label())
	fmt.Printf("Contact: %+v\n", state.Contact)
	fmt.Printf("Custom fields: %v\n", state.Custom)
}
