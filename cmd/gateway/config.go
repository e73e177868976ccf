package main

import (
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/env"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/prompts"
)

type config struct {
	port                  string
	tracesDir             string
	reportsDir            string
	indexDBURL            string
	responderEngine       string
	systemPrompt          string
	maxTokens             int
	generateTimeout       time.Duration
	maxConcurrentSessions int
	ollamaURL             string
	ollamaModel           string
	openaiModel           string
	llmPoolSize           int
}

func loadConfig() config {
	return config{
		port:                  env.Str("GATEWAY_PORT", "5001"),
		tracesDir:             env.Str("TRACES_DIR", "trace"),
		reportsDir:            env.Str("REPORTS_DIR", "rpt"),
		indexDBURL:            env.Str("SESSION_INDEX_DB_URL", ""),
		responderEngine:       env.Str("RESPONDER_ENGINE", "scripted"),
		systemPrompt:          env.Str("SYSTEM_PROMPT", prompts.DefaultSystem),
		maxTokens:             env.Int("LLM_MAX_TOKENS", 150),
		generateTimeout:       env.Duration("GENERATE_TIMEOUT", 10*time.Second),
		maxConcurrentSessions: env.Int("MAX_CONCURRENT_SESSIONS", 100),
		ollamaURL:             env.Str("OLLAMA_URL", ""),
		ollamaModel:           env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		openaiModel:           env.Str("OPENAI_MODEL", "gpt-4o-mini"),
		llmPoolSize:           env.Int("LLM_POOL_SIZE", 50),
	}
}
