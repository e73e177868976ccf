package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/respond"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/session"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/trace"
	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	// Responder backends. The scripted responder is always available so the
	// gateway answers deterministically with no external services running.
	backends := map[string]respond.Responder{
		"scripted": respond.NewScripted(),
	}
	if cfg.ollamaURL != "" {
		backends["ollama"] = respond.NewOllama(cfg.ollamaURL, cfg.ollamaModel, cfg.systemPrompt, cfg.maxTokens, cfg.llmPoolSize)
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		backends["openai"] = respond.NewAgent(nil, cfg.openaiModel, cfg.systemPrompt, cfg.maxTokens)
	}
	responder := respond.NewRouter(backends, cfg.responderEngine)
	if !responder.Has(cfg.responderEngine) {
		slog.Warn("configured responder engine unavailable, using scripted", "engine", cfg.responderEngine)
		responder = respond.NewRouter(backends, "scripted")
	}

	// Session index is optional; the trace files on disk stay authoritative.
	var store *trace.Store
	var index *trace.Writer
	if cfg.indexDBURL != "" {
		var err error
		store, err = trace.Open(cfg.indexDBURL)
		if err != nil {
			slog.Warn("session index unavailable", "error", err)
		} else {
			index = trace.NewWriter(store)
			slog.Info("session index enabled")
		}
	}

	registry := session.NewRegistry(session.Config{
		Responder:       responder,
		GenerateTimeout: cfg.generateTimeout,
		TracesDir:       cfg.tracesDir,
		ReportsDir:      cfg.reportsDir,
		Index:           index,
	})

	handler := ws.NewHandler(ws.HandlerConfig{
		Registry:      registry,
		MaxConcurrent: cfg.maxConcurrentSessions,
	})

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		responder:  responder,
		engine:     cfg.responderEngine,
		wsHandler:  handler,
		traceStore: store,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting", "addr", addr, "engine", cfg.responderEngine, "max_concurrent", cfg.maxConcurrentSessions)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	// Every live session gets its trace finalized before the index flushes.
	registry.Shutdown()
	index.Close()
	if store != nil {
		store.Close()
	}

	slog.Info("gateway stopped")
}
