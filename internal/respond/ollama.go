package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/metrics"
)

// Ollama generates replies through a local Ollama chat endpoint.
type Ollama struct {
	url          string
	model        string
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewOllama creates an Ollama HTTP responder.
func NewOllama(url, model, systemPrompt string, maxTokens, poolSize int) *Ollama {
	return &Ollama{
		url:          url,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

func (o *Ollama) Respond(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()

	body, err := json.Marshal(ollamaRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{Role: "system", Content: o.systemPrompt},
			{Role: "user", Content: req.Text},
		},
		Options: ollamaOptions{NumPredict: o.maxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		metrics.Errors.WithLabelValues("respond", "http").Inc()
		return nil, fmt.Errorf("%w: ollama request: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("respond", "status").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: ollama status %d: %s", ErrGenerationFailed, resp.StatusCode, errBody)
	}

	var chat ollamaResponse
	if err = json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		metrics.Errors.WithLabelValues("respond", "decode").Inc()
		return nil, fmt.Errorf("%w: decode ollama response: %v", ErrGenerationFailed, err)
	}

	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	return &Reply{Text: chat.Message.Content}, nil
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
