package respond

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/avatar-dialog-poc/gateway/internal/metrics"
)

// Agent generates replies through the openai-agents-go SDK. With no explicit
// provider the SDK resolves its default OpenAI provider from OPENAI_API_KEY.
type Agent struct {
	provider     agents.ModelProvider // nil means SDK default
	model        string
	systemPrompt string
	maxTokens    int
}

// NewAgent creates an agent-SDK responder for the given model.
func NewAgent(provider agents.ModelProvider, model, systemPrompt string, maxTokens int) *Agent {
	return &Agent{
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
	}
}

func (a *Agent) Respond(ctx context.Context, req Request) (*Reply, error) {
	agent := agents.New("avatar").
		WithInstructions(a.systemPrompt).
		WithModel(a.model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	start := time.Now()

	events, errCh, err := runner.RunStreamedChan(ctx, agent, req.Text)
	if err != nil {
		metrics.Errors.WithLabelValues("respond", "stream_start").Inc()
		return nil, fmt.Errorf("%w: agent stream start: %v", ErrGenerationFailed, err)
	}

	var text strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok {
			continue
		}
		if raw.Data.Type != "response.output_text.delta" {
			continue
		}
		text.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		metrics.Errors.WithLabelValues("respond", "stream").Inc()
		return nil, fmt.Errorf("%w: agent stream: %v", ErrGenerationFailed, streamErr)
	}

	metrics.GenerationDuration.Observe(time.Since(start).Seconds())

	return &Reply{Text: text.String()}, nil
}
