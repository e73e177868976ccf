package respond

import (
	"context"
	"strings"
)

// Scripted is the deterministic built-in responder. It reproduces the demo
// conversation script: a greeting on init turns, a fallback for questions it
// cannot answer, a content-card example, and an echo for everything else.
type Scripted struct{}

// NewScripted creates the scripted responder.
func NewScripted() *Scripted {
	return &Scripted{}
}

func (s *Scripted) Respond(_ context.Context, req Request) (*Reply, error) {
	if req.Init {
		return &Reply{Text: "Hello there!"}, nil
	}

	lower := strings.ToLower(req.Text)

	if strings.HasPrefix(lower, "why") {
		return &Reply{
			Text:     "I do not know how to answer that",
			Fallback: true,
		}, nil
	}

	if lower == "cat" {
		return &Reply{
			Text: "Here is a cat @showcards(cat)",
			Variables: map[string]any{
				"public-cat": map[string]any{
					"component": "image",
					"data": map[string]any{
						"alt": "A cute kitten",
						"url": "https://i.imgur.com/s7Erio7.jpeg",
					},
				},
			},
		}, nil
	}

	return &Reply{Text: "Echo: " + req.Text}, nil
}
