package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/rpinsight/rpinsight/internal/log"
)

// errStreamStopped aborts a generation when the consumer stops
// ranging over the stream early.
var errStreamStopped = errors.New("stream consumer stopped")

// GenkitConfig tunes the Genkit provider.
type GenkitConfig struct {
	ModelName   string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Temperature float32
	MaxTokens   int
}

// GenkitProvider implements Provider on top of a configured Genkit
// instance. The concrete model plugin (googleai, ollama, openai) is
// registered during app setup.
type GenkitProvider struct {
	g      *genkit.Genkit
	cfg    GenkitConfig
	logger log.Logger
}

// NewGenkitProvider creates a provider bound to g.
func NewGenkitProvider(g *genkit.Genkit, cfg GenkitConfig, logger log.Logger) *GenkitProvider {
	return &GenkitProvider{g: g, cfg: cfg, logger: logger}
}

// Generate runs a buffered generation.
func (p *GenkitProvider) Generate(ctx context.Context, messages []Message) (*Response, error) {
	resp, err := genkit.Generate(ctx, p.g,
		ai.WithModelName(p.cfg.ModelName),
		ai.WithMessages(toGenkitMessages(messages)...),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     float64(p.cfg.Temperature),
			MaxOutputTokens: p.cfg.MaxTokens,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("generating response: %w", err)
	}

	out := &Response{
		Content: resp.Text(),
		Model:   p.cfg.ModelName,
	}
	if resp.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	p.logger.Debug("generation completed",
		"model", out.Model,
		"total_tokens", out.Usage.TotalTokens)
	return out, nil
}

// GenerateStream returns the token-fragment sequence. The generation
// runs while the caller ranges; breaking out cancels it.
func (p *GenkitProvider) GenerateStream(ctx context.Context, messages []Message) Stream {
	return func(yield func(string, error) bool) {
		_, err := genkit.Generate(ctx, p.g,
			ai.WithModelName(p.cfg.ModelName),
			ai.WithMessages(toGenkitMessages(messages)...),
			ai.WithConfig(&ai.GenerationCommonConfig{
				Temperature:     float64(p.cfg.Temperature),
				MaxOutputTokens: p.cfg.MaxTokens,
			}),
			ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
				if !yield(chunk.Text(), nil) {
					return errStreamStopped
				}
				return nil
			}),
		)
		if err != nil && !errors.Is(err, errStreamStopped) {
			yield("", fmt.Errorf("generating response: %w", err))
		}
	}
}

func toGenkitMessages(messages []Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, ai.NewSystemTextMessage(m.Content))
		case RoleAssistant:
			out = append(out, ai.NewModelTextMessage(m.Content))
		default:
			out = append(out, ai.NewUserTextMessage(m.Content))
		}
	}
	return out
}
