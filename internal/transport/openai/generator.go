// Package openai implements answer generation over any OpenAI-compatible
// chat completion API.
package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docquery/internal/domain"
	"github.com/kailas-cloud/docquery/internal/usecase/generate"
)

const systemPrompt = "You are a documentation assistant. " +
	"Use only the provided sources to answer the user's question. " +
	"Summarize concisely, use bullet points when helpful, and cite sources as [Source N]. " +
	"If the answer is unclear from the sources, say so explicitly."

// Config holds the generation settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Generator produces answers through a chat completion endpoint.
type Generator struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGenerator creates an OpenAI-compatible answer generator.
func NewGenerator(cfg Config) *Generator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		logger:  logger,
	}
}

// Generate implements generate.Generator.
func (g *Generator) Generate(ctx context.Context, question string, hits []domain.Hit) (string, error) {
	if len(hits) == 0 {
		return generate.NoResultsMessage, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(question, hits)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w: %w", err, domain.ErrGenerationFailed)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("empty completion response: %w", domain.ErrGenerationFailed)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// buildPrompt renders the question plus numbered source blocks.
func buildPrompt(question string, hits []domain.Hit) string {
	var b strings.Builder
	b.WriteString("User question:\n")
	b.WriteString(question)
	b.WriteString("\n\nSources:\n")
	for i, hit := range hits {
		snippet := strings.TrimSpace(hit.Snippet)
		if snippet == "" {
			snippet = strings.TrimSpace(hit.Content)
		}
		if snippet == "" {
			continue
		}
		fmt.Fprintf(&b, "\n[Source %d | %s]\n%s\n", i+1, hit.ID, snippet)
	}
	return b.String()
}
