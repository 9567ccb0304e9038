package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const extractionSystemPrompt = `You extract durable personal facts from a conversation transcript.
Return ONLY a JSON object with these optional keys: display_name (string),
entities, preferences, medical, relationships, milestones (arrays).
Every array item must carry source_type ("explicit" when the person stated
the fact directly, "inferred" otherwise), confidence (0..1), evidence (a
short quote from the transcript) and may carry sensitivity and attributes.
Entities need name and type; preferences need category, item and liked;
medical needs condition; relationships need name and relation; milestones
need title. Extract nothing speculative. Return {} if the transcript holds
no durable facts.`

const summarySystemPrompt = `You maintain a running summary of a long-term conversation.
Fold the new transcript into the previous summary. Keep durable context,
drop chit-chat, stay under 300 words. Return only the updated summary text.`

// Extractor produces structured knowledge from a transcript.
type Extractor interface {
	Extract(ctx context.Context, transcript string, snapshot *Base) (*Extraction, error)
}

// Summarizer folds a transcript into a running summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous, transcript string) (string, error)
}

// Client calls the Anthropic API for extraction and summarization.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// ClientConfig holds extraction client configuration.
type ClientConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Logger    zerolog.Logger
}

// NewClient creates an Anthropic-backed extraction client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

// Extract asks the model for structured facts and validates the reply.
// Transport failures surface as errors; a malformed reply degrades to an
// empty extraction so bad model output never corrupts the knowledge
// base.
func (c *Client) Extract(ctx context.Context, transcript string, snapshot *Base) (*Extraction, error) {
	var prompt strings.Builder
	if snapshot != nil && snapshot.Size() > 0 {
		known, err := json.Marshal(snapshot)
		if err == nil {
			prompt.WriteString("Already known (do not repeat unchanged facts):\n")
			prompt.Write(known)
			prompt.WriteString("\n\n")
		}
	}
	prompt.WriteString("Transcript:\n")
	prompt.WriteString(transcript)

	text, err := c.complete(ctx, extractionSystemPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("extraction call failed: %w", err)
	}

	ex, err := Decode(text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Extraction output rejected, treating as empty")
		return Empty(), nil
	}
	return ex, nil
}

// Summarize folds the transcript into the previous running summary.
func (c *Client) Summarize(ctx context.Context, previous, transcript string) (string, error) {
	var prompt strings.Builder
	if previous != "" {
		prompt.WriteString("Previous summary:\n")
		prompt.WriteString(previous)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("New transcript:\n")
	prompt.WriteString(transcript)

	text, err := c.complete(ctx, summarySystemPrompt, prompt.String())
	if err != nil {
		return "", fmt.Errorf("summary call failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	response, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}
