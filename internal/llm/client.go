package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/adaptive-search/backend/internal/metrics"
	"github.com/adaptive-search/backend/internal/search"
	"github.com/adaptive-search/backend/pkg/circuitbreaker"
	"github.com/adaptive-search/backend/pkg/logger"
	"github.com/adaptive-search/backend/pkg/retry"
)

// Client serves embeddings, completions and zero-shot classification from an
// OpenAI-compatible endpoint.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

var (
	_ search.Embedder   = (*Client)(nil)
	_ search.Completion = (*Client)(nil)
	_ search.Classifier = (*Client)(nil)
)

type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		Cooldown:         30 * time.Second,
		Probes:           5,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OnStateChange:    metrics.ObserveCircuit,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Operation:    "llm",
		Retryable:    circuitbreaker.Retryable,
		OnRetry:      metrics.CountRetry("llm"),
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		Logger:       logger.GetLogger(),
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("LLM client initialized",
		zap.String("model", opts.Model),
		zap.String("embedding_model", opts.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(cfg),
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		maxTokens:      opts.MaxTokens,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserPrompt,
	})

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    messages,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(errors.New("completion returned no choices"))
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, search.Dependency("llm", "complete", err)
	}

	return result, nil
}

// Generate answers a single user prompt with the client defaults.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Complete(ctx, CompletionRequest{UserPrompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) Encode(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))

	const batchSize = 100
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return retry.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
				}

				for _, data := range resp.Data {
					embeddings = append(embeddings, data.Embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, search.Dependency("llm", "embed", err)
		}
	}

	logger.Debug("Embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

const zeroShotSystemPrompt = `You are a text classifier. Score how well the text belongs to each label.
Return ONLY a JSON object mapping every label to a score between 0 and 1.`

// ZeroShot asks the model for a label distribution and normalises it to sum to 1.
func (c *Client) ZeroShot(ctx context.Context, text string, labels []string) (map[string]float64, error) {
	userPrompt := fmt.Sprintf("Labels: %s\n\nText:\n%s\n\nReturn JSON only.", strings.Join(labels, ", "), text)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: zeroShotSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.01,
		MaxTokens:    200,
	})
	if err != nil {
		return nil, err
	}

	scores, err := parseLabelScores(resp.Content, labels)
	if err != nil {
		return nil, search.Dependency("llm", "classify", err)
	}
	return scores, nil
}

// parseLabelScores extracts the first JSON object in content and keeps only
// known labels.
func parseLabelScores(content string, labels []string) (map[string]float64, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in classifier output")
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}

	scores := make(map[string]float64, len(labels))
	total := 0.0
	for _, label := range labels {
		v := raw[label]
		if v < 0 {
			v = 0
		}
		scores[label] = v
		total += v
	}
	if total == 0 {
		return nil, fmt.Errorf("classifier returned no positive scores")
	}
	for label := range scores {
		scores[label] /= total
	}
	return scores, nil
}
