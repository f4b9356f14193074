package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseSize = 1 << 20

// OpenAIConfig configures the chat completions client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // defaults to https://api.openai.com/v1
	Timeout time.Duration
}

// OpenAI generates hashtags with the chat completions endpoint.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAI returns a hashtag generator. It fails without an API key.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("caption: openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// promptDescriptionLimit keeps the prompt short.
const promptDescriptionLimit = 500

func hashtagPrompt(title, description string) string {
	if r := []rune(description); len(r) > promptDescriptionLimit {
		description = string(r[:promptDescriptionLimit])
	}
	return fmt.Sprintf(`Generate 15 relevant, popular Arabic hashtags for a product in an online store.
Product name: "%s"
Product description: "%s"

Rules:
- Hashtags must be in Arabic.
- Return only the hashtags, each starting with #.
- Separate hashtags with a single space.`, title, description)
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, title, description string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       o.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: hashtagPrompt(title, description)}},
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil {
		return "", fmt.Errorf("caption: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("caption: failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption: openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("caption: read response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("caption: decode response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", fmt.Errorf("caption: openai HTTP %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("caption: openai returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
