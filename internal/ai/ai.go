// Package ai calls an OpenAI-compatible chat completion gateway.
package ai

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

	"zapcrm/internal/config"
)

var (
	ErrRateLimited     = errors.New("ai gateway rate limit exceeded")
	ErrPaymentRequired = errors.New("ai gateway credits exhausted")
)

// FallbackIntent is returned when the model's answer matches no label.
const FallbackIntent = "other"

type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	// Settings, when set, supplies the model chosen in the settings screen.
	Settings *config.Config
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(cfg.AIGatewayURL, "/"),
		APIKey:     cfg.AIAPIKey,
		Model:      cfg.Setting("AI_MODEL"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Settings:   cfg,
	}
}

func (c *Client) model() string {
	if c.Settings != nil {
		if m := c.Settings.Setting("AI_MODEL"); m != "" {
			return m
		}
	}
	return c.Model
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Completion is the assistant text and the tokens it cost.
type Completion struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Complete sends a system and a user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (Completion, error) {
	msgs := []Message{}
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	msgs = append(msgs, Message{Role: "user", Content: user})

	payload, err := json.Marshal(completionRequest{Model: c.model(), Messages: msgs, MaxTokens: maxTokens, Temperature: 0.3})
	if err != nil {
		return Completion{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Completion{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("ai request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Completion{}, ErrRateLimited
	case resp.StatusCode == http.StatusPaymentRequired:
		return Completion{}, ErrPaymentRequired
	case resp.StatusCode >= 300:
		return Completion{}, fmt.Errorf("ai gateway error: %d - %s", resp.StatusCode, string(body))
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Completion{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return Completion{}, errors.New("ai gateway returned no choices")
	}
	return Completion{Text: strings.TrimSpace(out.Choices[0].Message.Content), Tokens: out.Usage.TotalTokens}, nil
}

// ClassifyIntent asks the model to pick one of intents for text. Anything
// other than an exact label (case-insensitive) maps to FallbackIntent.
func (c *Client) ClassifyIntent(ctx context.Context, text string, intents []string) (string, error) {
	if len(intents) == 0 {
		return FallbackIntent, nil
	}
	system := "Classifique a intenção da mensagem do cliente. Responda apenas com um destes rótulos: " +
		strings.Join(intents, ", ") + ". Se nenhum se aplicar, responda " + FallbackIntent + "."
	res, err := c.Complete(ctx, system, text, 10)
	if err != nil {
		return "", err
	}
	return MatchIntent(res.Text, intents), nil
}

// MatchIntent normalizes a model answer to one of intents.
func MatchIntent(answer string, intents []string) string {
	a := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".\"'`"))
	for _, in := range intents {
		if strings.ToLower(in) == a {
			return in
		}
	}
	return FallbackIntent
}
