package analytics

import (
	"context"
	"fmt"
	"strings"

	domsvc "TradeLoop/internal/domain/service"
)

// ChatConfig selects the hosted chat model.
type ChatConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatReasoner talks to an OpenAI-compatible chat completions endpoint.
type ChatReasoner struct {
	base *HTTPServiceBase
	cfg  ChatConfig
}

func NewChatReasoner(base *HTTPServiceBase, cfg ChatConfig) *ChatReasoner {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.APIKey != "" {
		base.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &ChatReasoner{base: base, cfg: cfg}
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
}

func (r *ChatReasoner) Complete(ctx context.Context, p domsvc.Prompt) (string, error) {
	req := chatRequest{
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: p.User})

	var resp chatResponse
	if err := r.base.PostJSONWithRetry(ctx, "/chat/completions", req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("chat completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ domsvc.ReasoningService = (*ChatReasoner)(nil)
