package refine

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You revise software requirements. Apply the reviewer feedback to the requirement text.
Keep the meaning unless the feedback asks otherwise. Prefer measurable, unambiguous wording.
Reply with a JSON object only: {"refined_text": "<revised requirement>", "notes": "<one sentence on what changed>"}`

// OpenAI calls any OpenAI-compatible chat completion endpoint.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model, timeout: timeout}
}

func buildPrompt(req Request) string {
	var b strings.Builder
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", req.Title)
	}
	fmt.Fprintf(&b, "Requirement:\n%s\n\nFeedback:\n%s\n", req.Text, req.Feedback)
	return b.String()
}

func (o *OpenAI) Refine(ctx context.Context, req Request) (Result, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return Result{}, fmt.Errorf("call text-transform API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("text-transform API returned no choices")
	}
	r := parseReply(resp.Choices[0].Message.Content)
	if r.Text == "" {
		return Result{}, fmt.Errorf("text-transform API returned empty text")
	}
	return r, nil
}
