package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voicegrow/speaker-orchestrator/pkg/orchestrator"
)

// GroqLLM talks to Groq's OpenAI-compatible chat completions endpoint.
type GroqLLM struct {
	apiKey string
	url    string
	model  string
}

func NewGroqLLM(apiKey string, model string) *GroqLLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &GroqLLM{
		apiKey: apiKey,
		url:    "https://api.groq.com/openai/v1/chat/completions",
		model:  model,
	}
}

func (l *GroqLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	payload := map[string]interface{}{
		"model":    l.model,
		"messages": messages,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", l.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp interface{}
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: groq (status %d): %v", ErrCompletionRequest, resp.StatusCode, errResp)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%w: groq returned no choices", ErrEmptyCompletion)
	}

	return result.Choices[0].Message.Content, nil
}

func (l *GroqLLM) Name() string {
	return "groq-llm"
}
