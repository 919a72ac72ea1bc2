package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"headless-sentinel/internal/parser"
	"headless-sentinel/internal/types"
)

// LLMExplainer asks a local Ollama instance for a one-sentence explanation
type LLMExplainer struct {
	url    string
	model  string
	client *http.Client
}

func NewLLMExplainer(url, model string, timeout time.Duration) *LLMExplainer {
	if url == "" {
		url = "http://localhost:11434/api/generate"
	}
	if model == "" {
		model = "tinyllama"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LLMExplainer{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// OllamaRequest is the /api/generate payload
type OllamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// OllamaResponse is the non-streaming /api/generate reply
type OllamaResponse struct {
	Response string `json:"response"`
}

func (e *LLMExplainer) Explain(ctx context.Context, f *types.Firing) error {
	body, err := json.Marshal(OllamaRequest{Model: e.model, Prompt: e.buildPrompt(f)})
	if err != nil {
		return fmt.Errorf("failed to marshal llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm returned status: %s", resp.Status)
	}

	var out OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode llm response: %w", err)
	}
	if text := strings.TrimSpace(out.Response); text != "" {
		f.Explanation = text
	}
	return nil
}

func (e *LLMExplainer) buildPrompt(f *types.Firing) string {
	return fmt.Sprintf(`You are a Windows security analyst. Explain the risk of this alert in 1 sentence.
Rule: %s
Host: %s
Event: %d (%s)
Occurrences: %d within %s
Sample message: %s
Explanation:`, f.Rule, f.Trigger.Host, f.Trigger.EventCode, parser.Describe(f.Trigger.EventCode),
		f.Count, f.Window, f.Trigger.Message)
}
