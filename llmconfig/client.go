package llmconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the engine's sole view of the LLM collaborator: a single
// call that returns text, or a streaming call that yields tokens.
// This interface is the contract the "call-llm" route step calls
// through; the underlying provider is an implementation detail.
type Client interface {
	Chat(ctx context.Context, prompt string) (string, error)
	StreamChat(ctx context.Context, prompt string, onToken func(string)) error
}

// geminiClient is a thin net/http client over the Gemini generateContent
// REST endpoint, shaped to the single-collaborator Client contract.
type geminiClient struct {
	cfg        Config
	httpClient *http.Client
	baseURL    string
}

// NewClient constructs a Client from cfg. baseURL defaults to the
// public Gemini API host if empty (tests override it with an httptest
// server URL).
func NewClient(cfg Config, baseURL string) Client {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	return &geminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *geminiClient) Chat(ctx context.Context, prompt string) (string, error) {
	reqBody := generateContentRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: c.cfg.Temperature},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.cfg.ModelName, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm request failed: %s: %s", resp.Status, string(body))
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse llm response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("llm response contained no candidates")
	}
	return parsed.Candidates[0].Content.Parts[0].Text, nil
}

// StreamChat is not exercised by the canonical chat-durable route,
// which invokes a single blocking call; it delegates to Chat and
// delivers the full text as one token, keeping the interface complete
// for callers that do want incremental delivery.
func (c *geminiClient) StreamChat(ctx context.Context, prompt string, onToken func(string)) error {
	text, err := c.Chat(ctx, prompt)
	if err != nil {
		return err
	}
	onToken(text)
	return nil
}
