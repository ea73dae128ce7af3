package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// systemInstruction fixes the generator's persona and its response-shape
// contract. The generator replies with {"text"} for conversation or
// {"text", "fileTree", "buildCommand", "startCommand"} for code, where
// fileTree entries are {"file":{"contents"}} or {"children":{...}} nodes.
const systemInstruction = `You are an expert full-stack developer with 10 years of experience. You write modular, scalable and maintainable code, break solutions into files as needed, handle errors and edge cases, and preserve the working of existing code.

Always respond with JSON in one of two shapes.

For conversation:
{"text": "<your reply>"}

For code generation:
{
  "text": "<short description>",
  "fileTree": {
    "app.js": {"file": {"contents": "<file contents>"}},
    "routes": {"children": {"index.js": {"file": {"contents": "<file contents>"}}}}
  },
  "buildCommand": {"mainItem": "npm", "commands": ["install"]},
  "startCommand": {"mainItem": "node", "commands": ["app.js"]}
}

IMPORTANT: don't use file names like routes/index.js or routes/api.js as top-level keys; nest directories instead.`

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	endpoint string
	model    string
	key      string
	client   *http.Client
}

// NewGeminiClient creates a client for the given endpoint, model and API
// key. The HTTP client carries no timeout of its own; cancellation is the
// caller's context.
func NewGeminiClient(endpoint, model, key string) *GeminiClient {
	return &GeminiClient{
		endpoint: endpoint,
		model:    model,
		key:      key,
		client:   &http.Client{},
	}
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt and returns the raw model text.
func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemInstruction}},
		},
		GenerationConfig: geminiGenConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.4,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, c.model, c.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("generator error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from generator")
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
