package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/yui/internal/config"
)

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embedderClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewEmbedder builds an embeddings client against an OpenAI-compatible
// /embeddings endpoint. Falls back to the provider credentials when no
// dedicated embedding credentials are configured.
func NewEmbedder(cfg *config.Config) Embedder {
	embeddingCfg := cfg.Memory.Embedding

	apiKey := strings.TrimSpace(embeddingCfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(cfg.Provider.APIKey)
	}
	baseURL := strings.TrimSpace(embeddingCfg.BaseURL)
	if baseURL == "" {
		baseURL = strings.TrimSpace(cfg.Provider.BaseURL)
	}

	return &embedderClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   embeddingCfg.Model,
		httpClient: &http.Client{
			Timeout: time.Duration(embeddingCfg.TimeoutMs) * time.Millisecond,
		},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *embedderClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("embed: missing api key")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("embed: missing base url")
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embed: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed: http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding in response")
	}
	return decoded.Data[0].Embedding, nil
}
