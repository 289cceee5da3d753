package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/booksage/bookbuy-agent/pkg/logx"
)

// LocalOllamaClient implements repository.LLMClient and repository.EmbeddingClient
// by calling a local Ollama server.
type LocalOllamaClient struct {
	host       string
	model      string
	httpClient *http.Client
}

// NewLocalOllamaClient initializes a new client for a local Ollama instance.
func NewLocalOllamaClient(host string, model string) *LocalOllamaClient {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &LocalOllamaClient{
		host:       host,
		model:      model,
		httpClient: http.DefaultClient,
	}
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbeddingResponse struct {
	Embedding  []float32   `json:"embedding,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Generate sends a prompt to the local Ollama instance and asks for a JSON answer.
func (c *LocalOllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	logx.Debug().Str("model", c.model).Msg("[Ollama] 🏠 Sending request")

	var out ollamaResponse
	err := c.postJSON(ctx, "/api/generate", ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Format: "json",
	}, &out)
	if err != nil {
		return "", err
	}

	logx.Debug().Str("model", c.model).Int("chars", len(out.Response)).Msg("[Ollama] 🏠 Response received")
	return out.Response, nil
}

// Name returns the descriptive name of the client.
func (c *LocalOllamaClient) Name() string {
	return fmt.Sprintf("Ollama (%s) [Local]", c.model)
}

// Embed generates embeddings for the given texts using Ollama's embedding API.
func (c *LocalOllamaClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	logx.Debug().Str("model", c.model).Int("texts", len(texts)).Msg("[Ollama] 🏠 Generating embeddings")

	var out ollamaEmbeddingResponse
	if err := c.postJSON(ctx, "/api/embed", ollamaEmbeddingRequest{Model: c.model, Input: texts}, &out); err != nil {
		return nil, err
	}

	if len(out.Embeddings) > 0 {
		if len(out.Embeddings) != len(texts) {
			return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
		}
		return out.Embeddings, nil
	}
	if len(out.Embedding) > 0 && len(texts) == 1 {
		return [][]float32{out.Embedding}, nil
	}

	return nil, fmt.Errorf("no embeddings returned from ollama")
}

// PullModel pulls the specified model from the Ollama library.
func (c *LocalOllamaClient) PullModel(ctx context.Context, model string) error {
	logx.Info().Str("model", model).Msg("[Ollama] 📥 Pulling model")

	if err := c.postJSON(ctx, "/api/pull", ollamaPullRequest{Model: model, Stream: false}, nil); err != nil {
		return fmt.Errorf("ollama pull failed: %w", err)
	}

	logx.Info().Str("model", model).Msg("[Ollama] 📥 Model pulled")
	return nil
}

func (c *LocalOllamaClient) postJSON(ctx context.Context, path string, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned error status %d: %s", resp.StatusCode, string(body))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return nil
}
