package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const (
	defaultGeminiModel      = "gemini-1.5-pro"
	defaultGeminiEmbedModel = "text-embedding-004"
)

// GeminiClient implements repository.LLMClient and repository.EmbeddingClient.
type GeminiClient struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	embedder   *genai.EmbeddingModel
	documents  *genai.EmbeddingModel
	modelName  string
	embedModel string
}

func NewGeminiClient(ctx context.Context, apiKey, modelName, embedModelName string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key must not be empty")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if embedModelName == "" {
		embedModelName = defaultGeminiEmbedModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	// Curation answers are parsed as JSON; keep them deterministic.
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	embedder := client.EmbeddingModel(embedModelName)
	embedder.TaskType = genai.TaskTypeRetrievalQuery
	documents := client.EmbeddingModel(embedModelName)
	documents.TaskType = genai.TaskTypeRetrievalDocument

	return &GeminiClient{
		client:     client,
		model:      model,
		embedder:   embedder,
		documents:  documents,
		modelName:  modelName,
		embedModel: embedModelName,
	}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	logx.Debug().Str("model", c.modelName).Msg("[Gemini] ☁️ Sending request")

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}

	logx.Debug().Str("model", c.modelName).Int("chars", len(text)).Msg("[Gemini] ☁️ Response received")
	return text, nil
}

// Embed generates one query embedding per text in a single batch call.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, c.embedder, texts)
}

// Documents returns an embedder for indexed content. It shares the client but
// embeds with the retrieval-document task type.
func (c *GeminiClient) Documents() *GeminiDocuments {
	return &GeminiDocuments{model: c.documents, embedModel: c.embedModel}
}

// GeminiDocuments implements repository.EmbeddingClient for catalog indexing.
type GeminiDocuments struct {
	model      *genai.EmbeddingModel
	embedModel string
}

func (d *GeminiDocuments) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return batchEmbed(ctx, d.model, texts)
}

func (d *GeminiDocuments) Name() string {
	return fmt.Sprintf("Gemini (%s) [Documents]", d.embedModel)
}

func batchEmbed(ctx context.Context, m *genai.EmbeddingModel, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := m.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := m.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", embeddingCount(res), len(texts))
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini returned an empty embedding at index %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func embeddingCount(res *genai.BatchEmbedContentsResponse) int {
	if res == nil {
		return 0
	}
	return len(res.Embeddings)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned from gemini")
	}

	content := resp.Candidates[0].Content
	if content == nil {
		return "", fmt.Errorf("empty candidate content from gemini")
	}

	for _, part := range content.Parts {
		if text, ok := part.(genai.Text); ok {
			return string(text), nil
		}
	}

	return "", fmt.Errorf("unexpected response format from gemini")
}

func (c *GeminiClient) Name() string {
	return fmt.Sprintf("Gemini (%s) [Cloud]", c.modelName)
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}
