package repository

import (
	"context"
)

// LLMClient generates a completion for a single prompt.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// TaskType names the kind of work an LLM call performs, used for routing.
type TaskType string

const (
	TaskEmbedding      TaskType = "embedding"
	TaskBookCuration   TaskType = "book_curation"
	TaskReviewTieBreak TaskType = "review_tie_break"
)

// LLMRouter picks the client that should serve a task.
type LLMRouter interface {
	RouteLLMTask(task TaskType) LLMClient
}
