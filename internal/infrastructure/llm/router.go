package llm

import (
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

// Router determines the appropriate LLMClient based on the task.
type Router struct {
	localClient repository.LLMClient
	cloudClient repository.LLMClient
}

// NewRouter initializes the LLM router. A nil cloud client routes everything locally.
func NewRouter(local repository.LLMClient, cloud repository.LLMClient) *Router {
	return &Router{
		localClient: local,
		cloudClient: cloud,
	}
}

// RouteLLMTask sends curation and review judgement to the cloud model and
// everything else to the local one.
func (r *Router) RouteLLMTask(task repository.TaskType) repository.LLMClient {
	var selected repository.LLMClient
	var icon string

	switch task {
	case repository.TaskBookCuration, repository.TaskReviewTieBreak:
		selected = r.cloudClient
		icon = "☁️"
	default:
		selected = r.localClient
		icon = "🏠"
	}

	if selected == nil {
		selected = r.localClient
		icon = "🏠"
	}
	if selected == nil {
		logx.Warn().Str("task", string(task)).Msg("[Router] no LLM client configured")
		return nil
	}

	logx.Debug().Str("task", string(task)).Str("client", selected.Name()).Msgf("[Router] 🛤️ %s routed", icon)
	return selected
}
