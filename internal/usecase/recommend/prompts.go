package recommend

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

var (
	//go:embed template/curation_system.txt
	curationSystemPrompt string
	//go:embed template/curation_user.txt
	curationUserPrompt string
	//go:embed template/review_system.txt
	reviewSystemPrompt string
	//go:embed template/review_user.txt
	reviewUserPrompt string
)

// Templates returns the raw prompt templates keyed by stage, for introspection endpoints.
func Templates() map[string]string {
	return map[string]string{
		"curation_system": curationSystemPrompt,
		"curation_user":   curationUserPrompt,
		"review_system":   reviewSystemPrompt,
		"review_user":     reviewUserPrompt,
	}
}

// candidateView is the JSON shape of a book inside a prompt.
type candidateView struct {
	Title          string   `json:"title"`
	Authors        []string `json:"authors"`
	PublishedDate  string   `json:"published_date"`
	Categories     []string `json:"categories"`
	BookLength     *int     `json:"book_length"`
	Description    string   `json:"description"`
	SummaryReviews []string `json:"summary_reviews,omitempty"`
	AvgScore       *float64 `json:"avg_score,omitempty"`
}

func renderCuration(ctx context.Context, request string, preferences []string, candidates []candidateView) (string, error) {
	if preferences == nil {
		preferences = []string{}
	}
	prefs, err := json.Marshal(preferences)
	if err != nil {
		return "", err
	}
	books, err := json.Marshal(candidates)
	if err != nil {
		return "", err
	}

	return render(ctx, "curation", curationSystemPrompt, curationUserPrompt, map[string]any{
		"MinTitles":   minShortlist,
		"MaxTitles":   maxShortlist,
		"Request":     request,
		"Preferences": string(prefs),
		"Candidates":  string(books),
	})
}

func renderReview(ctx context.Context, request string, shortlist []candidateView) (string, error) {
	books, err := json.Marshal(reviewViews(shortlist))
	if err != nil {
		return "", err
	}

	return render(ctx, "review", reviewSystemPrompt, reviewUserPrompt, map[string]any{
		"Request":    request,
		"Candidates": string(books),
	})
}

// reviewViews keeps avg_score as an explicit null so the model can tell "unrated" apart.
func reviewViews(in []candidateView) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, c := range in {
		reviews := c.SummaryReviews
		if reviews == nil {
			reviews = []string{}
		}
		out = append(out, map[string]any{
			"title":           c.Title,
			"authors":         c.Authors,
			"published_date":  c.PublishedDate,
			"categories":      c.Categories,
			"book_length":     c.BookLength,
			"description":     c.Description,
			"summary_reviews": reviews,
			"avg_score":       c.AvgScore,
		})
	}
	return out
}

// render formats a system and user template through eino and flattens the messages into one prompt.
func render(ctx context.Context, name, system, user string, vars map[string]any) (string, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%s prompt render: %w", name, err)
	}

	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		parts = append(parts, strings.TrimSpace(m.Content))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%s prompt render: empty result", name)
	}
	return strings.Join(parts, "\n\n"), nil
}
