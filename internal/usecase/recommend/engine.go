package recommend

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const (
	minShortlist = 3
	maxShortlist = 4

	defaultTopK        = 7
	defaultTopKReviews = 5
)

var (
	errNoCandidates = errors.New("no candidates retrieved")
	errNoShortlist  = errors.New("curation selected no candidates")
	errNoChoice     = errors.New("review stage chose no candidate")
	errNoLLM        = errors.New("no LLM client configured")
)

// Options tunes retrieval depth and per-call LLM deadlines.
type Options struct {
	TopK        int
	TopKReviews int
	LLMTimeout  time.Duration
}

// Engine recommends one book in three stages: vector retrieval, constrained
// curation and a review-weighted final pick. Every failure resolves to no_match.
type Engine struct {
	embedder repository.EmbeddingClient
	books    repository.BookSearchRepository
	reviews  repository.ReviewRepository
	router   repository.LLMRouter
	metrics  *metrics.Metrics

	topK        int
	topKReviews int
	llmTimeout  time.Duration
}

// NewEngine wires the engine. reviews may be nil, in which case no reviews are attached.
func NewEngine(
	embedder repository.EmbeddingClient,
	books repository.BookSearchRepository,
	reviews repository.ReviewRepository,
	router repository.LLMRouter,
	opts Options,
	m *metrics.Metrics,
) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.TopKReviews <= 0 {
		opts.TopKReviews = defaultTopKReviews
	}
	return &Engine{
		embedder:    embedder,
		books:       books,
		reviews:     reviews,
		router:      router,
		metrics:     m,
		topK:        opts.TopK,
		topKReviews: opts.TopKReviews,
		llmTimeout:  opts.LLMTimeout,
	}
}

// Recommend returns the recommendationTool payload for req.
func (e *Engine) Recommend(ctx context.Context, req model.RecommendationRequest) model.RecommendationResponse {
	book, err := e.recommend(ctx, req)
	if err != nil {
		logx.Info().Err(err).Str("prompt", req.UserPrompt).Msg("[Recommend] No match")
		e.metrics.IncRecommendation(model.RecommendationNoMatch)
		return model.NoMatchResponse()
	}

	logx.Info().Str("title", book.Title).Msg("[Recommend] Found")
	e.metrics.IncRecommendation(model.RecommendationFound)
	return model.FoundResponse(*book)
}

func (e *Engine) recommend(ctx context.Context, req model.RecommendationRequest) (*model.CandidateBook, error) {
	excluded := model.NewExclusionSet(req.ExcludedTitles)

	candidates, err := e.retrieve(ctx, req.UserPrompt, excluded)
	if err != nil {
		return nil, err
	}

	shortlist, err := e.curate(ctx, req, candidates)
	if err != nil {
		return nil, err
	}

	return e.choose(ctx, req.UserPrompt, shortlist)
}

// retrieve is Stage A: nearest neighbours of the prompt that are not excluded.
func (e *Engine) retrieve(ctx context.Context, userPrompt string, excluded *model.ExclusionSet) ([]model.CandidateBook, error) {
	vectors, err := e.embedder.Embed(ctx, []string{userPrompt})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, errors.New("embedder returned no vector")
	}

	hits, err := e.books.SearchBooks(ctx, vectors[0], e.topK, excluded.Titles())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(hits))
	candidates := make([]model.CandidateBook, 0, len(hits))
	for _, b := range hits {
		if b.Title == "" || excluded.Contains(b.Title) {
			continue
		}
		if _, dup := seen[b.Title]; dup {
			continue
		}
		seen[b.Title] = struct{}{}
		candidates = append(candidates, b)
	}

	logx.Debug().Int("hits", len(hits)).Int("candidates", len(candidates)).Msg("[Recommend] Retrieval complete")
	if len(candidates) == 0 {
		return nil, errNoCandidates
	}
	return candidates, nil
}

// curate is Stage B: the model picks a shortlist, which is re-filtered against
// the candidates and kept in retrieval order.
func (e *Engine) curate(ctx context.Context, req model.RecommendationRequest, candidates []model.CandidateBook) ([]model.CandidateBook, error) {
	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, toView(c))
	}

	p, err := renderCuration(ctx, req.UserPrompt, req.UserPreferences, views)
	if err != nil {
		return nil, err
	}

	raw, err := e.generate(ctx, repository.TaskBookCuration, p)
	if err != nil {
		return nil, err
	}

	titles, ok := parseTitles(raw)
	if !ok {
		logx.Warn().Str("raw", raw).Msg("[Recommend] Unparseable curation answer")
		return nil, errNoShortlist
	}

	chosen := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		chosen[t] = struct{}{}
	}

	shortlist := make([]model.CandidateBook, 0, maxShortlist)
	for _, c := range candidates {
		if _, ok := chosen[c.Title]; !ok {
			continue
		}
		shortlist = append(shortlist, c)
		if len(shortlist) == maxShortlist {
			break
		}
	}

	if dropped := len(titles) - len(shortlist); dropped > 0 {
		logx.Debug().Int("dropped", dropped).Msg("[Recommend] Discarded titles outside the candidate set")
	}
	if len(shortlist) == 0 {
		return nil, errNoShortlist
	}
	return shortlist, nil
}

// choose is Stage C: attach reviews and let the model pick one shortlisted title.
func (e *Engine) choose(ctx context.Context, userPrompt string, shortlist []model.CandidateBook) (*model.CandidateBook, error) {
	views := make([]candidateView, 0, len(shortlist))
	for i := range shortlist {
		e.attachReviews(ctx, &shortlist[i])
		views = append(views, toView(shortlist[i]))
	}

	p, err := renderReview(ctx, userPrompt, views)
	if err != nil {
		return nil, err
	}

	raw, err := e.generate(ctx, repository.TaskReviewTieBreak, p)
	if err != nil {
		return nil, err
	}

	title, ok := parseChoice(raw)
	if !ok || title == "" {
		return nil, errNoChoice
	}

	for i := range shortlist {
		if shortlist[i].Title == title {
			return &shortlist[i], nil
		}
	}

	logx.Warn().Str("title", title).Msg("[Recommend] Review stage named a title outside the shortlist")
	return nil, errNoChoice
}

// attachReviews fills Reviews and AverageScore; a store failure leaves the book unrated.
func (e *Engine) attachReviews(ctx context.Context, book *model.CandidateBook) {
	book.Reviews = []string{}
	book.AverageScore = nil
	if e.reviews == nil {
		return
	}

	reviews, err := e.reviews.ReviewsForTitle(ctx, book.Title, e.topKReviews)
	if err != nil {
		logx.Warn().Err(err).Str("title", book.Title).Msg("[Recommend] Review lookup failed")
		return
	}
	if len(reviews) == 0 {
		return
	}

	var sum float64
	for _, r := range reviews {
		book.Reviews = append(book.Reviews, formatReview(r))
		sum += r.Score
	}
	avg := sum / float64(len(reviews))
	book.AverageScore = &avg
}

func (e *Engine) generate(ctx context.Context, task repository.TaskType, p string) (string, error) {
	if e.router == nil {
		return "", errNoLLM
	}
	client := e.router.RouteLLMTask(task)
	if client == nil {
		return "", errNoLLM
	}

	if e.llmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.llmTimeout)
		defer cancel()
	}
	return client.Generate(ctx, p)
}

func formatReview(r model.Review) string {
	return strings.TrimSpace(r.Summary) + ", " + strconv.FormatFloat(r.Score, 'f', -1, 64)
}

func toView(c model.CandidateBook) candidateView {
	return candidateView{
		Title:          c.Title,
		Authors:        c.Authors,
		PublishedDate:  c.PublishedDate,
		Categories:     c.Categories,
		BookLength:     c.PageLength,
		Description:    c.Description,
		SummaryReviews: c.Reviews,
		AvgScore:       c.AverageScore,
	}
}
