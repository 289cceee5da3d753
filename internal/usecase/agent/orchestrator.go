package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const (
	defaultMaxAttempts = 3
	saveTimeout        = 3 * time.Second
)

var errEmptyPrompt = fmt.Errorf("%w: prompt is required", model.ErrInvalidProfile)

// Recommender proposes one book that is not excluded.
type Recommender interface {
	Recommend(ctx context.Context, req model.RecommendationRequest) model.RecommendationResponse
}

// PriceFinder canvasses the canonical shops for a title.
type PriceFinder interface {
	FindPrices(ctx context.Context, title string) model.PriceReport
}

// Purchaser places one order.
type Purchaser interface {
	Buy(ctx context.Context, req model.BuyBookRequest) model.PurchaseResult
}

// Request is one run's input. MaxPrice overrides the configured policy when set.
type Request struct {
	Prompt   string
	Profile  model.UserProfile
	MaxPrice *float64
}

// Options configures the orchestrator.
type Options struct {
	MaxAttempts int
	Policy      AffordabilityPolicy
	Runs        repository.RunRepository
	Metrics     *metrics.Metrics
}

// Orchestrator drives the recommend, price, decide and buy loop for a run.
// It holds no per-run state; concurrent Execute calls are independent.
type Orchestrator struct {
	recommender Recommender
	prices      PriceFinder
	purchaser   Purchaser
	runs        repository.RunRepository
	metrics     *metrics.Metrics
	maxAttempts int
	policy      AffordabilityPolicy

	newID func() string
	now   func() time.Time
}

func NewOrchestrator(recommender Recommender, prices PriceFinder, purchaser Purchaser, opts Options) *Orchestrator {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Policy == nil {
		opts.Policy = AcceptAll{}
	}
	return &Orchestrator{
		recommender: recommender,
		prices:      prices,
		purchaser:   purchaser,
		runs:        opts.Runs,
		metrics:     opts.Metrics,
		maxAttempts: opts.MaxAttempts,
		policy:      opts.Policy,
		newID:       uuid.NewString,
		now:         time.Now,
	}
}

// MaxAttempts reports the configured attempt limit.
func (o *Orchestrator) MaxAttempts() int {
	return o.maxAttempts
}

// run is the state owned by a single Execute call.
type run struct {
	result   *model.AgentResult
	excluded *model.ExclusionSet
	attempt  int
	tried    []string
}

func (r *run) record(module model.ToolName, prompt, response any) error {
	step, err := model.NewAttemptStep(r.attempt, module, prompt, response)
	if err != nil {
		return fmt.Errorf("record %s step: %w", module, err)
	}
	r.result.Steps = append(r.result.Steps, step)
	return nil
}

// Execute runs the loop to a terminal status. It always returns a result and
// never panics; the steps recorded so far are kept on every path.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (result *model.AgentResult) {
	r := &run{
		result: &model.AgentResult{
			RunID:     o.newID(),
			Steps:     []model.AttemptStep{},
			StartedAt: o.now(),
		},
		excluded: model.NewExclusionSet(req.Profile.Disliked, req.Profile.AlreadyRead),
	}
	logx.Info().Str("run_id", r.result.RunID).Int("excluded", r.excluded.Len()).Msg("[Agent] Run started")

	defer func() {
		if p := recover(); p != nil {
			logx.Error().Str("run_id", r.result.RunID).Interface("panic", p).Msg("[Agent] Run panicked")
			o.fail(r, fmt.Errorf("internal error: %v", p))
		}
		o.finish(ctx, r)
		result = r.result
	}()

	if err := validate(req); err != nil {
		o.fail(r, err)
		return
	}

	policy := o.policy
	if req.MaxPrice != nil {
		policy = PolicyFor(*req.MaxPrice)
	}

	for r.attempt = 1; r.attempt <= o.maxAttempts; r.attempt++ {
		if err := ctx.Err(); err != nil {
			o.fail(r, fmt.Errorf("run cancelled: %w", err))
			return
		}

		done, err := o.iterate(ctx, r, req, policy)
		if err != nil {
			o.fail(r, err)
			return
		}
		if done {
			return
		}
	}

	r.attempt = o.maxAttempts
	r.result.Status = model.RunExhausted
	r.result.Response = ptr(exhaustedMessage(o.maxAttempts, r.tried))
	return
}

// iterate performs one attempt. done is true once the run reached a terminal status.
func (o *Orchestrator) iterate(ctx context.Context, r *run, req Request, policy AffordabilityPolicy) (done bool, err error) {
	// RECOMMEND
	recReq := model.RecommendationRequest{
		UserPrompt:      req.Prompt,
		ExcludedTitles:  r.excluded.Titles(),
		UserPreferences: nonNil(req.Profile.Preferences),
	}
	rec := o.recommender.Recommend(ctx, recReq)
	if err := r.record(model.ToolRecommendation, recReq, rec); err != nil {
		return true, err
	}

	if rec.Status != model.RecommendationFound || strings.TrimSpace(rec.Title) == "" {
		r.result.Status = model.RunNoMatch
		r.result.Response = ptr(noMatchMessage(len(r.tried)))
		return true, nil
	}
	title := rec.Title
	if r.excluded.Contains(title) {
		return true, fmt.Errorf("recommendation returned excluded title %q", title)
	}
	r.tried = append(r.tried, title)

	// PRICE
	priceReq := model.FindPricesRequest{BookTitle: title}
	report := o.prices.FindPrices(ctx, title)
	if err := r.record(model.ToolFindPrices, priceReq, report); err != nil {
		return true, err
	}

	// DECIDE
	offer, ok := report.Cheapest()
	if report.Status != model.PriceFound || !ok {
		logx.Info().Str("run_id", r.result.RunID).Str("title", title).Int("attempt", r.attempt).Msg("[Agent] Out of stock, excluding")
		r.excluded.Add(title)
		return false, nil
	}
	if !policy.Accept(offer) {
		logx.Info().Str("run_id", r.result.RunID).Str("title", title).Float64("price", *offer.Price).Msg("[Agent] Too expensive, excluding")
		r.excluded.Add(title)
		return false, nil
	}

	// BUY
	buyReq := model.BuyBookRequest{
		ShopID:       offer.Shop,
		BookTitle:    title,
		Address:      req.Profile.Address,
		PaymentToken: req.Profile.PaymentToken,
	}
	purchase := o.purchaser.Buy(ctx, buyReq)
	if err := r.record(model.ToolBuyBook, buyReq, purchase); err != nil {
		return true, err
	}

	if !purchase.Succeeded() {
		logx.Info().Str("run_id", r.result.RunID).Str("title", title).Str("shop", offer.Shop).Msg("[Agent] Purchase failed, excluding")
		r.excluded.Add(title)
		return false, nil
	}

	r.result.Status = model.RunSuccess
	r.result.Response = ptr(successMessage(purchase, req.Profile.Address))
	return true, nil
}

func (o *Orchestrator) fail(r *run, err error) {
	r.result.Status = model.RunError
	r.result.Error = ptr(err.Error())
	r.result.Response = nil
}

func (o *Orchestrator) finish(ctx context.Context, r *run) {
	r.result.FinishedAt = o.now()
	attempts := min(max(r.attempt, 1), o.maxAttempts)
	o.metrics.ObserveRun(string(r.result.Status), attempts)

	logx.Info().
		Str("run_id", r.result.RunID).
		Str("status", string(r.result.Status)).
		Int("steps", len(r.result.Steps)).
		Dur("elapsed", r.result.FinishedAt.Sub(r.result.StartedAt)).
		Msg("[Agent] Run finished")

	if o.runs == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := o.runs.SaveRun(saveCtx, r.result); err != nil {
		logx.Warn().Err(err).Str("run_id", r.result.RunID).Msg("[Agent] Failed to persist run")
	}
}

func validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return errEmptyPrompt
	}
	if err := req.Profile.Validate(); err != nil {
		return err
	}
	if req.MaxPrice != nil && *req.MaxPrice < 0 {
		return errors.New("max_price must not be negative")
	}
	return nil
}

func successMessage(p model.PurchaseResult, address string) string {
	return fmt.Sprintf("Success! Bought '%s' from %s (Txn: %s). Estimated delivery: %s to %s.",
		p.Title, p.Shop, p.TransactionID, p.ETA, address)
}

func noMatchMessage(tried int) string {
	if tried == 0 {
		return "Sorry, I couldn't find a book that matches your request. Try describing it differently or relaxing your preferences."
	}
	return fmt.Sprintf("Sorry, I couldn't find another matching book after %d title(s) could not be bought.", tried)
}

func exhaustedMessage(attempts int, tried []string) string {
	if len(tried) == 0 {
		return fmt.Sprintf("No purchase could be completed after %d attempts.", attempts)
	}
	quoted := make([]string, len(tried))
	for i, t := range tried {
		quoted[i] = "'" + t + "'"
	}
	return fmt.Sprintf("No purchase could be completed after %d attempts. Books tried: %s.", attempts, strings.Join(quoted, ", "))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func ptr(s string) *string { return &s }
