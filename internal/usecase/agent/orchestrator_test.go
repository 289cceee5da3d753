package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/booksage/bookbuy-agent/internal/domain/model"
)

type fakeRecommender struct {
	mu       sync.Mutex
	titles   []string // "" yields no_match; exhausted script yields no_match
	requests []model.RecommendationRequest
	panicAt  int
}

func (f *fakeRecommender) Recommend(_ context.Context, req model.RecommendationRequest) model.RecommendationResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	if f.panicAt == n {
		panic("vector store exploded")
	}
	if n > len(f.titles) || f.titles[n-1] == "" {
		return model.NoMatchResponse()
	}
	return model.FoundResponse(model.CandidateBook{Title: f.titles[n-1], Authors: []string{"Someone"}})
}

type fakePrices struct {
	mu      sync.Mutex
	reports map[string]model.PriceReport
	calls   []string
}

func (f *fakePrices) FindPrices(_ context.Context, title string) model.PriceReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, title)
	if r, ok := f.reports[title]; ok {
		r.Title = title
		return r
	}
	return model.PriceReport{Status: model.PriceOutOfStock, Title: title, Offers: []model.Offer{}, Errors: []model.ShopError{}}
}

type fakePurchaser struct {
	mu       sync.Mutex
	failFor  map[string]string
	requests []model.BuyBookRequest
}

func (f *fakePurchaser) Buy(_ context.Context, req model.BuyBookRequest) model.PurchaseResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if msg, ok := f.failFor[req.BookTitle]; ok {
		return model.PurchaseResult{Status: model.PurchaseFailed, Shop: req.ShopID, Title: req.BookTitle, Error: msg}
	}
	return model.PurchaseResult{
		Status: model.PurchaseSuccess, Shop: req.ShopID, Title: req.BookTitle,
		TransactionID: "txn-" + req.BookTitle, ETA: "3 days",
	}
}

type memRuns struct {
	mu    sync.Mutex
	saved []*model.AgentResult
	err   error
}

func (m *memRuns) SaveRun(_ context.Context, run *model.AgentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, run)
	return m.err
}

func (m *memRuns) GetRun(context.Context, string) (*model.AgentResult, error) {
	return nil, errors.New("not used")
}

func price(v float64) *float64 { return &v }

func found(offers ...model.Offer) model.PriceReport {
	return model.PriceReport{Status: model.PriceFound, Offers: offers, Errors: []model.ShopError{}}
}

func inStock(shop string, p float64) model.Offer {
	return model.Offer{Shop: shop, Price: price(p), InStock: true, StoreTitle: "store copy"}
}

func profile() model.UserProfile {
	return model.UserProfile{
		Preferences:  []string{"book length: between 100 and 400"},
		Disliked:     []string{"Twilight"},
		AlreadyRead:  []string{"Dune", "Twilight"},
		Address:      "1 Main St",
		PaymentToken: "tok_visa",
	}
}

type harness struct {
	rec    *fakeRecommender
	prices *fakePrices
	buyer  *fakePurchaser
	runs   *memRuns
	orch   *Orchestrator
}

func newHarness(titles []string, reports map[string]model.PriceReport, opts Options) *harness {
	h := &harness{
		rec:    &fakeRecommender{titles: titles},
		prices: &fakePrices{reports: reports},
		buyer:  &fakePurchaser{failFor: map[string]string{}},
		runs:   &memRuns{},
	}
	if opts.Runs == nil {
		opts.Runs = h.runs
	}
	h.orch = NewOrchestrator(h.rec, h.prices, h.buyer, opts)
	h.orch.newID = func() string { return "run-test" }
	return h
}

func modules(steps []model.AttemptStep) []model.ToolName {
	out := make([]model.ToolName, len(steps))
	for i, s := range steps {
		out[i] = s.Module
	}
	return out
}

func attempts(steps []model.AttemptStep) []int {
	out := make([]int, len(steps))
	for i, s := range steps {
		out[i] = s.Attempt
	}
	return out
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	h := newHarness([]string{"Emma"}, map[string]model.PriceReport{
		"Emma": found(inStock("knowledge_store", 12), inStock("mega_market1", 9.5)),
	}, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "a witty romance", Profile: profile()})

	assert.Equal(t, model.RunSuccess, res.Status)
	assert.Equal(t, "run-test", res.RunID)
	assert.Nil(t, res.Error)
	require.NotNil(t, res.Response)
	assert.Equal(t, "Success! Bought 'Emma' from mega_market1 (Txn: txn-Emma). Estimated delivery: 3 days to 1 Main St.", *res.Response)
	assert.Equal(t, []model.ToolName{model.ToolRecommendation, model.ToolFindPrices, model.ToolBuyBook}, modules(res.Steps))
	assert.Equal(t, []int{1, 1, 1}, attempts(res.Steps))
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	assert.Equal(t, []string{"Twilight", "Dune"}, h.rec.requests[0].ExcludedTitles, "seeded from disliked then already read, without duplicates")
	assert.Equal(t, []string{"book length: between 100 and 400"}, h.rec.requests[0].UserPreferences)

	require.Len(t, h.buyer.requests, 1)
	assert.Equal(t, model.BuyBookRequest{ShopID: "mega_market1", BookTitle: "Emma", Address: "1 Main St", PaymentToken: "tok_visa"}, h.buyer.requests[0])

	require.Len(t, h.runs.saved, 1)
	assert.Same(t, res, h.runs.saved[0])
}

func TestExecute_StepPayloads(t *testing.T) {
	h := newHarness([]string{"Emma"}, map[string]model.PriceReport{"Emma": found(inStock("mega_market2", 5))}, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "a witty romance", Profile: profile()})
	require.Len(t, res.Steps, 3)

	assert.JSONEq(t, `{"user_prompt":"a witty romance","excluded_titles":["Twilight","Dune"],"user_preferences":["book length: between 100 and 400"]}`,
		string(res.Steps[0].Prompt))
	assert.JSONEq(t, `{"book_title":"Emma"}`, string(res.Steps[1].Prompt))
	assert.JSONEq(t, `{"shop_id":"mega_market2","book_title":"Emma","address":"1 Main St","payment_token":"tok_visa"}`,
		string(res.Steps[2].Prompt))
	assert.JSONEq(t, `{"status":"success","shop":"mega_market2","title":"Emma","transaction_id":"txn-Emma","eta":"3 days"}`,
		string(res.Steps[2].Response))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(res.Steps[0].Response, &rec))
	assert.Equal(t, "found", rec["status"])
	assert.Equal(t, "Emma", rec["title"])
}

func TestExecute_NoMatchFirstAttempt(t *testing.T) {
	h := newHarness([]string{""}, nil, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "something unheard of", Profile: profile()})

	assert.Equal(t, model.RunNoMatch, res.Status)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, model.ToolRecommendation, res.Steps[0].Module)
	assert.JSONEq(t, `{"status":"no_match"}`, string(res.Steps[0].Response))
	assert.Empty(t, h.prices.calls)
	require.NotNil(t, res.Response)
	assert.Contains(t, *res.Response, "couldn't find a book")
}

func TestExecute_OutOfStockThenSuccess(t *testing.T) {
	h := newHarness([]string{"Emma", "Persuasion"}, map[string]model.PriceReport{
		"Persuasion": found(inStock("fiction_boutique", 7)),
	}, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "austen", Profile: profile()})

	assert.Equal(t, model.RunSuccess, res.Status)
	assert.Equal(t, []model.ToolName{
		model.ToolRecommendation, model.ToolFindPrices,
		model.ToolRecommendation, model.ToolFindPrices, model.ToolBuyBook,
	}, modules(res.Steps))
	assert.Equal(t, []int{1, 1, 2, 2, 2}, attempts(res.Steps))
	assert.Equal(t, []string{"Twilight", "Dune", "Emma"}, h.rec.requests[1].ExcludedTitles)
}

func TestExecute_ExclusionSetOnlyGrows(t *testing.T) {
	h := newHarness([]string{"A", "B", "C", "D"}, map[string]model.PriceReport{
		"B": found(inStock("mega_market1", 10)),
		"C": found(inStock("mega_market1", 10)),
	}, Options{MaxAttempts: 4})
	h.buyer.failFor["B"] = "HTTP 409: sold out"
	h.buyer.failFor["C"] = "HTTP 402: card declined"

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})
	require.Equal(t, model.RunExhausted, res.Status)
	require.Len(t, h.rec.requests, 4)

	for i := 1; i < len(h.rec.requests); i++ {
		prev, cur := h.rec.requests[i-1].ExcludedTitles, h.rec.requests[i].ExcludedTitles
		assert.Subset(t, cur, prev, "iteration %d lost exclusions", i)
		assert.Equal(t, prev, cur[:len(prev)], "insertion order is preserved")
	}
	assert.Equal(t, []string{"Twilight", "Dune", "A", "B", "C"}, h.rec.requests[3].ExcludedTitles)
}

func TestExecute_ExhaustedAtLimit(t *testing.T) {
	h := newHarness([]string{"A", "B", "C", "D", "E"}, nil, Options{MaxAttempts: 3})

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunExhausted, res.Status)
	assert.Len(t, h.rec.requests, 3)
	assert.Len(t, res.Steps, 6)
	assert.Equal(t, []int{1, 1, 2, 2, 3, 3}, attempts(res.Steps))
	require.NotNil(t, res.Response)
	assert.Equal(t, "No purchase could be completed after 3 attempts. Books tried: 'A', 'B', 'C'.", *res.Response)
	assert.Nil(t, res.Error)
	assert.False(t, res.FinishedAt.IsZero())
	require.Len(t, h.runs.saved, 1)
	assert.Same(t, res, h.runs.saved[0])
	assert.Equal(t, model.RunExhausted, h.runs.saved[0].Status)
}

func TestExecute_DefaultAttemptLimit(t *testing.T) {
	h := newHarness([]string{"A", "B", "C", "D"}, nil, Options{})
	assert.Equal(t, 3, h.orch.MaxAttempts())

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})
	assert.Equal(t, model.RunExhausted, res.Status)
	assert.Len(t, h.rec.requests, 3)
}

func TestExecute_PurchaseFailureRetries(t *testing.T) {
	h := newHarness([]string{"A", "B"}, map[string]model.PriceReport{
		"A": found(inStock("mega_market1", 10)),
		"B": found(inStock("mega_market2", 11)),
	}, Options{})
	h.buyer.failFor["A"] = "HTTP 500: boom"

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunSuccess, res.Status)
	assert.Equal(t, []model.ToolName{
		model.ToolRecommendation, model.ToolFindPrices, model.ToolBuyBook,
		model.ToolRecommendation, model.ToolFindPrices, model.ToolBuyBook,
	}, modules(res.Steps))
	assert.Contains(t, h.rec.requests[1].ExcludedTitles, "A")
}

func TestExecute_NoMatchAfterRejection(t *testing.T) {
	h := newHarness([]string{"A", ""}, nil, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunNoMatch, res.Status)
	assert.Len(t, res.Steps, 3)
}

func TestExecute_SelectsOnlyPurchasableOffer(t *testing.T) {
	report := model.PriceReport{
		Status: model.PriceFound,
		Offers: []model.Offer{inStock("mega_market", 73.72)},
		Errors: []model.ShopError{
			{Shop: "fiction_boutique", Error: "HTTP 404: Book not found"},
			{Shop: "knowledge_store", Error: "timeout"},
		},
	}
	h := newHarness([]string{"A"}, map[string]model.PriceReport{"A": report}, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunSuccess, res.Status)
	require.Len(t, h.buyer.requests, 1)
	assert.Equal(t, "mega_market", h.buyer.requests[0].ShopID)
}

func TestExecute_SkipsOutOfStockOffer(t *testing.T) {
	report := found(
		model.Offer{Shop: "knowledge_store", Price: nil, InStock: false},
		inStock("mega_market", 44.5),
	)
	h := newHarness([]string{"A"}, map[string]model.PriceReport{"A": report}, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunSuccess, res.Status)
	assert.Equal(t, "mega_market", h.buyer.requests[0].ShopID)
}

func TestExecute_AffordabilityPolicy(t *testing.T) {
	reports := map[string]model.PriceReport{
		"Pricey": found(inStock("mega_market", 73.72)),
		"Cheap":  found(inStock("fiction_boutique", 20)),
	}

	t.Run("configured ceiling", func(t *testing.T) {
		h := newHarness([]string{"Pricey", "Cheap"}, reports, Options{Policy: PolicyFor(50)})
		res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

		assert.Equal(t, model.RunSuccess, res.Status)
		assert.Equal(t, []model.ToolName{
			model.ToolRecommendation, model.ToolFindPrices,
			model.ToolRecommendation, model.ToolFindPrices, model.ToolBuyBook,
		}, modules(res.Steps))
		assert.Contains(t, h.rec.requests[1].ExcludedTitles, "Pricey")
	})

	t.Run("request overrides configured ceiling", func(t *testing.T) {
		h := newHarness([]string{"Pricey"}, reports, Options{Policy: PolicyFor(50)})
		res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile(), MaxPrice: price(100)})

		assert.Equal(t, model.RunSuccess, res.Status)
		assert.Equal(t, "Pricey", h.buyer.requests[0].BookTitle)
	})
}

func TestExecute_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"empty prompt", Request{Prompt: "  ", Profile: profile()}},
		{"missing address", Request{Prompt: "x", Profile: model.UserProfile{PaymentToken: "tok"}}},
		{"missing token", Request{Prompt: "x", Profile: model.UserProfile{Address: "1 Main St"}}},
		{"negative price", Request{Prompt: "x", Profile: profile(), MaxPrice: price(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness([]string{"A"}, nil, Options{})
			res := h.orch.Execute(context.Background(), tt.req)

			assert.Equal(t, model.RunError, res.Status)
			require.NotNil(t, res.Error)
			assert.Nil(t, res.Response)
			assert.NotNil(t, res.Steps)
			assert.Empty(t, res.Steps)
			assert.Empty(t, h.rec.requests)
		})
	}
}

func TestExecute_PanicBecomesErrorWithTrace(t *testing.T) {
	h := newHarness([]string{"A", "B"}, nil, Options{})
	h.rec.panicAt = 2

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunError, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "vector store exploded")
	assert.Len(t, res.Steps, 2, "steps from the first attempt are kept")
	assert.Len(t, h.runs.saved, 1)
}

func TestExecute_ExcludedRecommendationIsAnError(t *testing.T) {
	h := newHarness([]string{"Dune"}, nil, Options{})

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunError, res.Status)
	assert.Len(t, res.Steps, 1)
	assert.Empty(t, h.prices.calls)
}

func TestExecute_Cancelled(t *testing.T) {
	h := newHarness([]string{"A"}, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.orch.Execute(ctx, Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunError, res.Status)
	assert.Contains(t, *res.Error, "cancel")
	assert.Len(t, h.runs.saved, 1, "cancelled runs are still persisted")
}

func TestExecute_PersistFailureIsNotFatal(t *testing.T) {
	h := newHarness([]string{"A"}, map[string]model.PriceReport{"A": found(inStock("mega_market1", 1))}, Options{})
	h.runs.err = errors.New("redis down")

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, model.RunSuccess, res.Status)
}

func TestExecute_ConcurrentRunsAreIndependent(t *testing.T) {
	reports := map[string]model.PriceReport{}
	titles := make([]string, 0, 16)
	for i := 0; i < 16; i++ {
		title := fmt.Sprintf("Book %d", i)
		titles = append(titles, title)
		reports[title] = found(inStock("mega_market1", float64(i+1)))
	}
	rec := &fakeRecommender{titles: titles}
	orch := NewOrchestrator(rec, &fakePrices{reports: reports}, &fakePurchaser{}, Options{})

	var wg sync.WaitGroup
	results := make([]*model.AgentResult, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})
		}()
	}
	wg.Wait()

	ids := map[string]struct{}{}
	for _, res := range results {
		require.Equal(t, model.RunSuccess, res.Status)
		assert.Len(t, res.Steps, 3)
		ids[res.RunID] = struct{}{}
	}
	assert.Len(t, ids, 16)
}

func TestExecute_Timestamps(t *testing.T) {
	h := newHarness([]string{""}, nil, Options{})
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	res := h.orch.Execute(context.Background(), Request{Prompt: "anything", Profile: profile()})

	assert.Equal(t, time.Second, res.FinishedAt.Sub(res.StartedAt))
}
