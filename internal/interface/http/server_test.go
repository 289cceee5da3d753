package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/booksage/bookbuy-agent/internal/core/errx"
	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/resilience"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/internal/usecase/agent"
)

type mockAgent struct {
	got agent.Request
}

func (m *mockAgent) Execute(_ context.Context, req agent.Request) *model.AgentResult {
	m.got = req
	msg := "invalid user profile: address is required"
	if req.Profile.Address == "" {
		return &model.AgentResult{RunID: "r1", Status: model.RunError, Error: &msg, Steps: []model.AttemptStep{}}
	}
	resp := "Success!"
	return &model.AgentResult{RunID: "r1", Status: model.RunSuccess, Response: &resp, Steps: []model.AttemptStep{}}
}

func (m *mockAgent) MaxAttempts() int { return 3 }

type mockRuns struct{}

func (mockRuns) SaveRun(context.Context, *model.AgentResult) error { return nil }

func (mockRuns) GetRun(_ context.Context, id string) (*model.AgentResult, error) {
	if id != "known" {
		return nil, errx.New(errors.New("redis: nil"), http.StatusNotFound, errx.RedisNotFoundMessage)
	}
	return &model.AgentResult{RunID: id, Status: model.RunNoMatch, Steps: []model.AttemptStep{}}, nil
}

type mockTools struct{}

func (mockTools) Names() []string { return []string{"recommendationTool", "findPricesTool", "buyBookTool"} }

func (mockTools) Infos(context.Context) ([]*schema.ToolInfo, error) {
	return []*schema.ToolInfo{
		{
			Name: "findPricesTool",
			Desc: "Finds the lowest in-stock price across shops.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"book_title": {Type: schema.String, Desc: "exact title", Required: true},
			}),
		},
		{Name: "noArgsTool", Desc: "Takes nothing."},
	}, nil
}

type failingTools struct{ mockTools }

func (failingTools) Infos(context.Context) ([]*schema.ToolInfo, error) {
	return nil, errors.New("schema unavailable")
}

type mockBreakers map[string]resilience.State

func (m mockBreakers) States() map[string]resilience.State { return m }

func (mockTools) Invoke(_ context.Context, name, args string) (string, error) {
	if name != "findPricesTool" {
		return "", errx.New(errors.New("unknown tool"), http.StatusNotFound, "tool not found")
	}
	if !strings.Contains(args, "book_title") {
		return "", errx.BadRequest(errors.New("empty"), "book_title is required")
	}
	return `{"status":"out_of_stock","title":"Emma","offers":[],"errors":[]}`, nil
}

func createTestServer(a *mockAgent) *Server {
	return NewServer(Deps{
		Agent:     a,
		Runs:      mockRuns{},
		Tools:     mockTools{},
		Metrics:   metrics.New(),
		Team:      TeamInfo{TeamName: "BookBuy AI", Batch: "1_3", Members: []string{"Ada Lovelace <ada@example.com>", "Grace"}},
		Templates: map[string]string{"curation_system": "pick books"},
	})
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHandleExecute_InvalidPayload(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/execute", "application/json", strings.NewReader("{invalid"))
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid payload, got %d", resp.StatusCode)
	}
}

func TestHandleExecute_MapsRequest(t *testing.T) {
	a := &mockAgent{}
	ts := httptest.NewServer(createTestServer(a).RegisterRoutes())
	defer ts.Close()

	body := `{"prompt":"astrology","address":"Haifa","payment_token":"123",
		"book_preferences":["astrology"],"disliked_titles":["X"],"already_read_titles":["Y"],"max_price":40}`
	for _, path := range []string{"/api/execute", "/api/v1/execute"} {
		resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("Failed to send request: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		var out map[string]any
		decode(t, resp, &out)
		if out["status"] != "success" || out["response"] != "Success!" || out["error"] != nil {
			t.Errorf("%s: unexpected body %v", path, out)
		}
		if steps, ok := out["steps"].([]any); !ok || len(steps) != 0 {
			t.Errorf("%s: steps must be an empty array, got %v", path, out["steps"])
		}
	}

	if a.got.Prompt != "astrology" || a.got.Profile.PaymentToken != "123" || a.got.Profile.Address != "Haifa" {
		t.Errorf("request not mapped: %+v", a.got)
	}
	if len(a.got.Profile.Disliked) != 1 || a.got.Profile.AlreadyRead[0] != "Y" || a.got.Profile.Preferences[0] != "astrology" {
		t.Errorf("profile lists not mapped: %+v", a.got.Profile)
	}
	if a.got.MaxPrice == nil || *a.got.MaxPrice != 40 {
		t.Errorf("max_price not mapped: %v", a.got.MaxPrice)
	}
}

func TestHandleExecute_RunErrorIsStill200(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/execute", "application/json", strings.NewReader(`{"prompt":"x"}`))
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	decode(t, resp, &out)
	if out["status"] != "error" || out["response"] != nil {
		t.Errorf("unexpected body %v", out)
	}
}

func TestHandleGetRun(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/runs/known")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var run model.AgentResult
	decode(t, resp, &run)
	if run.RunID != "known" || run.Status != model.RunNoMatch {
		t.Errorf("unexpected run %+v", run)
	}

	resp, err = http.Get(ts.URL + "/api/v1/runs/missing")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] != errx.RedisNotFoundMessage {
		t.Errorf("unexpected error body %v", body)
	}
}

func TestHandleGetRun_NoStore(t *testing.T) {
	s := NewServer(Deps{Agent: &mockAgent{}, Tools: mockTools{}})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil)
	w := httptest.NewRecorder()

	s.RegisterRoutes().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a run store, got %d", w.Code)
	}
}

func TestHandleTool(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	tests := []struct {
		name   string
		tool   string
		body   string
		status int
	}{
		{"ok", "findPricesTool", `{"book_title":"Emma"}`, http.StatusOK},
		{"bad arguments", "findPricesTool", `{}`, http.StatusBadRequest},
		{"unknown tool", "sellBookTool", `{}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/tools/"+tt.tool, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("req failed: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestHandleAgentInfo(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/agent_info")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	var info agentInfoResponse
	decode(t, resp, &info)

	if info.Description == "" || info.Purpose == "" {
		t.Error("description and purpose must be set")
	}
	if len(info.PromptTemplate) != 2 || info.PromptTemplate[0].Address == "" {
		t.Errorf("unexpected prompt_template %+v", info.PromptTemplate)
	}
	if len(info.Tools) != 3 || info.PromptTemplates["curation_system"] != "pick books" {
		t.Errorf("unexpected tools or templates: %v %v", info.Tools, info.PromptTemplates)
	}
	if info.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", info.MaxAttempts)
	}
	if len(info.ToolSchemas) != 2 {
		t.Fatalf("expected 2 tool schemas, got %+v", info.ToolSchemas)
	}
	if info.ToolSchemas[0].Name != "findPricesTool" || info.ToolSchemas[0].Parameters == nil {
		t.Errorf("unexpected schema %+v", info.ToolSchemas[0])
	}
	params, _ := json.Marshal(info.ToolSchemas[0].Parameters)
	if !strings.Contains(string(params), "book_title") {
		t.Errorf("expected book_title in parameters, got %s", params)
	}
	if info.ToolSchemas[1].Parameters != nil {
		t.Errorf("expected no parameters for noArgsTool, got %v", info.ToolSchemas[1].Parameters)
	}
}

func TestHandleAgentInfo_SchemaFailure(t *testing.T) {
	s := NewServer(Deps{Agent: &mockAgent{}, Tools: failingTools{}})
	ts := httptest.NewServer(s.RegisterRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/agent_info")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}
}

func TestHandleTeamInfo(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/team_info")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	var info teamInfoResponse
	decode(t, resp, &info)

	if info.TeamName != "BookBuy AI" || info.Batch != "1_3" {
		t.Errorf("unexpected team %+v", info)
	}
	want := []student{{Name: "Ada Lovelace", Email: "ada@example.com"}, {Name: "Grace"}}
	if len(info.Students) != len(want) || info.Students[0] != want[0] || info.Students[1] != want[1] {
		t.Errorf("expected %v, got %v", want, info.Students)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := httptest.NewServer(createTestServer(&mockAgent{}).RegisterRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from metrics, got %d", resp.StatusCode)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Errorf("failed to read metrics: %v", err)
	}
}

func TestHealth_ReportsBreakers(t *testing.T) {
	s := NewServer(Deps{
		Agent: &mockAgent{},
		Health: HealthInfo{
			Shops:    []string{"mega_market1", "mega_market2", "fiction_boutique"},
			Breakers: mockBreakers{"mega_market1": resilience.StateOpen, "mega_market2": resilience.StateHalfOpen},
		},
	})
	ts := httptest.NewServer(s.RegisterRoutes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("req failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 from healthz, got %d", resp.StatusCode)
	}
	var health healthResponse
	decode(t, resp, &health)

	if health.Status != "degraded" {
		t.Errorf("expected degraded status, got %q", health.Status)
	}
	want := map[string]string{"mega_market1": "open", "mega_market2": "half_open", "fiction_boutique": "closed"}
	for shop, state := range want {
		if health.Shops[shop] != state {
			t.Errorf("shop %s: expected %s, got %q", shop, state, health.Shops[shop])
		}
	}
}

func TestHealth_AllClosedIsOK(t *testing.T) {
	s := NewServer(Deps{Health: HealthInfo{Shops: []string{"mega_market1"}, Breakers: mockBreakers{}}})
	rec := httptest.NewRecorder()
	s.RegisterRoutes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var health healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if health.Status != "ok" || health.Shops["mega_market1"] != "closed" {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestMethodRouting(t *testing.T) {
	s := createTestServer(&mockAgent{})
	req := httptest.NewRequest(http.MethodGet, "/api/execute", nil)
	w := httptest.NewRecorder()

	s.RegisterRoutes().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /api/execute, got %d", w.Code)
	}
}
