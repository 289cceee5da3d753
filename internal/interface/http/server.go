package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/booksage/bookbuy-agent/internal/core/errx"
	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/domain/repository"
	"github.com/booksage/bookbuy-agent/internal/infrastructure/resilience"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/internal/usecase/agent"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

const maxBodyBytes = 1 << 20

const (
	agentDescription = "BookBuy is an autonomous agent that picks a suitable book, finds the lowest available " +
		"price across shops and completes the purchase."
	agentPurpose = "Fully automated book buying: the agent chooses a book, compares prices across stores, buys the " +
		"cheapest option and moves on to another book when a title is unavailable, too expensive or cannot be bought."
)

// AgentRunner executes one run to completion.
type AgentRunner interface {
	Execute(ctx context.Context, req agent.Request) *model.AgentResult
	MaxAttempts() int
}

// ToolInvoker runs a single named tool with JSON arguments.
type ToolInvoker interface {
	Names() []string
	Infos(ctx context.Context) ([]*schema.ToolInfo, error)
	Invoke(ctx context.Context, name, arguments string) (string, error)
}

// BreakerStates reports the circuit state per shop.
type BreakerStates interface {
	States() map[string]resilience.State
}

// HealthInfo feeds /healthz. Shops without a breaker yet are reported closed.
type HealthInfo struct {
	Shops    []string
	Breakers BreakerStates
}

// TeamInfo is the static metadata served on /api/team_info.
type TeamInfo struct {
	TeamName string
	Batch    string
	Members  []string
}

// Deps holds the dependencies for the HTTP API server.
type Deps struct {
	Agent     AgentRunner
	Runs      repository.RunRepository
	Tools     ToolInvoker
	Health    HealthInfo
	Metrics   *metrics.Metrics
	Team      TeamInfo
	Templates map[string]string
}

// Server holds the dependencies for the HTTP API server
type Server struct {
	deps Deps
}

// NewServer initializes a new API server with the required dependencies
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// RegisterRoutes registers all API endpoints with a new ServeMux
func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/execute", s.handleExecute)
	mux.HandleFunc("POST /api/v1/execute", s.handleExecute)
	mux.HandleFunc("GET /api/v1/runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("POST /api/v1/tools/{name}", s.handleTool)
	mux.HandleFunc("GET /api/agent_info", s.handleAgentInfo)
	mux.HandleFunc("GET /api/team_info", s.handleTeamInfo)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// ExecuteRequest is the body of POST /api/execute.
type ExecuteRequest struct {
	Prompt            string   `json:"prompt"`
	Address           string   `json:"address"`
	PaymentToken      string   `json:"payment_token"`
	BookPreferences   []string `json:"book_preferences,omitempty"`
	DislikedTitles    []string `json:"disliked_titles,omitempty"`
	AlreadyReadTitles []string `json:"already_read_titles,omitempty"`
	MaxPrice          *float64 `json:"max_price,omitempty"`
}

func (r ExecuteRequest) toAgentRequest() agent.Request {
	return agent.Request{
		Prompt: r.Prompt,
		Profile: model.UserProfile{
			Preferences:  r.BookPreferences,
			Disliked:     r.DislikedTitles,
			AlreadyRead:  r.AlreadyReadTitles,
			Address:      r.Address,
			PaymentToken: r.PaymentToken,
		},
		MaxPrice: r.MaxPrice,
	}
}

// Every run outcome, validation failures included, is a 200 with the structured result.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, errx.BadRequest(err, "Invalid request payload"))
		return
	}

	logx.Info().Int("preferences", len(req.BookPreferences)).Msg("[Server] Execute request received")
	result := s.deps.Agent.Execute(r.Context(), req.toAgentRequest())
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, errx.New(errors.New("run store not configured"), http.StatusNotFound, errx.RedisNotFoundMessage))
		return
	}
	run, err := s.deps.Runs.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errx.BadRequest(err, "Failed to read request body"))
		return
	}

	out, err := s.deps.Tools.Invoke(r.Context(), r.PathValue("name"), string(body))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, out)
}

type toolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

type agentInfoResponse struct {
	Description     string            `json:"description"`
	Purpose         string            `json:"purpose"`
	PromptTemplate  []ExecuteRequest  `json:"prompt_template"`
	PromptTemplates map[string]string `json:"prompt_templates"`
	MaxAttempts     int               `json:"max_attempts"`
	Tools           []string          `json:"tools"`
	ToolSchemas     []toolSchema      `json:"tool_schemas,omitempty"`
}

func (s *Server) handleAgentInfo(w http.ResponseWriter, r *http.Request) {
	resp := agentInfoResponse{
		Description:     agentDescription,
		Purpose:         agentPurpose,
		PromptTemplate:  exampleRequests,
		PromptTemplates: s.deps.Templates,
	}
	if s.deps.Agent != nil {
		resp.MaxAttempts = s.deps.Agent.MaxAttempts()
	}
	if s.deps.Tools != nil {
		resp.Tools = s.deps.Tools.Names()
		schemas, err := toolSchemas(r.Context(), s.deps.Tools)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.ToolSchemas = schemas
	}
	writeJSON(w, http.StatusOK, resp)
}

func toolSchemas(ctx context.Context, tools ToolInvoker) ([]toolSchema, error) {
	infos, err := tools.Infos(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]toolSchema, 0, len(infos))
	for _, info := range infos {
		ts := toolSchema{Name: info.Name, Description: info.Desc}
		if info.ParamsOneOf != nil {
			params, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			ts.Parameters = params
		}
		out = append(out, ts)
	}
	return out, nil
}

type student struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type teamInfoResponse struct {
	Batch    string    `json:"group_batch_order_number"`
	TeamName string    `json:"team_name"`
	Students []student `json:"students"`
}

func (s *Server) handleTeamInfo(w http.ResponseWriter, _ *http.Request) {
	resp := teamInfoResponse{
		Batch:    s.deps.Team.Batch,
		TeamName: s.deps.Team.TeamName,
		Students: make([]student, 0, len(s.deps.Team.Members)),
	}
	for _, m := range s.deps.Team.Members {
		resp.Students = append(resp.Students, parseMember(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status string            `json:"status"`
	Shops  map[string]string `json:"shops,omitempty"`
}

// An open breaker marks the service degraded; the status code stays 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	if len(s.deps.Health.Shops) > 0 {
		var states map[string]resilience.State
		if s.deps.Health.Breakers != nil {
			states = s.deps.Health.Breakers.States()
		}
		resp.Shops = make(map[string]string, len(s.deps.Health.Shops))
		for _, shop := range s.deps.Health.Shops {
			state := states[shop]
			resp.Shops[shop] = state.String()
			if state == resilience.StateOpen {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseMember accepts "Name <email>" or a bare name.
func parseMember(m string) student {
	m = strings.TrimSpace(m)
	if addr, err := mail.ParseAddress(m); err == nil && addr.Name != "" {
		return student{Name: addr.Name, Email: addr.Address}
	}
	return student{Name: m}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("[Server] Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logx.Error().Err(err).Int("status", status).Msg("[Server] Request failed")
	}
	writeJSON(w, status, map[string]string{"error": errx.MessageOf(err)})
}

var exampleRequests = []ExecuteRequest{
	{
		Prompt:       "I'm looking for a theoretical astrology book that explains astrological patterns",
		Address:      "Nofit Hol, Haifa",
		PaymentToken: "1234567",
		BookPreferences: []string{
			"astrology", "theoretical approach", "meditation exercises", "visual explanations",
			"book length: around 400 pages",
		},
		DislikedTitles:    []string{"The Forbidden Stories of Marta Veneranda"},
		AlreadyReadTitles: []string{"The House on Mango Street"},
	},
	{
		Prompt:            "I'm looking for an interesting book about wildlife that explains how animals survive and interact in nature",
		Address:           "Tel Aviv",
		PaymentToken:      "9876543",
		BookPreferences:   []string{"wildlife", "animal behavior", "nature photography"},
		AlreadyReadTitles: []string{},
	},
}
