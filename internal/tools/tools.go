// Package tools exposes the agent's three modules as eino tools so they can be
// invoked standalone with a JSON argument string.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/booksage/bookbuy-agent/internal/core/errx"
	"github.com/booksage/bookbuy-agent/internal/domain/model"
	"github.com/booksage/bookbuy-agent/internal/metrics"
	"github.com/booksage/bookbuy-agent/internal/usecase/agent"
	"github.com/booksage/bookbuy-agent/pkg/logx"
)

// ErrUnknownTool is returned by Invoke for a name that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

const (
	recommendationDesc = "Recommend one book matching a free-text request, never one of the excluded titles. " +
		"Returns {\"status\":\"no_match\"} when nothing fits."
	findPricesDesc = "Look up a title at every shop and report price and stock per shop plus per-shop errors."
	buyBookDesc    = "Buy a title from one shop and ship it to the given address."
)

// Set holds the registered tools in a stable order.
type Set struct {
	tools   map[string]tool.InvokableTool
	order   []string
	metrics *metrics.Metrics
}

// New builds the recommendationTool, findPricesTool and buyBookTool.
func New(rec agent.Recommender, prices agent.PriceFinder, buyer agent.Purchaser, m *metrics.Metrics) (*Set, error) {
	s := &Set{tools: make(map[string]tool.InvokableTool), metrics: m}

	recTool, err := utils.InferTool(string(model.ToolRecommendation), recommendationDesc,
		func(ctx context.Context, in model.RecommendationRequest) (model.RecommendationResponse, error) {
			if strings.TrimSpace(in.UserPrompt) == "" {
				return model.RecommendationResponse{}, errx.BadRequest(errors.New("empty user_prompt"), "user_prompt is required")
			}
			return rec.Recommend(ctx, in), nil
		})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", model.ToolRecommendation, err)
	}
	s.add(model.ToolRecommendation, recTool)

	pricesTool, err := utils.InferTool(string(model.ToolFindPrices), findPricesDesc,
		func(ctx context.Context, in model.FindPricesRequest) (model.PriceReport, error) {
			if strings.TrimSpace(in.BookTitle) == "" {
				return model.PriceReport{}, errx.BadRequest(errors.New("empty book_title"), "book_title is required")
			}
			return prices.FindPrices(ctx, in.BookTitle), nil
		})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", model.ToolFindPrices, err)
	}
	s.add(model.ToolFindPrices, pricesTool)

	buyTool, err := utils.InferTool(string(model.ToolBuyBook), buyBookDesc,
		func(ctx context.Context, in model.BuyBookRequest) (model.PurchaseResult, error) {
			return buyer.Buy(ctx, in), nil
		})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", model.ToolBuyBook, err)
	}
	s.add(model.ToolBuyBook, buyTool)

	return s, nil
}

func (s *Set) add(name model.ToolName, t tool.InvokableTool) {
	s.tools[string(name)] = t
	s.order = append(s.order, string(name))
}

// Names returns the tool names in registration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Infos returns the schema of every tool in registration order.
func (s *Set) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(s.order))
	for _, name := range s.order {
		info, err := s.tools[name].Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Invoke runs one tool with a JSON object argument and returns its JSON output.
func (s *Set) Invoke(ctx context.Context, name, arguments string) (string, error) {
	t, ok := s.tools[name]
	if !ok {
		return "", errx.New(fmt.Errorf("%w: %s", ErrUnknownTool, name), http.StatusNotFound, "tool not found")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(arguments), &obj); err != nil {
		s.metrics.IncTool(name, "bad_request")
		return "", errx.BadRequest(err, "arguments must be a JSON object")
	}

	out, err := t.InvokableRun(ctx, arguments)
	if err != nil {
		s.metrics.IncTool(name, "error")
		logx.Warn().Err(err).Str("tool", name).Msg("[Tools] Invocation failed")
		return "", err
	}
	s.metrics.IncTool(name, "ok")
	return out, nil
}
