package model

import (
	"encoding/json"
	"time"
)

// ToolName identifies the module recorded in a step.
type ToolName string

const (
	ToolRecommendation ToolName = "recommendationTool"
	ToolFindPrices     ToolName = "findPricesTool"
	ToolBuyBook        ToolName = "buyBookTool"
)

// RecommendationRequest is the recommendationTool input.
type RecommendationRequest struct {
	UserPrompt      string   `json:"user_prompt" jsonschema_description:"Free-text description of the wanted book"`
	ExcludedTitles  []string `json:"excluded_titles" jsonschema_description:"Titles that must not be recommended"`
	UserPreferences []string `json:"user_preferences" jsonschema_description:"Preferences treated as constraints"`
}

// FindPricesRequest is the findPricesTool input.
type FindPricesRequest struct {
	BookTitle string `json:"book_title" jsonschema_description:"Exact title to price across all shops"`
}

// BuyBookRequest is the buyBookTool input.
type BuyBookRequest struct {
	ShopID       string `json:"shop_id" jsonschema_description:"Shop to buy from"`
	BookTitle    string `json:"book_title" jsonschema_description:"Title to buy"`
	Address      string `json:"address" jsonschema_description:"Shipping address"`
	PaymentToken string `json:"payment_token" jsonschema_description:"Opaque payment token"`
}

// AttemptStep is one recorded tool invocation.
type AttemptStep struct {
	Attempt  int             `json:"attempt"`
	Module   ToolName        `json:"module"`
	Prompt   json.RawMessage `json:"prompt"`
	Response json.RawMessage `json:"response"`
}

// NewAttemptStep marshals the request and response payloads into a step.
func NewAttemptStep(attempt int, module ToolName, prompt, response any) (AttemptStep, error) {
	p, err := json.Marshal(prompt)
	if err != nil {
		return AttemptStep{}, err
	}
	r, err := json.Marshal(response)
	if err != nil {
		return AttemptStep{}, err
	}
	return AttemptStep{Attempt: attempt, Module: module, Prompt: p, Response: r}, nil
}

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunSuccess   RunStatus = "success"
	RunNoMatch   RunStatus = "no_match"
	RunExhausted RunStatus = "exhausted"
	RunError     RunStatus = "error"
)

// AgentResult is produced exactly once per run.
type AgentResult struct {
	RunID      string        `json:"run_id"`
	Status     RunStatus     `json:"status"`
	Error      *string       `json:"error"`
	Response   *string       `json:"response"`
	Steps      []AttemptStep `json:"steps"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
