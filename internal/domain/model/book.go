package model

import "encoding/json"

// CandidateBook is a book proposed by the recommendation engine for the current attempt.
type CandidateBook struct {
	Title         string
	Authors       []string
	PublishedDate string
	Categories    []string
	PageLength    *int
	Description   string
	Reviews       []string
	AverageScore  *float64
}

// Author joins the authors for display; empty when unknown.
func (b CandidateBook) Author() string {
	switch len(b.Authors) {
	case 0:
		return ""
	case 1:
		return b.Authors[0]
	}
	out := b.Authors[0]
	for _, a := range b.Authors[1:] {
		out += ", " + a
	}
	return out
}

// Review is one stored rating for a title.
type Review struct {
	Summary string  `json:"summary"`
	Score   float64 `json:"score"`
}

// CatalogBook is the shape of one entry in a seed catalog file.
type CatalogBook struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	BookLength    *int     `json:"book_length,omitempty"`
	Description   string   `json:"description"`
	Reviews       []Review `json:"reviews,omitempty"`
}

// Candidate converts a catalog entry into a candidate without reviews.
func (c CatalogBook) Candidate() CandidateBook {
	return CandidateBook{
		Title:         c.Title,
		Authors:       c.Authors,
		PublishedDate: c.PublishedDate,
		Categories:    c.Categories,
		PageLength:    c.BookLength,
		Description:   c.Description,
	}
}

const (
	RecommendationFound   = "found"
	RecommendationNoMatch = "no_match"
)

// RecommendationResponse is the recommendationTool payload.
type RecommendationResponse struct {
	Status        string   `json:"status"`
	Title         string   `json:"title"`
	Author        *string  `json:"author"`
	PublishedDate string   `json:"published_date"`
	Categories    []string `json:"categories"`
	BookLength    *int     `json:"book_length"`
	Description   string   `json:"description"`
}

// NoMatchResponse is the recommendationTool payload when nothing fits.
func NoMatchResponse() RecommendationResponse {
	return RecommendationResponse{Status: RecommendationNoMatch}
}

// FoundResponse renders a chosen candidate as a recommendationTool payload.
func FoundResponse(b CandidateBook) RecommendationResponse {
	resp := RecommendationResponse{
		Status:        RecommendationFound,
		Title:         b.Title,
		PublishedDate: b.PublishedDate,
		Categories:    b.Categories,
		BookLength:    b.PageLength,
		Description:   b.Description,
	}
	if author := b.Author(); author != "" {
		resp.Author = &author
	}
	if resp.Categories == nil {
		resp.Categories = []string{}
	}
	return resp
}

// MarshalJSON emits the bare status object for a no-match.
func (r RecommendationResponse) MarshalJSON() ([]byte, error) {
	if r.Status != RecommendationFound {
		return json.Marshal(struct {
			Status string `json:"status"`
		}{Status: RecommendationNoMatch})
	}
	type alias RecommendationResponse
	return json.Marshal(alias(r))
}
