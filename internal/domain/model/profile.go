package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProfile is returned when a request cannot start a run.
var ErrInvalidProfile = errors.New("invalid user profile")

// UserProfile carries everything the agent knows about the buyer for one run.
// It is never mutated after the run starts.
type UserProfile struct {
	Preferences  []string
	Disliked     []string
	AlreadyRead  []string
	Address      string
	PaymentToken string
}

// Validate checks the fields a purchase cannot proceed without.
func (p UserProfile) Validate() error {
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidProfile)
	}
	if strings.TrimSpace(p.PaymentToken) == "" {
		return fmt.Errorf("%w: payment token is required", ErrInvalidProfile)
	}
	return nil
}

// ExclusionSet is an insertion-ordered set of titles that must not be recommended again.
// Titles are only ever added.
type ExclusionSet struct {
	titles []string
	index  map[string]struct{}
}

// NewExclusionSet seeds the set from any number of title lists, skipping blanks and duplicates.
func NewExclusionSet(seeds ...[]string) *ExclusionSet {
	s := &ExclusionSet{index: make(map[string]struct{})}
	for _, seed := range seeds {
		for _, title := range seed {
			s.Add(title)
		}
	}
	return s
}

// Add inserts title and reports whether it was new.
func (s *ExclusionSet) Add(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	if _, ok := s.index[title]; ok {
		return false
	}
	s.index[title] = struct{}{}
	s.titles = append(s.titles, title)
	return true
}

func (s *ExclusionSet) Contains(title string) bool {
	_, ok := s.index[strings.TrimSpace(title)]
	return ok
}

func (s *ExclusionSet) Len() int {
	return len(s.titles)
}

// Titles returns a copy of the members in insertion order.
func (s *ExclusionSet) Titles() []string {
	out := make([]string, len(s.titles))
	copy(out, s.titles)
	return out
}
