package core

import "testing"

func TestParseEnvironment(t *testing.T) {
	tests := map[string]Environment{
		"production":   Production,
		" PRODUCTION ": Production,
		"staging":      Staging,
		"testing":      Testing,
		"development":  Development,
		"":             Development,
		"qa":           Development,
	}

	for in, want := range tests {
		if got := ParseEnvironment(in); got != want {
			t.Errorf("ParseEnvironment(%q) = %s, want %s", in, got, want)
		}
	}

	if !Production.IsProduction() || Staging.IsProduction() {
		t.Error("IsProduction mismatch")
	}
}
