package shortname

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Alpha", "alpha"},
		{"Build the API server", "build-the-api-server"},
		{"  spaced   out  ", "spaced-out"},
		{"Ünïcode & Symbols!!", "n-code-symbols"},
		{"already-slugged", "already-slugged"},
		{"!!!", "item"},
		{"UPPER_case.mixed", "upper-case-mixed"},
	}
	for _, tc := range cases {
		if got := Generate(tc.name); got != tc.want {
			t.Errorf("Generate(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestGenerateTruncates(t *testing.T) {
	long := strings.Repeat("abc ", 40)
	slug := Generate(long)
	if len(slug) > 64 {
		t.Errorf("slug too long: %d chars", len(slug))
	}
	if strings.HasSuffix(slug, "-") {
		t.Errorf("slug has trailing hyphen: %q", slug)
	}
}

func TestDisambiguate(t *testing.T) {
	taken := map[string]bool{"alpha": true, "alpha-2": true}
	if got := Disambiguate("beta", taken); got != "beta" {
		t.Errorf("free slug should pass through, got %q", got)
	}
	if got := Disambiguate("alpha", taken); got != "alpha-3" {
		t.Errorf("expected alpha-3, got %q", got)
	}
}

func TestDisambiguateAtLengthLimit(t *testing.T) {
	base := strings.Repeat("x", 64)
	taken := map[string]bool{base: true}
	got := Disambiguate(base, taken)
	if len(got) > 64 {
		t.Errorf("disambiguated slug too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "-2") {
		t.Errorf("expected -2 suffix, got %q", got)
	}
}
