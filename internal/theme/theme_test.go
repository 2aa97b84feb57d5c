package theme_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"worldsmith/internal/services/textgen"
	"worldsmith/internal/theme"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Misty Mountain Lake!", "misty-mountain-lake"},
		{"  spaces   everywhere  ", "spaces-everywhere"},
		{"already-clean-42", "already-clean-42"},
		{"UPPER_case/slash", "upper-case-slash"},
		{"---", ""},
		{"", ""},
		{"a--b---c", "a-b-c"},
	}
	for _, tc := range cases {
		if got := theme.Sanitize(tc.in); got != tc.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"Misty Mountain Lake!",
		"a b c d e f",
		"x--y__z",
		"neon tokyo alley at night, rain",
	}
	for _, in := range inputs {
		once := theme.Sanitize(in)
		twice := theme.Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestSlugifyBounded(t *testing.T) {
	slug := theme.Slugify("an extremely long and detailed description of a scene")
	if len(slug) > 20 {
		t.Fatalf("slug too long: %q (%d)", slug, len(slug))
	}
	if slug != theme.Sanitize(slug) {
		t.Fatalf("slug %q is not sanitized", slug)
	}
	if theme.Slugify("!!!") != "world" {
		t.Fatalf("expected fallback slug for unusable prompt, got %q", theme.Slugify("!!!"))
	}
}

func TestNewRunID(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	id := theme.NewRunID("foggy-harbor", at)
	want := "foggy-harbor-1773478800"
	if id != want {
		t.Fatalf("NewRunID = %q, want %q", id, want)
	}
}

func TestDeriveFallsBackWithoutModel(t *testing.T) {
	d := theme.NewDeriver(nil)
	res, err := d.Derive(context.Background(), "Neon Tokyo alley at night")
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if res.Theme != "neon-tokyo-alley-at" {
		t.Fatalf("unexpected fallback theme %q", res.Theme)
	}
	if res.Prompt != "Neon Tokyo alley at night" {
		t.Fatalf("fallback must not rewrite the prompt, got %q", res.Prompt)
	}
}

func TestDeriveRequiresPrompt(t *testing.T) {
	d := theme.NewDeriver(nil)
	if _, err := d.Derive(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestDeriveUsesModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"theme":"Neon Tokyo Alley","prompt":"a rain-slicked neon alley in Tokyo at night"}`,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := textgen.NewClient(textgen.Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	res, err := theme.NewDeriver(client).Derive(context.Background(), "tokyo alley")
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if res.Theme != "neon-tokyo-alley" {
		t.Fatalf("model theme not sanitized: %q", res.Theme)
	}
	if res.Prompt != "a rain-slicked neon alley in Tokyo at night" {
		t.Fatalf("unexpected prompt %q", res.Prompt)
	}
}

func TestDeriveFailsOnGarbageModelOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": "sure, here you go",
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := textgen.NewClient(textgen.Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	if _, err := theme.NewDeriver(client).Derive(context.Background(), "tokyo alley"); err == nil {
		t.Fatal("expected hard failure when the model output cannot be parsed")
	}
}
