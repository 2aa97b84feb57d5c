package theme

import (
	"context"
	"fmt"
	"strings"

	"worldsmith/internal/services/textgen"
)

// derivePrompt instructs the model to name the scene and enrich the prompt in
// one round trip. The response must be a bare JSON object.
const derivePrompt = `You name 3D scenes and expand their descriptions.
Given a scene request, respond with JSON only, no prose, in the form:
{"theme": "...", "prompt": "..."}
- "theme" is a short kebab-case name for the scene, 2 to 4 lowercase words
  joined by hyphens, letters and digits only.
- "prompt" is the request rewritten as one vivid sentence describing the
  scene's setting, mood, lighting, and key objects.`

// Result is a derived scene identity.
type Result struct {
	// Theme is the sanitized kebab-case scene name.
	Theme string
	// Prompt is the expanded generation prompt.
	Prompt string
}

// Deriver turns a user prompt into a theme and an expanded prompt.
type Deriver struct {
	client *textgen.Client
}

// NewDeriver wraps a text-generation client. A nil or unconfigured client
// selects the slug fallback.
func NewDeriver(client *textgen.Client) *Deriver {
	return &Deriver{client: client}
}

// Derive names the scene. With a configured model the theme and expanded
// prompt come from the model and an unparseable response is an error; the
// model path never falls back silently, so a misconfigured key surfaces
// instead of producing differently-shaped themes. Without a model the theme
// is a slug of the prompt and the prompt passes through unchanged.
func (d *Deriver) Derive(ctx context.Context, prompt string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, fmt.Errorf("derive theme: prompt required")
	}
	if d == nil || d.client == nil || !d.client.Configured() {
		return Result{Theme: Slugify(prompt), Prompt: prompt}, nil
	}

	content, err := d.client.CompleteJSON(ctx, derivePrompt, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("derive theme: %w", err)
	}
	var parsed struct {
		Theme  string `json:"theme"`
		Prompt string `json:"prompt"`
	}
	if err := textgen.DecodeJSON(content, &parsed); err != nil {
		return Result{}, fmt.Errorf("derive theme: parse payload: %w", err)
	}

	name := Sanitize(parsed.Theme)
	if name == "" {
		return Result{}, fmt.Errorf("derive theme: model returned no usable theme (payload %q)", content)
	}
	expanded := strings.TrimSpace(parsed.Prompt)
	if expanded == "" {
		expanded = prompt
	}
	return Result{Theme: name, Prompt: expanded}, nil
}
