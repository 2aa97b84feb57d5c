// Package engine wraps the worldengine command-line tool that performs the
// heavy generation work. Each pipeline stage maps to one subcommand
// invocation; the engine owns the models and the GPU, this package owns
// argument assembly, progress parsing, and slot accounting.
package engine

import (
	"context"

	"worldsmith/internal/config"
)

// PanoramaFileName is the image the panorama stage emits. Later stages
// re-publish the same file beside their own artifacts so every stage
// namespace is self-contained.
const PanoramaFileName = "panorama.png"

// Panorama dimensions the engine renders at.
const (
	PanoramaWidth  = 1920
	PanoramaHeight = 960
)

// Composition target resolution. Meshing runs at a reduced resolution
// relative to the source panorama.
const (
	ComposeTargetWidth  = 1024
	ComposeTargetHeight = 512
)

// DefaultNegativePrompt suppresses content that breaks panorama projection.
const DefaultNegativePrompt = "human, person, people, messy, low-quality, blur, noise, low-resolution"

// QualitySuffix is appended to every positive prompt before generation.
const QualitySuffix = "high-quality, high-resolution, sharp, clear, 8k"

// KernelScale sizes the engine's mask-filter kernel for a target width
// relative to the panorama base width.
func KernelScale(width int) int {
	scale := width / PanoramaWidth
	if scale < 1 {
		return 1
	}
	return scale
}

// Options carries the inference tuning flags shared by every stage.
type Options struct {
	FP8Attention bool
	FP8GEMM      bool
	DeepCache    bool
	ExportDraco  bool
}

// OptionsFromConfig maps the engine configuration section onto inference
// options.
func OptionsFromConfig(cfg config.Engine) Options {
	return Options{
		FP8Attention: cfg.FP8Attention,
		FP8GEMM:      cfg.FP8GEMM,
		DeepCache:    cfg.DeepCache,
		ExportDraco:  cfg.ExportDraco,
	}
}

// ProgressUpdate captures one engine progress event.
type ProgressUpdate struct {
	Stage   string
	Percent float64
	Message string
}

// PanoramaRequest renders a full panorama from text.
type PanoramaRequest struct {
	Prompt         string
	NegativePrompt string
	Seed           int64
	OutputDir      string
}

// DecomposeRequest splits a panorama into scene layers. Empty label sets let
// the engine detect foreground objects itself.
type DecomposeRequest struct {
	PanoramaPath string
	Classes      string
	LabelsFG1    []string
	LabelsFG2    []string
	OutputDir    string
}

// ComposeRequest lifts decomposed layers into a 3D world.
type ComposeRequest struct {
	InputDir  string
	LabelsFG1 []string
	LabelsFG2 []string
	Seed      int64
	OutputDir string
}

// Client defines the generation behaviour the stage runners need.
type Client interface {
	GeneratePanorama(ctx context.Context, req PanoramaRequest, progress func(ProgressUpdate)) error
	Decompose(ctx context.Context, req DecomposeRequest, progress func(ProgressUpdate)) error
	Compose(ctx context.Context, req ComposeRequest, progress func(ProgressUpdate)) error
}
