package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

type fakeExecutor struct {
	binary string
	args   []string
	lines  []string
	err    error
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	f.binary = binary
	f.args = args
	for _, line := range f.lines {
		onStdout(line)
	}
	return f.err
}

func TestGeneratePanoramaArgs(t *testing.T) {
	fake := &fakeExecutor{}
	cli, err := NewCLI("worldengine", Options{FP8Attention: true, FP8GEMM: true, DeepCache: true}, WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCLI: %v", err)
	}

	req := PanoramaRequest{
		Prompt:    "a foggy harbor at dawn, high-quality",
		Seed:      42,
		OutputDir: "/tmp/out",
	}
	if err := cli.GeneratePanorama(context.Background(), req, nil); err != nil {
		t.Fatalf("GeneratePanorama: %v", err)
	}

	if fake.binary != "worldengine" {
		t.Fatalf("unexpected binary %q", fake.binary)
	}
	if fake.args[0] != "panorama" {
		t.Fatalf("unexpected subcommand %q", fake.args[0])
	}
	for _, want := range []string{"--seed", "42", "--width", "1920", "--height", "960", "--fp8-attention", "--fp8-gemm", "--deep-cache"} {
		if !slices.Contains(fake.args, want) {
			t.Fatalf("args missing %q: %v", want, fake.args)
		}
	}
	negIdx := slices.Index(fake.args, "--negative-prompt")
	if negIdx < 0 || fake.args[negIdx+1] != DefaultNegativePrompt {
		t.Fatalf("default negative prompt not applied: %v", fake.args)
	}
}

func TestComposeArgsCarryLabelsAndDraco(t *testing.T) {
	fake := &fakeExecutor{}
	cli, err := NewCLI("worldengine", Options{ExportDraco: true}, WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCLI: %v", err)
	}

	req := ComposeRequest{
		InputDir:  "/tmp/in",
		LabelsFG1: []string{"boat", "lantern"},
		LabelsFG2: []string{"gull"},
		Seed:      7,
		OutputDir: "/tmp/out",
	}
	if err := cli.Compose(context.Background(), req, nil); err != nil {
		t.Fatalf("Compose: %v", err)
	}

	idx := slices.Index(fake.args, "--labels-fg1")
	if idx < 0 || fake.args[idx+1] != "boat,lantern" {
		t.Fatalf("labels-fg1 not passed: %v", fake.args)
	}
	if !slices.Contains(fake.args, "--export-draco") {
		t.Fatalf("draco flag not passed: %v", fake.args)
	}
	kidx := slices.Index(fake.args, "--kernel-scale")
	if kidx < 0 || fake.args[kidx+1] != "1" {
		t.Fatalf("kernel scale not passed: %v", fake.args)
	}
	if slices.Contains(fake.args, "--classes") {
		t.Fatalf("compose must not carry scene classes: %v", fake.args)
	}
}

func TestDecomposeDefaultsClasses(t *testing.T) {
	fake := &fakeExecutor{}
	cli, err := NewCLI("worldengine", Options{}, WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCLI: %v", err)
	}
	req := DecomposeRequest{PanoramaPath: "/tmp/panorama.png", OutputDir: "/tmp/out"}
	if err := cli.Decompose(context.Background(), req, nil); err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	idx := slices.Index(fake.args, "--classes")
	if idx < 0 || fake.args[idx+1] != "outdoor" {
		t.Fatalf("classes default not applied: %v", fake.args)
	}
	if slices.Contains(fake.args, "--labels-fg1") {
		t.Fatalf("empty label sets must be omitted: %v", fake.args)
	}
}

func TestDecomposeCarriesLabelSets(t *testing.T) {
	fake := &fakeExecutor{}
	cli, err := NewCLI("worldengine", Options{}, WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCLI: %v", err)
	}
	req := DecomposeRequest{
		PanoramaPath: "/tmp/panorama.png",
		Classes:      "indoor",
		LabelsFG1:    []string{"chair", "table"},
		LabelsFG2:    []string{"plant"},
		OutputDir:    "/tmp/out",
	}
	if err := cli.Decompose(context.Background(), req, nil); err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	idx := slices.Index(fake.args, "--labels-fg1")
	if idx < 0 || fake.args[idx+1] != "chair,table" {
		t.Fatalf("labels-fg1 not passed: %v", fake.args)
	}
	idx = slices.Index(fake.args, "--labels-fg2")
	if idx < 0 || fake.args[idx+1] != "plant" {
		t.Fatalf("labels-fg2 not passed: %v", fake.args)
	}
}

func TestRunForwardsJSONProgress(t *testing.T) {
	fake := &fakeExecutor{
		lines: []string{
			"loading model weights",
			`{"stage":"diffusion","percent":40,"message":"step 20/50"}`,
			"not json {",
			`{"stage":"diffusion","percent":100,"message":"done"}`,
		},
	}
	cli, err := NewCLI("worldengine", Options{}, WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCLI: %v", err)
	}

	var updates []ProgressUpdate
	req := PanoramaRequest{Prompt: "p", OutputDir: "/tmp/out"}
	if err := cli.GeneratePanorama(context.Background(), req, func(u ProgressUpdate) {
		updates = append(updates, u)
	}); err != nil {
		t.Fatalf("GeneratePanorama: %v", err)
	}

	if len(updates) != 2 {
		t.Fatalf("expected 2 progress updates, got %d", len(updates))
	}
	if updates[0].Percent != 40 || updates[1].Message != "done" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
}

func TestRunFailureIncludesTail(t *testing.T) {
	fake := &fakeExecutor{
		lines: []string{"CUDA out of memory"},
		err:   errors.New("exit status 1"),
	}
	cli, err := NewCLI("worldengine", Options{}, WithExecutor(fake))
	if err != nil {
		t.Fatalf("NewCLI: %v", err)
	}
	req := PanoramaRequest{Prompt: "p", OutputDir: "/tmp/out"}
	err = cli.GeneratePanorama(context.Background(), req, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "CUDA out of memory") {
		t.Fatalf("error lacks output tail: %v", err)
	}
}

func TestKernelScale(t *testing.T) {
	if KernelScale(1920) != 1 {
		t.Fatalf("KernelScale(1920) = %d", KernelScale(1920))
	}
	if KernelScale(ComposeTargetWidth) != 1 {
		t.Fatalf("KernelScale(%d) = %d", ComposeTargetWidth, KernelScale(ComposeTargetWidth))
	}
	if KernelScale(3840) != 2 {
		t.Fatalf("KernelScale(3840) = %d", KernelScale(3840))
	}
}
