package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Option configures the CLI client.
type Option func(*CLI)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *CLI) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// CLI invokes the worldengine binary.
type CLI struct {
	binary string
	opts   Options
	exec   Executor
}

// NewCLI constructs a worldengine client.
func NewCLI(binary string, opts Options, options ...Option) (*CLI, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("worldengine binary required")
	}
	cli := &CLI{
		binary: binary,
		opts:   opts,
		exec:   commandExecutor{},
	}
	for _, opt := range options {
		opt(cli)
	}
	return cli, nil
}

func (c *CLI) GeneratePanorama(ctx context.Context, req PanoramaRequest, progress func(ProgressUpdate)) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return errors.New("panorama prompt required")
	}
	if req.OutputDir == "" {
		return errors.New("panorama output directory required")
	}
	negative := req.NegativePrompt
	if negative == "" {
		negative = DefaultNegativePrompt
	}
	args := []string{
		"panorama",
		"--prompt", req.Prompt,
		"--negative-prompt", negative,
		"--seed", strconv.FormatInt(req.Seed, 10),
		"--width", strconv.Itoa(PanoramaWidth),
		"--height", strconv.Itoa(PanoramaHeight),
		"--output-dir", req.OutputDir,
	}
	args = c.appendTuning(args)
	return c.run(ctx, "panorama", args, progress)
}

func (c *CLI) Decompose(ctx context.Context, req DecomposeRequest, progress func(ProgressUpdate)) error {
	if req.PanoramaPath == "" {
		return errors.New("panorama path required")
	}
	if req.OutputDir == "" {
		return errors.New("decompose output directory required")
	}
	args := []string{
		"decompose",
		"--input", req.PanoramaPath,
		"--classes", classesOrDefault(req.Classes),
		"--output-dir", req.OutputDir,
	}
	if len(req.LabelsFG1) > 0 {
		args = append(args, "--labels-fg1", strings.Join(req.LabelsFG1, ","))
	}
	if len(req.LabelsFG2) > 0 {
		args = append(args, "--labels-fg2", strings.Join(req.LabelsFG2, ","))
	}
	args = c.appendTuning(args)
	return c.run(ctx, "decompose", args, progress)
}

func (c *CLI) Compose(ctx context.Context, req ComposeRequest, progress func(ProgressUpdate)) error {
	if req.InputDir == "" {
		return errors.New("compose input directory required")
	}
	if req.OutputDir == "" {
		return errors.New("compose output directory required")
	}
	args := []string{
		"compose",
		"--input-dir", req.InputDir,
		"--seed", strconv.FormatInt(req.Seed, 10),
		"--kernel-scale", strconv.Itoa(KernelScale(ComposeTargetWidth)),
		"--output-dir", req.OutputDir,
	}
	if len(req.LabelsFG1) > 0 {
		args = append(args, "--labels-fg1", strings.Join(req.LabelsFG1, ","))
	}
	if len(req.LabelsFG2) > 0 {
		args = append(args, "--labels-fg2", strings.Join(req.LabelsFG2, ","))
	}
	if c.opts.ExportDraco {
		args = append(args, "--export-draco")
	}
	args = c.appendTuning(args)
	return c.run(ctx, "compose", args, progress)
}

func (c *CLI) appendTuning(args []string) []string {
	if c.opts.FP8Attention {
		args = append(args, "--fp8-attention")
	}
	if c.opts.FP8GEMM {
		args = append(args, "--fp8-gemm")
	}
	if c.opts.DeepCache {
		args = append(args, "--deep-cache")
	}
	return args
}

func classesOrDefault(classes string) string {
	classes = strings.TrimSpace(classes)
	if classes == "" {
		return "outdoor"
	}
	return classes
}

// run executes one subcommand, forwarding JSON progress events and keeping
// the last output lines for error context.
func (c *CLI) run(ctx context.Context, subcommand string, args []string, progress func(ProgressUpdate)) error {
	var tail recentLines
	err := c.exec.Run(ctx, c.binary, args, func(line string) {
		tail.add(line)
		if progress == nil {
			return
		}
		if update, ok := parseProgress(line); ok {
			progress(update)
		}
	})
	if err != nil {
		if detail := tail.String(); detail != "" {
			return fmt.Errorf("worldengine %s: %w (last output: %s)", subcommand, err, detail)
		}
		return fmt.Errorf("worldengine %s: %w", subcommand, err)
	}
	return nil
}

func parseProgress(line string) (ProgressUpdate, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return ProgressUpdate{}, false
	}
	var payload struct {
		Stage   string  `json:"stage"`
		Percent float64 `json:"percent"`
		Message string  `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return ProgressUpdate{}, false
	}
	return ProgressUpdate{Stage: payload.Stage, Percent: payload.Percent, Message: payload.Message}, true
}

// recentLines keeps the last few non-empty output lines.
type recentLines struct {
	lines []string
}

func (r *recentLines) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	r.lines = append(r.lines, line)
	if len(r.lines) > 3 {
		r.lines = r.lines[len(r.lines)-3:]
	}
}

func (r *recentLines) String() string {
	return strings.Join(r.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			forwardLine(scanner.Text(), onStdout)
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}

func forwardLine(line string, onStdout func(string)) {
	if onStdout != nil {
		onStdout(line)
		return
	}
	fmt.Fprintln(os.Stderr, line)
}

var _ Client = (*CLI)(nil)
