package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"worldsmith/internal/api"
	"worldsmith/internal/config"
	"worldsmith/internal/daemon"
	"worldsmith/internal/logging"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/registry"
	"worldsmith/internal/storage"
	"worldsmith/internal/testsupport"
	"worldsmith/internal/theme"
	"worldsmith/internal/workflow"
)

type noopStage struct{}

func (noopStage) Prepare(context.Context, *pipeline.Run) error { return nil }
func (noopStage) Execute(context.Context, *pipeline.Run) error { return nil }

type cliTestEnv struct {
	cfg        *config.Config
	store      *pipeline.Store
	catalog    *registry.Store
	objects    *storage.MemoryStore
	daemon     *daemon.Daemon
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	configPath := filepath.Join(homeDir, ".config", "worldsmith", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      testsupport.MustOpenRunStore(t, cfg),
		catalog:    testsupport.MustOpenRegistry(t, cfg),
		objects:    storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix),
		configPath: configPath,
		baseDir:    base,
	}
}

// startDaemon brings up a real daemon with no-op stage handlers and rewrites
// the test config so the CLI reaches its live API address.
func (env *cliTestEnv) startDaemon(t *testing.T) {
	t.Helper()

	env.cfg.Workflow.PollIntervalSeconds = 1
	handlers := workflow.Handlers{
		Panorama:  noopStage{},
		Decompose: noopStage{},
		Compose:   noopStage{},
		Register:  noopStage{},
	}
	eng := workflow.NewLocalEngine(env.cfg, env.store, logging.NewNop(), nil, handlers)
	reader := registry.NewReader(env.catalog, env.objects, 0, logging.NewNop())
	svc := api.NewService(env.cfg, logging.NewNop(), env.store, eng, theme.NewDeriver(nil), reader)

	d, err := daemon.New(env.cfg, logging.NewNop(), env.store, nil, eng, svc)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	env.daemon = d
	env.cfg.Paths.APIBind = d.APIAddr()
	writeTestConfig(t, env.configPath, env.cfg)
}

// seedWorld stores panorama and mesh objects and registers a catalog record
// pointing at them so presigned listings resolve.
func seedWorld(t *testing.T, env *cliTestEnv, themeName string) registry.Record {
	t.Helper()
	ctx := context.Background()

	pano, err := env.objects.Put(ctx, themeName, storage.StagePanorama, "panorama.png", strings.NewReader("png"), 3)
	if err != nil {
		t.Fatalf("put panorama: %v", err)
	}
	meshes := make([]storage.Locator, 0, registry.MeshCountMin)
	for i := 0; i < registry.MeshCountMin; i++ {
		name := fmt.Sprintf("layer%d.ply", i)
		mesh, err := env.objects.Put(ctx, themeName, storage.StageWorld, name, strings.NewReader("ply"), 3)
		if err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
		meshes = append(meshes, mesh)
	}

	rec := registry.Record{
		ID:        uuid.NewString(),
		Theme:     themeName,
		PNGURI:    pano,
		PLYURIs:   meshes,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.catalog.Put(ctx, rec); err != nil {
		t.Fatalf("catalog.Put: %v", err)
	}
	return rec
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nwork_dir = %q\nlog_dir = %q\ndata_dir = %q\napi_bind = %q\n\n[storage]\nendpoint = %q\naccess_key = %q\nsecret_key = %q\nbucket = %q\n",
		cfg.Paths.WorkDir,
		cfg.Paths.LogDir,
		cfg.Paths.DataDir,
		cfg.Paths.APIBind,
		cfg.Storage.Endpoint,
		cfg.Storage.AccessKey,
		cfg.Storage.SecretKey,
		cfg.Storage.Bucket,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
