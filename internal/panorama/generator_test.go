package panorama_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"worldsmith/internal/engine"
	"worldsmith/internal/logging"
	"worldsmith/internal/manifest"
	"worldsmith/internal/panorama"
	"worldsmith/internal/pipeline"
	"worldsmith/internal/services"
	"worldsmith/internal/storage"
	"worldsmith/internal/testsupport"
)

func TestGeneratorExecutePublishesArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "misty-forest", "a misty forest at dawn")

	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	fake := &fakeEngine{}
	notifier := &stubNotifier{}
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), fake, objects, engine.NewGate(1), notifier)

	ctx := context.Background()
	if err := handler.Prepare(ctx, run); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := handler.Execute(ctx, run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !strings.HasSuffix(fake.prompt, engine.QualitySuffix) {
		t.Fatalf("prompt missing quality suffix: %q", fake.prompt)
	}
	if !strings.HasPrefix(fake.prompt, "a misty forest at dawn") {
		t.Fatalf("prompt lost the submitted description: %q", fake.prompt)
	}
	if fake.seed != run.Seed {
		t.Fatalf("engine saw seed %d, want %d", fake.seed, run.Seed)
	}

	listed, err := objects.List(ctx, run.Theme, storage.StagePanorama)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	names := make(map[string]bool, len(listed))
	for _, obj := range listed {
		names[obj.Name] = true
	}
	if !names[engine.PanoramaFileName] || !names[manifest.PanoramaName] {
		t.Fatalf("expected panorama image and manifest in stage namespace, got %v", names)
	}

	if run.PanoramaURI == "" || !strings.Contains(run.PanoramaURI, engine.PanoramaFileName) {
		t.Fatalf("run panorama URI not recorded: %q", run.PanoramaURI)
	}
	if run.ProgressPercent != 100 {
		t.Fatalf("progress percent = %v, want 100", run.ProgressPercent)
	}

	doc := readManifest(t, objects, run.Theme, storage.StagePanorama, manifest.PanoramaName)
	if doc.Prompt != "a misty forest at dawn" {
		t.Fatalf("manifest prompt = %q, want the raw prompt", doc.Prompt)
	}
	if doc.Panorama != engine.PanoramaFileName {
		t.Fatalf("manifest panorama = %q", doc.Panorama)
	}
	if doc.Seed != run.Seed {
		t.Fatalf("manifest seed = %d, want %d", doc.Seed, run.Seed)
	}

	if len(notifier.starts) != 1 || len(notifier.panoramas) != 1 {
		t.Fatalf("expected start and completion notifications, got %+v", notifier)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, run.ID)); !os.IsNotExist(err) {
		t.Fatalf("scratch directory should be removed after execute")
	}
}

func TestGeneratorPersistsEngineProgressAsHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "tide-pool", "a tide pool")

	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	fake := &fakeEngine{progress: []engine.ProgressUpdate{{Stage: "Generating panorama", Percent: 55, Message: "sampling"}}}
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), fake, objects, nil, &stubNotifier{})

	ctx := context.Background()
	if err := handler.Execute(ctx, run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stored, err := store.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ProgressPercent != 55 {
		t.Fatalf("persisted progress = %v, want 55", stored.ProgressPercent)
	}
	if stored.ProgressMessage != "sampling" {
		t.Fatalf("persisted message = %q", stored.ProgressMessage)
	}
	if stored.LastHeartbeat == nil {
		t.Fatal("expected heartbeat alongside persisted progress")
	}
	if time.Since(*stored.LastHeartbeat) > time.Minute {
		t.Fatalf("heartbeat is stale: %v", stored.LastHeartbeat)
	}
}

func TestGeneratorUploadsManifestLast(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "lantern-city", "a lantern-lit city")

	objects := &recordingStore{Store: storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)}
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), &fakeEngine{}, objects, nil, &stubNotifier{})

	if err := handler.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(objects.puts) == 0 {
		t.Fatal("expected uploads")
	}
	if last := objects.puts[len(objects.puts)-1]; last != manifest.PanoramaName {
		t.Fatalf("manifest must be the final upload, got %q", last)
	}
}

func TestGeneratorFailsWhenEngineFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "glass-desert", "a glass desert")

	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	fake := &fakeEngine{err: errors.New("CUDA out of memory")}
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), fake, objects, engine.NewGate(1), &stubNotifier{})

	err := handler.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrComputeFailure) {
		t.Fatalf("expected compute failure, got %v", err)
	}
	listed, listErr := objects.List(context.Background(), run.Theme, storage.StagePanorama)
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(listed) != 0 {
		t.Fatalf("no artifacts should be published on failure, got %d", len(listed))
	}
}

func TestGeneratorFailsWhenEngineProducesNoImage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "silent-peak", "a silent peak")

	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	fake := &fakeEngine{skipOutput: true}
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), fake, objects, nil, &stubNotifier{})

	err := handler.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrComputeFailure) {
		t.Fatalf("expected compute failure for missing image, got %v", err)
	}
}

func TestGeneratorRequiresPrompt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)

	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), &fakeEngine{}, objects, nil, &stubNotifier{})

	run := &pipeline.Run{ID: "blank-1", Theme: "blank", Prompt: "   "}
	err := handler.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrMissingInput) {
		t.Fatalf("expected missing-input failure, got %v", err)
	}
}

func TestGeneratorReleasesGateOnFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "storm-coast", "a storm coast")

	gate := engine.NewGate(1)
	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	fake := &fakeEngine{err: errors.New("engine crashed")}
	handler := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), fake, objects, gate, &stubNotifier{})

	if err := handler.Execute(context.Background(), run); err == nil {
		t.Fatal("expected failure")
	}
	if gate.InUse() != 0 {
		t.Fatalf("gate slot leaked: %d in use", gate.InUse())
	}
}

func TestGeneratorHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenRunStore(t, cfg)
	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)

	healthy := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), &fakeEngine{}, objects, nil, &stubNotifier{})
	if health := healthy.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy stage, got %+v", health)
	}

	noClient := panorama.NewGeneratorWithDependencies(cfg, store, logging.NewNop(), nil, objects, nil, &stubNotifier{})
	if health := noClient.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy stage without engine client")
	}
}

func TestGeneratorWithoutBinaryFailsConfiguration(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Engine.Binary = ""
	store := testsupport.MustOpenRunStore(t, cfg)
	run := testsupport.SeedRun(t, store, "no-binary", "a prompt with no engine")

	objects := storage.NewMemoryStore(cfg.Storage.Bucket, cfg.Storage.RootPrefix)
	handler := panorama.NewGenerator(cfg, store, logging.NewNop(), objects, engine.NewGate(1))

	err := handler.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration failure, got %v", err)
	}
	if health := handler.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy stage without engine binary")
	}
}

func readManifest(t *testing.T, objects storage.Store, theme string, st storage.Stage, name string) manifest.Manifest {
	t.Helper()
	rc, err := objects.Get(context.Background(), theme, st, name)
	if err != nil {
		t.Fatalf("Get %s: %v", name, err)
	}
	defer rc.Close()
	doc, err := manifest.Decode(rc)
	if err != nil {
		t.Fatalf("Decode %s: %v", name, err)
	}
	return doc
}

type fakeEngine struct {
	prompt     string
	seed       int64
	err        error
	skipOutput bool
	progress   []engine.ProgressUpdate
}

func (f *fakeEngine) GeneratePanorama(ctx context.Context, req engine.PanoramaRequest, progress func(engine.ProgressUpdate)) error {
	f.prompt = req.Prompt
	f.seed = req.Seed
	for _, update := range f.progress {
		if progress != nil {
			progress(update)
		}
	}
	if f.err != nil {
		return f.err
	}
	if f.skipOutput {
		return nil
	}
	return os.WriteFile(filepath.Join(req.OutputDir, engine.PanoramaFileName), []byte("png"), 0o644)
}

func (f *fakeEngine) Decompose(ctx context.Context, req engine.DecomposeRequest, progress func(engine.ProgressUpdate)) error {
	return errors.New("not expected in panorama tests")
}

func (f *fakeEngine) Compose(ctx context.Context, req engine.ComposeRequest, progress func(engine.ProgressUpdate)) error {
	return errors.New("not expected in panorama tests")
}

type recordingStore struct {
	storage.Store
	puts []string
}

func (r *recordingStore) Put(ctx context.Context, theme string, stage storage.Stage, name string, reader io.Reader, size int64) (storage.Locator, error) {
	loc, err := r.Store.Put(ctx, theme, stage, name, reader, size)
	if err == nil {
		r.puts = append(r.puts, name)
	}
	return loc, err
}

type stubNotifier struct {
	starts      []string
	panoramas   []string
	layerCounts []int
	worlds      []string
	failures    []string
}

func (s *stubNotifier) NotifyRunStarted(ctx context.Context, theme, prompt string) error {
	s.starts = append(s.starts, theme)
	return nil
}

func (s *stubNotifier) NotifyPanoramaCompleted(ctx context.Context, theme string) error {
	s.panoramas = append(s.panoramas, theme)
	return nil
}

func (s *stubNotifier) NotifyDecompositionCompleted(ctx context.Context, theme string, layers int) error {
	s.layerCounts = append(s.layerCounts, layers)
	return nil
}

func (s *stubNotifier) NotifyWorldRegistered(ctx context.Context, theme, worldID string) error {
	s.worlds = append(s.worlds, worldID)
	return nil
}

func (s *stubNotifier) NotifyBacklogStarted(ctx context.Context, count int) error { return nil }

func (s *stubNotifier) NotifyBacklogCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	return nil
}

func (s *stubNotifier) NotifyError(ctx context.Context, err error, context string) error {
	s.failures = append(s.failures, context)
	return nil
}

func (s *stubNotifier) TestNotification(ctx context.Context) error { return nil }
