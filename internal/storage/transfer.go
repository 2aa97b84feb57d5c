package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// FetchFile downloads one artifact into destDir and returns the local path.
// Nested artifact names create the intermediate directories.
func FetchFile(ctx context.Context, store Store, theme string, stage Stage, name, destDir string) (string, error) {
	rc, err := store.Get(ctx, theme, stage, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dest := filepath.Join(destDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create dir for %s: %w", name, err)
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

// FetchStage downloads every artifact under the stage namespace into destDir
// and returns how many landed. An empty namespace yields zero without error;
// callers decide whether that is fatal.
func FetchStage(ctx context.Context, store Store, theme string, stage Stage, destDir string) (int, error) {
	objects, err := store.List(ctx, theme, stage)
	if err != nil {
		return 0, err
	}
	for _, obj := range objects {
		if _, err := FetchFile(ctx, store, theme, stage, obj.Name, destDir); err != nil {
			return 0, err
		}
	}
	return len(objects), nil
}

// UploadFile publishes one local file under the given artifact name and
// returns its locator.
func UploadFile(ctx context.Context, store Store, theme string, stage Stage, name, path string) (Locator, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	return store.Put(ctx, theme, stage, name, in, info.Size())
}

// UploadDir publishes every regular file under dir, keyed by its path
// relative to dir. Names listed in skip are left for the caller to publish
// separately, which lets completion markers land after the artifacts they
// describe.
func UploadDir(ctx context.Context, store Store, theme string, stage Stage, dir string, skip ...string) ([]ObjectInfo, error) {
	var uploaded []ObjectInfo
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if slices.Contains(skip, name) {
			return nil
		}
		loc, err := UploadFile(ctx, store, theme, stage, name, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		uploaded = append(uploaded, ObjectInfo{Name: name, Size: info.Size(), Locator: loc})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", dir, err)
	}
	return uploaded, nil
}
