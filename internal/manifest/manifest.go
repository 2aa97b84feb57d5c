// Package manifest defines the per-stage completion documents the pipeline
// publishes alongside its artifacts. A manifest is always the last object a
// stage writes, so its presence implies every artifact it names is already
// durable.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"worldsmith/internal/services"
)

// Artifact names for the per-stage manifests.
const (
	PanoramaName      = "panorama.json"
	DecompositionName = "decomposition.json"
	WorldName         = "world.json"
)

// Manifest records what a stage produced and the parameters that produced
// it. Downstream stages read it instead of re-deriving generation inputs.
type Manifest struct {
	Theme     string    `json:"theme"`
	Prompt    string    `json:"prompt,omitempty"`
	Classes   string    `json:"classes,omitempty"`
	Seed      int64     `json:"seed"`
	LabelsFG1 []string  `json:"labels_fg1,omitempty"`
	LabelsFG2 []string  `json:"labels_fg2,omitempty"`
	Panorama  string    `json:"panorama,omitempty"`
	Layers    []string  `json:"layers,omitempty"`
	Meshes    []string  `json:"meshes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Decode reads one manifest document from r.
func Decode(r io.Reader) (Manifest, error) {
	var m Manifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Encode writes the manifest as indented JSON.
func (m Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// WriteFile persists the manifest at path.
func (m Manifest) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create manifest %s: %w", path, err)
	}
	defer f.Close()
	if err := m.Encode(f); err != nil {
		return err
	}
	return f.Close()
}

// ReadFile loads a manifest from path.
func ReadFile(path string) (Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}

type fieldCheck struct {
	field string
	ok    bool
}

// ValidatePanorama checks the fields the panorama stage must publish.
func (m Manifest) ValidatePanorama() error {
	return m.require(PanoramaName,
		fieldCheck{"theme", m.Theme != ""},
		fieldCheck{"prompt", m.Prompt != ""},
		fieldCheck{"panorama", m.Panorama != ""},
	)
}

// ValidateDecomposition checks the fields the decomposition stage must
// publish before composition can run.
func (m Manifest) ValidateDecomposition() error {
	return m.require(DecompositionName,
		fieldCheck{"theme", m.Theme != ""},
		fieldCheck{"panorama", m.Panorama != ""},
		fieldCheck{"layers", len(m.Layers) > 0},
	)
}

// ValidateWorld checks the fields the composition stage must publish before
// the world can be registered.
func (m Manifest) ValidateWorld() error {
	return m.require(WorldName,
		fieldCheck{"theme", m.Theme != ""},
		fieldCheck{"meshes", len(m.Meshes) > 0},
	)
}

func (m Manifest) require(name string, checks ...fieldCheck) error {
	for _, c := range checks {
		if !c.ok {
			return services.Wrap(services.ErrMissingInput, "manifest", name, "field "+c.field+" empty", nil)
		}
	}
	return nil
}
