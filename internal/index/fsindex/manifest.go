package fsindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestName is the file an indexer writes (atomically, via rename) into a
// source directory to publish a new index generation.
const ManifestName = "MANIFEST.json"

var (
	// ErrNoManifest means the source directory exists but holds no manifest —
	// either the path is wrong or the indexer has not published yet.
	ErrNoManifest = errors.New("index manifest not found")
)

// manifest is the on-disk contract between the indexer and this engine.
// Keep it tiny and explicit; validation happens in validate().
type manifest struct {
	Generation uint64    `json:"generation"`
	DocCount   int       `json:"doc_count"`
	CreatedAt  time.Time `json:"created_at"`
	Segments   []segment `json:"segments"`
}

type segment struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// loadManifest reads and validates MANIFEST.json from dir.
func loadManifest(dir string) (*manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNoManifest)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// validate enforces the structural rules an indexer must honor: a positive
// generation and bare segment file names (no path traversal into or out of
// the source directory).
func (m *manifest) validate() error {
	if m.Generation == 0 {
		return errors.New("generation must be > 0")
	}
	if m.DocCount < 0 {
		return fmt.Errorf("negative doc_count: %d", m.DocCount)
	}
	seen := make(map[string]struct{}, len(m.Segments))
	for _, seg := range m.Segments {
		if seg.Name == "" || seg.Name != filepath.Base(seg.Name) {
			return fmt.Errorf("segment name %q is not a bare file name", seg.Name)
		}
		if seg.Bytes < 0 {
			return fmt.Errorf("segment %q: negative size", seg.Name)
		}
		if _, dup := seen[seg.Name]; dup {
			return fmt.Errorf("segment %q listed twice", seg.Name)
		}
		seen[seg.Name] = struct{}{}
	}
	return nil
}
