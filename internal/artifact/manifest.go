// Package artifact describes and packages the files a run produces.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"

	"regshots/internal/recording"
)

// Entry describes one produced file.
type Entry struct {
	Name    string    `json:"name"`
	Step    string    `json:"step,omitempty"`
	Size    int64     `json:"size"`
	SHA256  string    `json:"sha256"`
	ModTime time.Time `json:"modTime"`
}

// Manifest lists the screenshots of one run.
type Manifest struct {
	RunID       string             `json:"runId"`
	PreviousRun string             `json:"previousRunId,omitempty"`
	TestName    string             `json:"testName"`
	CreatedAt   time.Time          `json:"createdAt"`
	Recording   *recording.Summary `json:"recording,omitempty"`
	Screenshots []Entry            `json:"screenshots"`
}

// Describe stats and hashes path. The entry name is the base name.
func Describe(path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Entry{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return Entry{
		Name:    filepath.Base(path),
		Size:    info.Size(),
		SHA256:  hex.EncodeToString(h.Sum(nil)),
		ModTime: info.ModTime().UTC(),
	}, nil
}

// WriteManifest writes m as indented JSON to path, replacing any previous
// manifest atomically.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	data = append(data, '\n')
	if err := atomicwriter.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}
