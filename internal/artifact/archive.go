package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
)

// Archive writes a tar.gz of the files in srcDir to dest. Entries are stored
// under the base name of srcDir. Names matching any exclude pattern are left
// out. The archive is assembled in memory and committed with atomicwriter, so
// a failed run leaves any previous archive in place.
func Archive(srcDir, dest string, excludes []string) (int, error) {
	files, err := List(srcDir, excludes)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzWriter)
	prefix := filepath.Base(filepath.Clean(srcDir))

	for _, rel := range files {
		if err := archiveFile(tarWriter, filepath.Join(srcDir, rel), filepath.ToSlash(filepath.Join(prefix, rel))); err != nil {
			return 0, err
		}
	}
	if err := tarWriter.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish tar: %w", err)
	}
	if err := gzWriter.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish gzip: %w", err)
	}
	if err := atomicwriter.WriteFile(dest, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}

	slog.Debug("Archived files", "src", srcDir, "dest", dest, "count", len(files), "bytes", buf.Len())
	return len(files), nil
}

func archiveFile(tw *tar.Writer, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header: %w", err)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("failed to write file to tar: %w", err)
	}
	return nil
}

// List returns the regular files under dir, relative to dir and sorted,
// skipping names that match any exclude pattern.
func List(dir string, excludes []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if matchesAnyPattern(rel, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return files, nil
}

func matchesAnyPattern(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}
		if strings.HasPrefix(path, pattern+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
