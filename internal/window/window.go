// Package window finds the viewer window on the X display and captures it.
package window

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"regshots/internal/launch"
	"regshots/internal/readiness"
)

// pngSignature is the 8-byte header every PNG file starts with.
var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ErrNotPNG is returned when a capture did not produce a PNG file.
var ErrNotPNG = errors.New("capture is not a png file")

// redirectVars are never passed to the display tools; they only make sense
// for the viewer.
var redirectVars = []string{"LD_PRELOAD", "FAKENECT_PATH"}

// Probe reports whether a window with an exact title is mapped.
type Probe interface {
	Exists(ctx context.Context, title string) (bool, error)
}

// Shooter writes a PNG of the window with the given title to dest.
type Shooter interface {
	Capture(ctx context.Context, title, dest string) error
}

// Visible is a readiness condition met once the window appears.
func Visible(p Probe, title string) readiness.Condition {
	return func(ctx context.Context) (bool, error) {
		return p.Exists(ctx, title)
	}
}

// XProbe looks windows up with xwininfo.
type XProbe struct {
	Bin string
}

// NewXProbe creates a probe running bin (default "xwininfo").
func NewXProbe(bin string) *XProbe {
	if bin == "" {
		bin = "xwininfo"
	}
	return &XProbe{Bin: bin}
}

// Exists runs `xwininfo -name <title>`. A non-zero exit means no such window.
func (p *XProbe) Exists(ctx context.Context, title string) (bool, error) {
	_, err := run(ctx, p.Bin, "-name", title)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("window probe %s: %w", p.Bin, err)
}

// ImportShooter captures windows with ImageMagick's import.
type ImportShooter struct {
	Bin string
}

// NewImportShooter creates a shooter running bin (default "import").
func NewImportShooter(bin string) *ImportShooter {
	if bin == "" {
		bin = "import"
	}
	return &ImportShooter{Bin: bin}
}

// Capture runs `import -window <title> <dest>` and checks the result is a PNG.
// An existing dest is removed first so a stale file from an earlier run
// cannot pass verification.
func (s *ImportShooter) Capture(ctx context.Context, title, dest string) error {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove previous screenshot: %w", err)
	}

	out, err := run(ctx, s.Bin, "-window", title, dest)
	if err != nil {
		if msg := strings.TrimSpace(out); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", s.Bin, err, msg)
		}
		return fmt.Errorf("%s failed: %w", s.Bin, err)
	}
	return VerifyPNG(dest)
}

// VerifyPNG checks that path exists, is non-empty, and carries the PNG signature.
func VerifyPNG(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("screenshot missing: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(pngSignature))
	n, _ := f.Read(header)
	if n < len(pngSignature) || !bytes.Equal(header, pngSignature) {
		return fmt.Errorf("%w: %s", ErrNotPNG, path)
	}
	return nil
}

func run(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = launch.ScopedEnv(os.Environ(), redirectVars, nil)
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
