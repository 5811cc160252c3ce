// Package plan holds the fixed set of viewer captures a run performs and the
// naming rules for their outputs.
package plan

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"regshots/internal/apperrors"
)

// Viewer modes understood by the registration viewer.
const (
	ViewerOverlay = 2 // Registered depth drawn over the RGB image
	ViewerRGB     = 3 // RGB image only
)

// Mode is one capture sub-step.
type Mode struct {
	Name        string        // Step name used in logs, events and metrics
	Description string        // Progress line printed when the step starts
	Label       string        // Screenshot file label
	ViewerMode  int           // Numeric argument passed to the viewer
	Replay      bool          // Run against the recording through the shim
	PauseAfter  time.Duration // Idle time after the step, so the device is released
}

// Args returns the viewer's argument list for this mode.
func (m Mode) Args() []string {
	return []string{fmt.Sprint(m.ViewerMode)}
}

// Modes returns the three captures in execution order. The live capture is
// followed by pauseAfterLive.
func Modes(pauseAfterLive time.Duration) []Mode {
	return []Mode{
		{
			Name:        "live-overlay",
			Description: "starting fakenect_regview to get a depth overlay from a live kinect",
			Label:       "regdepth-on-rgb-overlay_live",
			ViewerMode:  ViewerOverlay,
			PauseAfter:  pauseAfterLive,
		},
		{
			Name:        "replay-overlay",
			Description: "starting fakenect_regview to get a depth overlay from prerecorded test via fakenect",
			Label:       "regdepth-on-rgb-overlay_fakenect",
			ViewerMode:  ViewerOverlay,
			Replay:      true,
		},
		{
			// Replays the recording despite the label; the file name is kept
			// so existing screenshot sets stay comparable.
			Name:        "replay-rgb",
			Description: "starting fakenect_regview to get an rgb image from prerecorded test via fakenect",
			Label:       "rgb_live",
			ViewerMode:  ViewerRGB,
			Replay:      true,
		},
	}
}

// RecordStep is the name of the recording step.
const RecordStep = "record"

// RecordDescription is the progress line for the recording step.
func RecordDescription(recordingPath string) string {
	return "recording a short capture into " + recordingPath
}

// ScreenshotName returns the file name for a test name and label.
func ScreenshotName(testName, label string) string {
	return "screenshot_" + testName + "_" + label + ".png"
}

// ScreenshotPath returns the screenshot location inside outputDir.
func ScreenshotPath(outputDir, testName, label string) string {
	return filepath.Join(outputDir, ScreenshotName(testName, label))
}

// ManifestPath returns the manifest location inside outputDir.
func ManifestPath(outputDir, testName string) string {
	return filepath.Join(outputDir, "manifest_"+testName+".json")
}

// ArchivePath returns where the optional archive of outputDir is written.
// It sits next to outputDir so the archive never contains itself.
func ArchivePath(outputDir, testName string) string {
	clean := filepath.Clean(outputDir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+"_"+testName+".tar.gz")
}

// LockPath returns the run lock file for a test name.
func LockPath(outputDir, testName string) string {
	return filepath.Join(outputDir, "."+testName+".lock")
}

// ValidateTestName rejects names that cannot be used as a single path component.
func ValidateTestName(name string) error {
	switch {
	case name == "":
		return apperrors.Validation("testName", "test name must not be empty")
	case name == "." || name == "..":
		return apperrors.Validation("testName", fmt.Sprintf("test name %q is not a valid file name", name))
	case strings.ContainsAny(name, "/\x00") || strings.ContainsRune(name, filepath.Separator):
		return apperrors.Validation("testName", fmt.Sprintf("test name %q must not contain path separators or NUL", name))
	}
	return nil
}
