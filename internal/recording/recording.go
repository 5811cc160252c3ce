// Package recording reads fakenect capture directories.
//
// A capture is a directory holding INDEX.txt plus one file per frame. Each
// index line names a frame file as <type>-<time>-<timestamp>-<rest>, where
// type is 'd' (depth), 'r' (rgb) or 'a' (accelerometer), time is the host
// wall clock in seconds and timestamp is the device clock.
package recording

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"regshots/internal/readiness"
)

// IndexFile is the name of the frame index inside a capture directory.
const IndexFile = "INDEX.txt"

// FrameType identifies what a frame holds.
type FrameType byte

const (
	Depth FrameType = 'd'
	RGB   FrameType = 'r'
	Accel FrameType = 'a'
)

func (t FrameType) String() string {
	switch t {
	case Depth:
		return "depth"
	case RGB:
		return "rgb"
	case Accel:
		return "accel"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// Frame is one parsed index line.
type Frame struct {
	Type      FrameType
	Time      float64 // Host wall clock, seconds
	Timestamp uint32  // Device clock
	File      string  // File name relative to the capture directory
}

// Summary describes a capture.
type Summary struct {
	Path     string        `json:"path"`
	Frames   int           `json:"frames"`
	Depth    int           `json:"depth"`
	RGB      int           `json:"rgb"`
	Accel    int           `json:"accel"`
	Duration time.Duration `json:"duration"`
}

// Errors returned by Validate and Inspect.
var (
	ErrNoIndex      = errors.New("recording has no " + IndexFile)
	ErrEmptyIndex   = errors.New("recording index is empty")
	ErrMissingFrame = errors.New("recording references a missing frame file")
)

// ParseError reports a malformed index line.
type ParseError struct {
	Line int
	Text string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d %q: %s", IndexFile, e.Line, e.Text, e.Msg)
}

// Path returns the capture directory for a test name.
func Path(root, testName string) string {
	return filepath.Join(root, testName)
}

// ParseLine parses a single index line.
func ParseLine(line string) (Frame, error) {
	parts := strings.SplitN(line, "-", 4)
	if len(parts) < 3 || len(parts[0]) != 1 {
		return Frame{}, errors.New("expected <type>-<time>-<timestamp>-<name>")
	}

	f := Frame{Type: FrameType(parts[0][0]), File: line}
	switch f.Type {
	case Depth, RGB, Accel:
	default:
		return Frame{}, fmt.Errorf("unknown frame type %q", parts[0])
	}

	t, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid time %q", parts[1])
	}
	f.Time = t

	ts, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid timestamp %q", parts[2])
	}
	f.Timestamp = uint32(ts)

	return f, nil
}

// ParseIndex parses every non-blank line of an index.
func ParseIndex(r io.Reader) ([]Frame, error) {
	var frames []Frame
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		f, err := ParseLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Msg: err.Error()}
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// Inspect parses the index in dir and summarizes it.
func Inspect(dir string) (Summary, []Frame, error) {
	s := Summary{Path: dir}

	f, err := os.Open(filepath.Join(dir, IndexFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil, ErrNoIndex
		}
		return s, nil, err
	}
	defer f.Close()

	frames, err := ParseIndex(f)
	if err != nil {
		return s, nil, err
	}

	s.Frames = len(frames)
	for i, fr := range frames {
		switch fr.Type {
		case Depth:
			s.Depth++
		case RGB:
			s.RGB++
		case Accel:
			s.Accel++
		}
		if i > 0 {
			if d := fr.Time - frames[0].Time; d > 0 {
				s.Duration = time.Duration(d * float64(time.Second))
			}
		}
	}
	return s, frames, nil
}

// Validate checks that dir holds a replayable capture: a non-empty index
// whose every referenced frame file exists.
func Validate(dir string) (Summary, error) {
	s, frames, err := Inspect(dir)
	if err != nil {
		return s, err
	}
	if len(frames) == 0 {
		return s, ErrEmptyIndex
	}
	for _, fr := range frames {
		if _, err := os.Stat(filepath.Join(dir, fr.File)); err != nil {
			return s, fmt.Errorf("%w: %s", ErrMissingFrame, fr.File)
		}
	}
	return s, nil
}

// Started is a readiness condition met once the recorder has written its
// index at or after since. An index left over from an earlier capture into
// the same directory does not count.
func Started(dir string, since time.Time) readiness.Condition {
	path := filepath.Join(dir, IndexFile)
	return func(ctx context.Context) (bool, error) {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
		return !info.ModTime().Before(since.Truncate(time.Second)), nil
	}
}

// SetAside renames an existing capture at dir to dir.<unix-seconds> so the
// recorder, which refuses to write over an index, can start fresh. It returns
// the new location, or "" when dir holds no capture.
func SetAside(dir string, now time.Time) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, IndexFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	base := fmt.Sprintf("%s.%d", filepath.Clean(dir), now.Unix())
	dest := base
	for i := 1; ; i++ {
		if _, err := os.Lstat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = fmt.Sprintf("%s-%d", base, i)
	}
	if err := os.Rename(dir, dest); err != nil {
		return "", fmt.Errorf("failed to move previous recording aside: %w", err)
	}
	return dest, nil
}
