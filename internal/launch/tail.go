package launch

import "sync"

// TailBuffer keeps the last max bytes written to it.
// It always reports success so pipes keep draining.
type TailBuffer struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

// NewTailBuffer creates a buffer holding at most limit bytes.
func NewTailBuffer(limit int) *TailBuffer {
	if limit < 0 {
		limit = 0
	}
	return &TailBuffer{max: limit}
}

func (tb *TailBuffer) Write(p []byte) (int, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.max == 0 {
		tb.truncated = tb.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) >= tb.max {
		tb.buf = append(tb.buf[:0], p[len(p)-tb.max:]...)
		tb.truncated = true
		return len(p), nil
	}
	tb.buf = append(tb.buf, p...)
	if over := len(tb.buf) - tb.max; over > 0 {
		tb.buf = append(tb.buf[:0], tb.buf[over:]...)
		tb.truncated = true
	}
	return len(p), nil
}

// String returns the retained tail.
func (tb *TailBuffer) String() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return string(tb.buf)
}

// Truncated reports whether older output was dropped.
func (tb *TailBuffer) Truncated() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.truncated
}
