package logger

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func capture(t *testing.T, lvl string) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	SetOutput(buf)
	SetLevel(lvl)
	t.Cleanup(func() {
		Flush()
		SetPrefix("")
		SetLevel("info")
	})
	return buf
}

func TestLevelsAndPrefix(t *testing.T) {
	buf := capture(t, "info")
	SetPrefix("cli")

	Infof("hello %d", 1)
	Debugf("hidden")
	Errorf("bad %s", "thing")
	Flush()

	out := buf.String()
	assert.Contains(t, out, "[cli] hello 1")
	assert.Contains(t, out, "[cli] ERROR: bad thing")
	assert.NotContains(t, out, "hidden")
}

func TestErrorLevelHidesInfo(t *testing.T) {
	buf := capture(t, "error")
	Info("quiet")
	Error("loud")
	Flush()

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "ERROR: loud")
}

func TestLogDuration(t *testing.T) {
	buf := capture(t, "info")
	LogDuration("fast", time.Now())
	LogDuration("slow", time.Now().Add(-time.Second))
	Flush()
	assert.NotContains(t, buf.String(), "fn=fast")
	assert.Contains(t, buf.String(), "fn=slow duration_ms=")

	SetLevel("debug")
	DeferLogDuration("traced", time.Now())()
	Flush()
	assert.Contains(t, buf.String(), "fn=traced")
}
