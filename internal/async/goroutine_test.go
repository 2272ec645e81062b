package async

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, format)
}

func TestGoRecoversPanic(t *testing.T) {
	logger := &recordingLogger{}
	done := make(chan struct{})

	Go(logger, "exploder", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.lines) != 1 || !strings.Contains(logger.lines[0], "panic") {
		t.Fatalf("expected one panic report, got %v", logger.lines)
	}
}

func TestGoRunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "worker", func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function did not run")
	}
}

func TestRecoverToleratesNilLogger(t *testing.T) {
	done := make(chan struct{})
	Go(nil, "quiet", func() {
		defer close(done)
		panic("still recovered")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic with nil logger was not recovered")
	}
}

func TestJoinTimeout(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if !JoinTimeout(done, time.Millisecond) {
		t.Fatal("closed channel must join immediately")
	}

	stuck := make(chan struct{})
	start := time.Now()
	if JoinTimeout(stuck, 20*time.Millisecond) {
		t.Fatal("open channel must time out")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("JoinTimeout returned before the budget elapsed")
	}
}
