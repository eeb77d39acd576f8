package conductor

import (
	"context"
	"sync"
)

// mockLogger satisfies Logger for tests without producing output.
type mockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *mockLogger) log(msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Info(msg string, args ...any)  { l.log(msg) }
func (l *mockLogger) Error(msg string, args ...any) { l.log(msg) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.log(msg) }
func (l *mockLogger) Debug(msg string, args ...any) { l.log(msg) }

// callRecorder collects lifecycle phase calls across modules so tests can
// assert ordering.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *callRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// testModule is a configurable module used across lifecycle and registry
// tests. It implements every optional lifecycle interface.
type testModule struct {
	id       string
	deps     []string
	recorder *callRecorder

	initErr  error
	startErr error
	stopErr  error
}

func (m *testModule) ID() string      { return m.id }
func (m *testModule) Name() string    { return "test module " + m.id }
func (m *testModule) Version() string { return "1.0.0" }

func (m *testModule) Dependencies() []string { return m.deps }

func (m *testModule) Init(ctx context.Context, container *DependencyContainer) error {
	if m.recorder != nil {
		m.recorder.record("init:" + m.id)
	}
	return m.initErr
}

func (m *testModule) Start(ctx context.Context) error {
	if m.recorder != nil {
		m.recorder.record("start:" + m.id)
	}
	return m.startErr
}

func (m *testModule) Stop(ctx context.Context) error {
	if m.recorder != nil {
		m.recorder.record("stop:" + m.id)
	}
	return m.stopErr
}

func (m *testModule) Shutdown(ctx context.Context) error {
	if m.recorder != nil {
		m.recorder.record("shutdown:" + m.id)
	}
	return nil
}
