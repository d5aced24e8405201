package manager

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loykin/launchr/internal/ollama"
	"github.com/loykin/launchr/internal/process"
	"github.com/loykin/launchr/internal/status"
)

type fakeService struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeService) EnsureRunning(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeModels struct{ present map[string]bool }

func (f fakeModels) HasModel(_ context.Context, id string) bool { return f.present[id] }

type fakeFetcher struct {
	mu    sync.Mutex
	pulls []string
	fail  map[string]bool
}

func (f *fakeFetcher) Pull(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, id)
	if f.fail[id] {
		return &ollama.PullError{Model: id, Status: 500, Err: errors.New("unexpected status 500")}
	}
	return nil
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls)
}

type fakeLauncher struct {
	h     *process.Handle
	err   error
	calls int
}

func (f *fakeLauncher) Launch(context.Context) (*process.Handle, error) {
	f.calls++
	return f.h, f.err
}

// scriptedProber returns results in order, then repeats the last one.
type scriptedProber struct {
	mu      sync.Mutex
	results []probeResult
	calls   int
}

type probeResult struct {
	ok  bool
	err error
}

func (p *scriptedProber) Probe(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return false, errors.New("connection refused")
	}
	i := p.calls - 1
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i].ok, p.results[i].err
}

func (p *scriptedProber) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// stageLog records every distinct stage the store passes through.
type stageLog struct {
	mu     sync.Mutex
	stages []status.Stage
}

func watchStages(st *status.Store) *stageLog {
	l := &stageLog{stages: []status.Stage{st.Snapshot().Stage}}
	st.Observe(func(_, to status.Stage) {
		l.mu.Lock()
		l.stages = append(l.stages, to)
		l.mu.Unlock()
	})
	return l
}

func (l *stageLog) get() []status.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]status.Stage(nil), l.stages...)
}

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

func testLogger() (*slog.Logger, *syncBuffer) {
	b := &syncBuffer{}
	return slog.New(slog.NewTextHandler(b, &slog.HandlerOptions{Level: slog.LevelDebug})), b
}

type fixture struct {
	service  *fakeService
	models   fakeModels
	fetcher  *fakeFetcher
	launcher *fakeLauncher
	prober   *scriptedProber
	sleeper  *sleepRecorder
	store    *status.Store
	log      *syncBuffer
}

func newFixture() *fixture {
	return &fixture{
		service:  &fakeService{},
		models:   fakeModels{present: map[string]bool{}},
		fetcher:  &fakeFetcher{fail: map[string]bool{}},
		launcher: &fakeLauncher{},
		prober:   &scriptedProber{results: []probeResult{{ok: true}}},
		sleeper:  &sleepRecorder{},
		store:    status.New(),
	}
}

func (f *fixture) options() Options {
	logger, buf := testLogger()
	f.log = buf
	return Options{
		Service:      f.service,
		Models:       f.models,
		Fetcher:      f.fetcher,
		Requirements: ollama.DefaultRequirements,
		Launcher:     f.launcher,
		Prober:       f.prober,
		Sleep:        f.sleeper.sleep,
		Store:        f.store,
		Logger:       logger,
	}
}

func runToEnd(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("sequence did not finish, status=%+v", m.Status())
	}
	return m
}
