package logship_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/logship/pkg/logship"
)

type ingest struct {
	mu      sync.Mutex
	events  []json.RawMessage
	headers []http.Header
	status  int
}

func (s *ingest) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}
	var doc struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.events = append(s.events, doc.Events...)
	s.headers = append(s.headers, r.Header.Clone())
	w.WriteHeader(http.StatusAccepted)
}

func (s *ingest) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newIngest(t *testing.T) (*ingest, *httptest.Server) {
	t.Helper()
	in := &ingest{}
	ts := httptest.NewServer(http.HandlerFunc(in.handler))
	t.Cleanup(ts.Close)
	return in, ts
}

type recordingHandler struct {
	logship.BaseEventHandler
	mu     sync.Mutex
	states []logship.State
	sent   int
	errors int
}

func (h *recordingHandler) OnStateChange(e logship.StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, e.Current)
}

func (h *recordingHandler) OnSendSuccess(e logship.SendSuccessEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent += e.MessageCount
}

func (h *recordingHandler) OnSendError(logship.SendErrorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors++
}

func (h *recordingHandler) snapshot() ([]logship.State, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]logship.State(nil), h.states...), h.sent, h.errors
}

func TestLogship_OnceShipsFileAndStops(t *testing.T) {
	in, ts := newIngest(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"n\":1}\nplain line\n{\"n\":3}\n"), 0o644))

	handler := &recordingHandler{}
	l, err := logship.New(logship.Config{
		Path:         path,
		Format:       "json",
		ServiceURL:   ts.URL,
		AuthKey:      "secret",
		Hostname:     "host-1",
		Once:         true,
		SendInterval: 10 * time.Millisecond,
	}, logship.WithEventHandler(handler))
	require.NoError(t, err)

	require.NoError(t, l.Start(context.Background()))
	require.Eventually(t, func() bool { return l.Status() == logship.StateStopped },
		5*time.Second, 10*time.Millisecond)

	require.Equal(t, 3, in.count())
	in.mu.Lock()
	require.JSONEq(t, `{"n":1}`, string(in.events[0]))
	var wrapped struct {
		Message string `json:"message"`
		Host    string `json:"host"`
	}
	require.NoError(t, json.Unmarshal(in.events[1], &wrapped))
	require.Equal(t, "plain line", wrapped.Message)
	require.Equal(t, "host-1", wrapped.Host)
	require.Equal(t, "Bearer secret", in.headers[0].Get("Authorization"))
	require.Equal(t, path, in.headers[0].Get("X-Logship-Source"))
	in.mu.Unlock()

	require.Eventually(t, func() bool {
		states, _, _ := handler.snapshot()
		return len(states) > 0 && states[len(states)-1] == logship.StateStopped
	}, time.Second, 5*time.Millisecond)
	_, sent, _ := handler.snapshot()
	require.Equal(t, 3, sent)
	require.Zero(t, l.Stats().QueueLength)

	_, err = os.Stat(filepath.Join(dir, ".logship", "checkpoint.json"))
	require.NoError(t, err, "checkpoint persisted next to the file")

	require.ErrorIs(t, l.Stop(), logship.ErrNotRunning)
}

func TestLogship_EnqueueAndStopFlushes(t *testing.T) {
	in, ts := newIngest(t)
	l, err := logship.New(logship.Config{
		ServiceURL:   ts.URL,
		SendInterval: time.Hour,
		MaxBatchAge:  time.Hour,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Enqueue(ctx, []byte(`"event"`)))
	}
	require.Equal(t, 0, in.count(), "nothing is due before Stop")

	require.NoError(t, l.Stop())
	require.Equal(t, logship.StateStopped, l.Status())
	require.Equal(t, 5, in.count())
	require.Zero(t, l.Stats().QueueLength)
}

func TestLogship_StopRightAfterStartFlushes(t *testing.T) {
	in, ts := newIngest(t)
	for round := 1; round <= 20; round++ {
		l, err := logship.New(logship.Config{
			ServiceURL:   ts.URL,
			SendInterval: time.Hour,
			MaxBatchAge:  time.Hour,
		})
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, l.Start(ctx))
		require.Equal(t, logship.StateRunning, l.Status(), "Start returns once running")
		for i := 0; i < 3; i++ {
			require.NoError(t, l.Enqueue(ctx, []byte(`"early"`)))
		}
		require.NoError(t, l.Stop())
		require.Equal(t, 3*round, in.count(), "round %d", round)
		require.Zero(t, l.Stats().QueueLength)
	}
}

func TestLogship_FailedSendsKeepMessages(t *testing.T) {
	in, ts := newIngest(t)
	in.status = http.StatusServiceUnavailable

	handler := &recordingHandler{}
	l, err := logship.New(logship.Config{
		ServiceURL:   ts.URL,
		SendInterval: 5 * time.Millisecond,
		MaxBatchAge:  time.Millisecond,
	}, logship.WithEventHandler(handler))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Enqueue(ctx, []byte(`"a"`)))
	require.NoError(t, l.Start(ctx))

	require.Eventually(t, func() bool {
		_, _, errs := handler.snapshot()
		return errs > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, l.Stats().QueueLength)

	in.mu.Lock()
	in.status = 0
	in.mu.Unlock()
	require.Eventually(t, func() bool { return in.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return l.Stats().QueueLength == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop())
}

func TestLogship_EnqueueHookAndLimits(t *testing.T) {
	l, err := logship.New(logship.Config{BufferSize: 4, MaxBuffersPerMessage: 2},
		logship.WithEnqueueHook(func(length, size int) bool { return length < 1 }))
	require.NoError(t, err)

	ctx := context.Background()
	require.ErrorIs(t, l.Enqueue(ctx, nil), logship.ErrEmptyMessage)
	require.ErrorIs(t, l.Enqueue(ctx, []byte("123456789")), logship.ErrMessageTooLarge)
	require.NoError(t, l.Enqueue(ctx, []byte("12345678")))
	require.ErrorIs(t, l.Enqueue(ctx, []byte("x")), logship.ErrEnqueueRejected)

	s := l.Stats()
	require.Equal(t, 1, s.QueueLength)
	require.Equal(t, 2, s.BuffersInUse)
}

func TestLogship_EnqueueHookReadsStats(t *testing.T) {
	var l *logship.Logship
	l, err := logship.New(logship.Config{},
		logship.WithEnqueueHook(func(length, size int) bool {
			return l.Stats().QueueLength < 2
		}))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx := context.Background()
		for _, m := range []string{`"a"`, `"b"`, `"c"`} {
			if err := l.Enqueue(ctx, []byte(m)); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, logship.ErrEnqueueRejected)
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked while the hook called Stats")
	}
	require.Equal(t, 2, l.Stats().QueueLength)
}

func TestLogship_Metrics(t *testing.T) {
	l, err := logship.New(logship.Config{})
	require.NoError(t, err)
	require.Nil(t, l.MetricsHandler())

	l, err = logship.New(logship.Config{}, logship.WithMetrics())
	require.NoError(t, err)
	require.NoError(t, l.Enqueue(context.Background(), []byte("m")))

	rec := httptest.NewRecorder()
	l.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "logship_messages_enqueued_total 1")
	require.Contains(t, body, "logship_queue_length 1")
}

func TestLogship_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  logship.Config
	}{
		{"unknown format", logship.Config{Path: "/x.log", Format: "xml"}},
		{"unknown framing", logship.Config{Framing: "csv"}},
		{"negative capacity", logship.Config{QueueCapacity: -1}},
		{"framing larger than batch", logship.Config{MaxBatchBytes: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := logship.New(tt.cfg)
			require.ErrorIs(t, err, logship.ErrInvalidConfig)
		})
	}
}

func TestLogship_StartTwice(t *testing.T) {
	l, err := logship.New(logship.Config{})
	require.NoError(t, err)
	require.ErrorIs(t, l.Stop(), logship.ErrNotRunning)

	require.NoError(t, l.Start(context.Background()))
	require.ErrorIs(t, l.Start(context.Background()), logship.ErrAlreadyRunning)
	require.NoError(t, l.Stop())

	require.NoError(t, l.Start(context.Background()), "a stopped instance can start again")
	require.NoError(t, l.Stop())
}

type orderPlugin struct {
	name    string
	log     *[]string
	mu      *sync.Mutex
	initErr error
	cfg     logship.PluginConfig
}

func (p *orderPlugin) Name() string { return p.name }

func (p *orderPlugin) Initialize(_ context.Context, cfg logship.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.log = append(*p.log, "init:"+p.name)
	p.cfg = cfg
	return p.initErr
}

func (p *orderPlugin) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.log = append(*p.log, "shutdown:"+p.name)
	return nil
}

func TestLogship_PluginOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	a := &orderPlugin{name: "a", log: &calls, mu: &mu}
	b := &orderPlugin{name: "b", log: &calls, mu: &mu}

	l, err := logship.New(logship.Config{Hostname: "h"}, logship.WithPlugin(a), logship.WithPlugin(b))
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))

	require.NoError(t, b.cfg.Emit(context.Background(), []byte("from plugin")))
	require.Equal(t, 1, l.Stats().QueueLength)
	require.Equal(t, "h", b.cfg.Hostname)

	require.NoError(t, l.Stop())
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"init:a", "init:b", "shutdown:b", "shutdown:a"}, calls)
}

func TestLogship_PluginInitFailure(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	boom := errors.New("boom")
	a := &orderPlugin{name: "a", log: &calls, mu: &mu}
	b := &orderPlugin{name: "b", log: &calls, mu: &mu, initErr: boom}

	l, err := logship.New(logship.Config{}, logship.WithPlugin(a), logship.WithPlugin(b))
	require.NoError(t, err)

	require.ErrorIs(t, l.Start(context.Background()), boom)
	require.Equal(t, logship.StateCrashed, l.Status())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "init:a,init:b,shutdown:a", strings.Join(calls, ","))
}

func TestLogship_ResourceGateOption(t *testing.T) {
	in, ts := newIngest(t)
	l, err := logship.New(logship.Config{
		ServiceURL:       ts.URL,
		SendInterval:     5 * time.Millisecond,
		MaxBatchMessages: 1,
	}, logship.WithResourceGatingConfig(logship.DefaultResourceGatingConfig()))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Enqueue(ctx, []byte(`"gated"`)))
	require.Eventually(t, func() bool { return in.count() == 1 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, l.Stop())
}
