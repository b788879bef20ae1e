package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/ollamachat/internal/history"
	"github.com/comigor/ollamachat/internal/llm"
)

// step is one Recv result of a scripted stream. A blocking step waits for
// cancellation.
type step struct {
	delta string
	err   error
	block bool
}

type mockClient struct {
	mu        sync.Mutex
	scripts   [][]step
	fallback  []step
	openErr   error
	requests  []llm.ChatRequest
	models    []string
	modelsErr error
}

func (m *mockClient) ChatStream(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.openErr != nil {
		return nil, m.openErr
	}
	script := m.fallback
	if len(m.scripts) > 0 {
		script, m.scripts = m.scripts[0], m.scripts[1:]
	}
	return &mockStream{ctx: ctx, steps: script}, nil
}

func (m *mockClient) ListModels(ctx context.Context) ([]string, error) {
	return m.models, m.modelsErr
}

func (m *mockClient) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ChatRequest(nil), m.requests...)
}

type mockStream struct {
	ctx   context.Context
	steps []step
	i     int
}

func (s *mockStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.i >= len(s.steps) {
		return "", io.EOF
	}
	st := s.steps[s.i]
	s.i++
	if st.block {
		<-s.ctx.Done()
		return "", s.ctx.Err()
	}
	if st.err != nil {
		return "", st.err
	}
	return st.delta, nil
}

func (s *mockStream) Close() error { return nil }

// failingStore rejects inserts.
type failingStore struct {
	Store
}

func (failingStore) InsertTurn(context.Context, history.NewTurn) (history.Turn, error) {
	return history.Turn{}, errors.New("disk full")
}

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(context.Background(), filepath.Join(t.TempDir(), "chat.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var frozen = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCoordinator(client llm.Client, store Store) *Coordinator {
	c := New(client, store, Settings{
		BaseURL:     "http://ollama.test",
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		Model:       "llama",
	}, "group-1")
	c.now = func() time.Time { return frozen }
	return c
}

// recorder collects events and signals every delta.
type recorder struct {
	mu     sync.Mutex
	events []Event
	deltas chan string
}

func newRecorder(c *Coordinator) *recorder {
	r := &recorder{deltas: make(chan string, 64)}
	c.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		if ev.Kind == EventDelta {
			select {
			case r.deltas <- ev.Text:
			default:
			}
		}
	})
	return r
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) texts(kind EventKind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.Text)
		}
	}
	return out
}

func waitDelta(t *testing.T, r *recorder) string {
	t.Helper()
	select {
	case d := <-r.deltas:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("no delta observed")
		return ""
	}
}

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		img.Set(x, x%30, color.RGBA{R: 200, G: uint8(x), B: 10, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
