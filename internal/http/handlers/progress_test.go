package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
)

// sequenceBackend reports not-ready a fixed number of times before the
// terminal result.
type sequenceBackend struct {
	mu       sync.Mutex
	notReady int
	fail     error
	calls    int
}

func (b *sequenceBackend) Submit(context.Context, []byte) (domain.Handle, error) {
	return "job-1", nil
}

func (b *sequenceBackend) FetchResult(context.Context, domain.Handle) (*domain.ResultPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.notReady {
		return nil, domain.ErrNotReady
	}
	if b.fail != nil {
		return nil, b.fail
	}
	return &domain.ResultPayload{Status: "COMPLETED"}, nil
}

func (b *sequenceBackend) FetchBytes(context.Context, domain.ImageRef) ([]byte, error) {
	return nil, nil
}

func dialProgress(t *testing.T, app *App) *websocket.Conn {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/ws/{id}", app.Progress)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/job-1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil) //nolint:bodyclose
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn) []domain.ProgressEvent {
	t.Helper()
	var frames []domain.ProgressEvent
	for {
		var event domain.ProgressEvent
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&event); err != nil {
			return frames
		}
		frames = append(frames, event)
		if event.Terminal() {
			return frames
		}
	}
}

func TestProgressStreamsUntilCompleted(t *testing.T) {
	app := newTestApp(&fakeExecutor{})
	app.Backend = &sequenceBackend{notReady: 2}

	frames := readFrames(t, dialProgress(t, app))
	if len(frames) != 3 {
		t.Fatalf("frames = %d (%+v), want 3", len(frames), frames)
	}
	for _, frame := range frames[:2] {
		if frame.Stage != domain.StageExecuting {
			t.Fatalf("stage = %s, want executing", frame.Stage)
		}
	}
	if frames[2].Stage != domain.StageCompleted {
		t.Fatalf("last stage = %s, want completed", frames[2].Stage)
	}
}

func TestProgressStreamsFailure(t *testing.T) {
	app := newTestApp(&fakeExecutor{})
	app.Backend = &sequenceBackend{fail: domain.Ef(domain.KindBackendFailure, "job failed")}

	frames := readFrames(t, dialProgress(t, app))
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}
	if frames[0].Stage != domain.StageFailed || frames[0].Message == "" {
		t.Fatalf("frame = %+v", frames[0])
	}
}
