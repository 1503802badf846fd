package http

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/service"
)

func TestSendStatus_SkipsUnchangedFragment(t *testing.T) {
	st := service.Status{State: domain.SessionStateRunning, SessionID: "s1", Progress: 40}

	first := httptest.NewRecorder()
	prev, err := sendStatus(first, st, "")
	require.NoError(t, err)
	assert.NotEmpty(t, prev)
	assert.Equal(t, 1, strings.Count(first.Body.String(), "event: status"))

	second := httptest.NewRecorder()
	same, err := sendStatus(second, st, prev)
	require.NoError(t, err)
	assert.Equal(t, prev, same)
	assert.Empty(t, second.Body.String())
}

func TestSendStatus_EmitsUpdatedFragment(t *testing.T) {
	running := service.Status{State: domain.SessionStateRunning, SessionID: "s1", Progress: 40}
	done := service.Status{State: domain.SessionStateIdle, LastOutcome: &domain.Outcome{SessionID: "s1", State: domain.SessionStateCompleted, OutputPath: "/out/a.webm"}}

	prev, err := sendStatus(httptest.NewRecorder(), running, "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	next, err := sendStatus(rec, done, prev)
	require.NoError(t, err)
	assert.NotEqual(t, prev, next)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: status"))
	assert.Contains(t, rec.Body.String(), "/sessions/s1/output")
}

func TestSSEWrite_MultiLineData(t *testing.T) {
	rec := httptest.NewRecorder()
	sseWrite(rec, "status", "<p>\nline two</p>")
	assert.Equal(t, "event: status\ndata: <p>\ndata: line two</p>\n\n", rec.Body.String())
}

func TestSendEvent_JSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, sendEvent(rec, service.Event{Type: service.EventTypeProgress, SessionID: "s1", Progress: 12.5}))
	assert.Equal(t, "event: progress\ndata: {\"type\":\"progress\",\"session_id\":\"s1\",\"progress\":12.5}\n\n", rec.Body.String())
}

type sseReader struct {
	sc *bufio.Scanner
}

// next returns the name and data of the next event, skipping comments.
func (r *sseReader) next(t *testing.T) (string, string) {
	t.Helper()
	var name string
	var data []string
	for r.sc.Scan() {
		line := r.sc.Text()
		switch {
		case line == "":
			if name != "" {
				return name, strings.Join(data, "\n")
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	t.Fatalf("stream ended: %v", r.sc.Err())
	return "", ""
}

func TestEvents_StreamsBusEvents(t *testing.T) {
	bus := service.NewEventBus()
	ctrl := newStubController()
	h := NewSSEHandler(bus, ctrl)
	srv := httptest.NewServer(h.Events())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	r := &sseReader{sc: bufio.NewScanner(resp.Body)}

	name, data := r.next(t)
	assert.Equal(t, "state", name)
	assert.Contains(t, data, `"state":"idle"`)
	name, data = r.next(t)
	assert.Equal(t, "status", name)
	assert.Contains(t, data, `data-state="idle"`)

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	ctrl.setStatus(service.Status{State: domain.SessionStateRunning, SessionID: "s1", Progress: 55})
	bus.Publish(service.Event{Type: service.EventTypeProgress, SessionID: "s1", Progress: 55})

	name, data = r.next(t)
	assert.Equal(t, "progress", name)
	assert.Contains(t, data, `"progress":55`)
	name, data = r.next(t)
	assert.Equal(t, "status", name)
	assert.Contains(t, data, `value="55.0"`)

	cancel()
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestEvents_KeepAlive(t *testing.T) {
	bus := service.NewEventBus()
	h := NewSSEHandler(bus, newStubController())
	h.keepAlive = 10 * time.Millisecond
	srv := httptest.NewServer(h.Events())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == ": keep-alive" {
			return
		}
	}
	t.Fatal("no keep-alive received")
}
