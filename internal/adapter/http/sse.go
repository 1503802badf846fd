package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bnema/webmclip/internal/adapter/http/templates"
	"github.com/bnema/webmclip/internal/service"
)

const keepAliveInterval = 15 * time.Second

type StatusSource interface {
	Status() service.Status
}

type SSEHandler struct {
	eventBus  *service.EventBus
	status    StatusSource
	keepAlive time.Duration
}

func NewSSEHandler(eventBus *service.EventBus, status StatusSource) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		status:    status,
		keepAlive: keepAliveInterval,
	}
}

func renderStatusHTML(st service.Status) (string, error) {
	var buf bytes.Buffer
	if err := templates.StatusFragment(st).Render(context.Background(), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sseWrite writes an SSE event, handling multi-line data correctly.
func sseWrite(w http.ResponseWriter, eventName string, data string) {
	_, _ = fmt.Fprintf(w, "event: %s\n", eventName)
	for _, line := range strings.Split(data, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// sendEvent forwards a bus event as JSON under its own event name.
func sendEvent(w http.ResponseWriter, ev service.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	sseWrite(w, string(ev.Type), string(data))
	return nil
}

// sendStatus renders the status fragment and sends it unless it is identical
// to prev. It returns the fragment to compare against next time.
func sendStatus(w http.ResponseWriter, st service.Status, prev string) (string, error) {
	html, err := renderStatusHTML(st)
	if err != nil {
		return prev, err
	}
	if html == prev {
		return prev, nil
	}
	sseWrite(w, "status", html)
	return html, nil
}

// sendKeepAlive writes an SSE comment to keep the connection active.
func sendKeepAlive(w http.ResponseWriter) {
	_, _ = fmt.Fprint(w, ": keep-alive\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// Events streams controller events to the client: "state", "progress" and
// "output" carry the JSON event, "status" the re-rendered dashboard
// fragment.
func (h *SSEHandler) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		// Subscribe before the first snapshot so no transition falls between.
		ch := h.eventBus.Subscribe()
		defer h.eventBus.Unsubscribe(ch)

		st := h.status.Status()
		_ = sendEvent(w, service.Event{
			Type:      service.EventTypeState,
			SessionID: st.SessionID,
			State:     st.State,
			Progress:  st.Progress,
		})
		lastStatus, _ := sendStatus(w, st, "")

		ctx := r.Context()
		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				sendKeepAlive(w)
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := sendEvent(w, event); err != nil {
					return
				}
				lastStatus, _ = sendStatus(w, h.status.Status(), lastStatus)
			}
		}
	}
}
