// Package templates renders the dashboard and its live status fragment.
package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/service"
)

const (
	htmxScript   = "https://cdn.jsdelivr.net/npm/htmx.org@2.0.4/dist/htmx.min.js"
	htmxSSEExt   = "https://cdn.jsdelivr.net/npm/htmx-ext-sse@2.2.2/sse.js"
	pageStyles   = `body{font-family:system-ui,sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem}table{border-collapse:collapse;width:100%}td,th{padding:.25rem .5rem;border-bottom:1px solid #ddd;text-align:left}.error{color:#b00020}progress{width:100%}`
	timestampFmt = "2006-01-02 15:04:05"
)

// DashboardData is everything the dashboard page shows.
type DashboardData struct {
	Status  service.Status
	Queue   []*domain.QueuedJob
	History []*domain.Outcome
	Version string
}

// html accumulates the first write error so components read top to bottom.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *html) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *html) component(ctx context.Context, c templ.Component) {
	if h.err == nil {
		h.err = c.Render(ctx, h.w)
	}
}

func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>`)
		h.text(title)
		h.raw(`</title><style>` + pageStyles + `</style><script src="` + htmxScript + `"></script><script src="` + htmxSSEExt + `"></script></head><body>`)
		h.component(ctx, body)
		h.raw(`</body></html>`)
		return h.err
	})
}

func Login(failed bool) templ.Component {
	return Layout("webmclip login", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<h1>webmclip</h1><form method="post" action="/login">`)
		if failed {
			h.raw(`<p class="error">Invalid token</p>`)
		}
		h.raw(`<label>Token <input type="password" name="token" autocomplete="current-password" required autofocus></label> <button type="submit">Sign in</button></form>`)
		return h.err
	}))
}

func ErrorInline(msg string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<p class="error" role="alert">`)
		h.text(msg)
		h.raw(`</p>`)
		return h.err
	})
}

func Notice(msg string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<p role="status">`)
		h.text(msg)
		h.raw(`</p>`)
		return h.err
	})
}

// StatusFragment is the live part of the dashboard, swapped on SSE "status"
// events and returned for htmx polls of /status.
func StatusFragment(st service.Status) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<section id="status-body"><p>State: <strong data-state="`)
		h.text(string(st.State))
		h.raw(`">`)
		h.text(string(st.State))
		h.raw(`</strong>`)
		if st.SessionID != "" {
			h.raw(` <code>`)
			h.text(st.SessionID)
			h.raw(`</code>`)
		}
		h.raw(`</p>`)

		if st.State.IsActive() {
			h.raw(`<p>`)
			h.text(st.Input.Path)
			h.raw(` &rarr; `)
			h.text(st.Output.Path)
			h.raw(`</p>`)
		}
		if st.State == domain.SessionStateRunning {
			pct := strconv.FormatFloat(st.Progress, 'f', 1, 64)
			h.raw(`<progress max="100" value="` + pct + `">` + pct + `%</progress> <span>` + pct + `%</span> `)
			h.raw(`<button hx-delete="/sessions/current" hx-swap="none">Cancel</button>`)
		}

		if o := st.LastOutcome; o != nil && !st.State.IsActive() {
			h.raw(`<p>Last session `)
			h.text(string(o.State))
			h.raw(` after `)
			h.text(o.Duration().Round(time.Second).String())
			h.raw(`: `)
			h.text(o.InputPath)
			h.raw(`</p>`)
			switch o.State {
			case domain.SessionStateCompleted:
				h.raw(`<p><a href="/sessions/`)
				h.text(o.SessionID)
				h.raw(`/output">Download `)
				h.text(o.OutputPath)
				h.raw(`</a></p>`)
			case domain.SessionStateFailed:
				h.raw(`<p class="error">`)
				h.text(o.ErrorMessage)
				h.raw(`</p>`)
			}
		}
		h.raw(`</section>`)
		return h.err
	})
}

func Dashboard(data DashboardData) templ.Component {
	return Layout("webmclip", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<header><h1>webmclip</h1>`)
		if data.Version != "" {
			h.raw(`<small>`)
			h.text(data.Version)
			h.raw(`</small>`)
		}
		h.raw(`<form method="post" action="/logout"><button type="submit">Sign out</button></form></header>`)

		h.raw(`<div hx-ext="sse" sse-connect="/events"><div id="status" sse-swap="status">`)
		h.component(ctx, StatusFragment(data.Status))
		h.raw(`</div></div>`)

		h.raw(`<form hx-post="/sessions" hx-target="#start-result" hx-swap="innerHTML"><label>Input path <input name="path" size="60" required></label> <button type="submit">Convert</button> <button type="submit" hx-post="/queue">Enqueue</button></form><div id="start-result"></div>`)

		h.raw(`<h2>Queue</h2>`)
		if len(data.Queue) == 0 {
			h.raw(`<p>Empty.</p>`)
		} else {
			h.raw(`<table><thead><tr><th>#</th><th>Input</th><th>Status</th><th>Attempts</th><th>Queued</th></tr></thead><tbody>`)
			for _, j := range data.Queue {
				h.raw(`<tr><td>` + strconv.FormatInt(j.ID, 10) + `</td><td>`)
				h.text(j.InputPath)
				h.raw(`</td><td>`)
				h.text(string(j.Status))
				if j.ErrorMessage != "" {
					h.raw(` <span class="error">`)
					h.text(j.ErrorMessage)
					h.raw(`</span>`)
				}
				h.raw(`</td><td>` + strconv.FormatInt(j.Attempts, 10) + `</td><td title="`)
				h.text(j.CreatedAt.Format(timestampFmt))
				h.raw(`">`)
				h.text(humanize.Time(j.CreatedAt))
				h.raw(`</td></tr>`)
			}
			h.raw(`</tbody></table>`)
		}

		h.raw(`<h2>History</h2>`)
		if len(data.History) == 0 {
			h.raw(`<p>No finished sessions yet.</p>`)
		} else {
			h.raw(`<table><thead><tr><th>Finished</th><th>Input</th><th>State</th><th>Bitrate</th><th>Output</th></tr></thead><tbody>`)
			for _, o := range data.History {
				h.raw(`<tr><td title="`)
				h.text(o.FinishedAt.Format(timestampFmt))
				h.raw(`">`)
				h.text(humanize.Time(o.FinishedAt))
				h.raw(`</td><td>`)
				h.text(o.InputPath)
				h.raw(`</td><td>`)
				h.text(string(o.State))
				h.raw(`</td><td>`)
				if o.BitrateKbps > 0 {
					h.text(fmt.Sprintf("%d kbps", o.BitrateKbps))
				}
				h.raw(`</td><td>`)
				if o.State == domain.SessionStateCompleted {
					h.raw(`<a href="/sessions/`)
					h.text(o.SessionID)
					h.raw(`/output">`)
					h.text(o.OutputPath)
					h.raw(`</a>`)
				} else if o.ErrorMessage != "" {
					h.raw(`<span class="error">`)
					h.text(o.ErrorMessage)
					h.raw(`</span>`)
				}
				h.raw(`</td></tr>`)
			}
			h.raw(`</tbody></table>`)
		}
		return h.err
	}))
}
