package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/adapter/http/templates"
	"github.com/bnema/webmclip/internal/adapter/http/validation"
	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/infrastructure/sysinfo"
	"github.com/bnema/webmclip/internal/port"
	"github.com/bnema/webmclip/internal/service"
)

// SessionController is the part of the controller the HTTP surface drives.
type SessionController interface {
	Start(ctx context.Context, inputPath string) (service.SessionInfo, error)
	Cancel() error
	Status() service.Status
	Policy() domain.Policy
}

type HandlerOptions struct {
	Queue        port.JobQueue     // nil disables the queue routes
	History      port.HistoryStore // nil limits lookups to the last session
	DataDir      string            // filesystem reported by /healthz
	MinFreeBytes uint64
	Version      string
	// CheckInput vets a client-supplied path. Defaults to
	// validation.CheckInputFile.
	CheckInput func(path string) (string, error)
}

type Handlers struct {
	ctrl SessionController
	opts HandlerOptions
	log  zerolog.Logger
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 64 << 10
)

func NewHandlers(ctrl SessionController, opts HandlerOptions) *Handlers {
	if opts.CheckInput == nil {
		opts.CheckInput = validation.CheckInputFile
	}
	if opts.DataDir == "" {
		opts.DataDir = os.TempDir()
	}
	return &Handlers{
		ctrl: ctrl,
		opts: opts,
		log:  logger.WithComponent("http"),
	}
}

type pathRequest struct {
	Path string `json:"path"`
}

func (h *Handlers) Dashboard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := templates.DashboardData{
			Status:  h.ctrl.Status(),
			Version: h.opts.Version,
		}
		if h.opts.Queue != nil {
			jobs, err := h.opts.Queue.List(20)
			if err != nil {
				h.log.Error().Err(err).Msg("dashboard queue list")
			}
			data.Queue = jobs
		}
		if h.opts.History != nil {
			outcomes, err := h.opts.History.ListOutcomes(20)
			if err != nil {
				h.log.Error().Err(err).Msg("dashboard history list")
			}
			data.History = outcomes
		}
		renderHTML(w, r, http.StatusOK, templates.Dashboard(data))
	}
}

func (h *Handlers) StartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, ok := h.readPath(w, r)
		if !ok {
			return
		}

		info, err := h.ctrl.Start(r.Context(), path)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, domain.ErrAlreadyRunning):
				status = http.StatusConflict
			case errors.Is(err, domain.ErrInvalidInputExtension):
				status = http.StatusUnprocessableEntity
			case errors.Is(err, service.ErrControllerClosed):
				status = http.StatusServiceUnavailable
			}
			h.respondError(w, r, status, err.Error())
			return
		}

		h.log.Info().Str("session", info.ID).Str("input", logger.SanitizePath(path)).Msg("session started")
		if isHTMX(r) {
			renderHTML(w, r, http.StatusOK, templates.Notice("Started "+info.OutputPath))
			return
		}
		w.Header().Set("Location", "/sessions/"+info.ID)
		writeJSON(w, http.StatusAccepted, info)
	}
}

func (h *Handlers) CancelSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.ctrl.Cancel(); err != nil {
			h.log.Error().Err(err).Msg("cancel")
			h.respondError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	}
}

func (h *Handlers) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := h.ctrl.Status()
		if isHTMX(r) {
			renderHTML(w, r, http.StatusOK, templates.StatusFragment(st))
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func (h *Handlers) GetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if st := h.ctrl.Status(); st.SessionID == id && id != "" {
			writeJSON(w, http.StatusOK, st)
			return
		}

		outcome, err := h.lookupOutcome(id)
		if err != nil {
			h.notFoundOr500(w, r, err, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// SessionOutput serves the WebM file of a completed session.
func (h *Handlers) SessionOutput() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := h.lookupOutcome(r.PathValue("id"))
		if err != nil {
			h.notFoundOr500(w, r, err, "session not found")
			return
		}
		if outcome.State != domain.SessionStateCompleted || outcome.OutputPath == "" {
			writeError(w, http.StatusNotFound, "session has no output")
			return
		}

		info, err := os.Stat(outcome.OutputPath)
		if err != nil || !info.Mode().IsRegular() {
			writeError(w, http.StatusGone, "output file no longer exists")
			return
		}

		contentType := mime.TypeByExtension(domain.Ext(outcome.OutputPath))
		if contentType == "" {
			contentType = "video/webm"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", validation.ContentDisposition(outcome.OutputPath, r.URL.Query().Has("inline")))
		http.ServeFile(w, r, outcome.OutputPath)
	}
}

func (h *Handlers) Enqueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Queue == nil {
			h.respondError(w, r, http.StatusServiceUnavailable, "queue is not configured")
			return
		}
		path, ok := h.readPath(w, r)
		if !ok {
			return
		}
		if !h.ctrl.Policy().Accepts(path) {
			h.respondError(w, r, http.StatusUnprocessableEntity,
				fmt.Sprintf("%v: %q", domain.ErrInvalidInputExtension, domain.Ext(path)))
			return
		}

		job, err := h.opts.Queue.Enqueue(path)
		if err != nil {
			h.log.Error().Err(err).Msg("enqueue")
			h.respondError(w, r, http.StatusInternalServerError, "failed to enqueue")
			return
		}
		if isHTMX(r) {
			renderHTML(w, r, http.StatusOK, templates.Notice(fmt.Sprintf("Queued as job %d", job.ID)))
			return
		}
		writeJSON(w, http.StatusCreated, newJobView(job))
	}
}

func (h *Handlers) ListQueue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.Queue == nil {
			writeError(w, http.StatusServiceUnavailable, "queue is not configured")
			return
		}
		jobs, err := h.opts.Queue.List(parseLimit(r))
		if err != nil {
			h.log.Error().Err(err).Msg("list queue")
			writeError(w, http.StatusInternalServerError, "failed to list queue")
			return
		}
		views := make([]jobView, 0, len(jobs))
		for _, j := range jobs {
			views = append(views, newJobView(j))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func (h *Handlers) History() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.opts.History == nil {
			var outcomes []*domain.Outcome
			if last := h.ctrl.Status().LastOutcome; last != nil {
				outcomes = append(outcomes, last)
			}
			writeJSON(w, http.StatusOK, outcomes)
			return
		}
		outcomes, err := h.opts.History.ListOutcomes(parseLimit(r))
		if err != nil {
			h.log.Error().Err(err).Msg("list history")
			writeError(w, http.StatusInternalServerError, "failed to list history")
			return
		}
		if outcomes == nil {
			outcomes = []*domain.Outcome{}
		}
		writeJSON(w, http.StatusOK, outcomes)
	}
}

type healthResponse struct {
	Status  string              `json:"status"`
	Session domain.SessionState `json:"session"`
	Version string              `json:"version,omitempty"`
	Host    *sysinfo.Report     `json:"host,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (h *Handlers) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Session: h.ctrl.Status().State, Version: h.opts.Version}
		code := http.StatusOK

		report, err := sysinfo.Collect(ctx, h.opts.DataDir)
		switch {
		case err != nil:
			resp.Status = "degraded"
			resp.Error = err.Error()
		case report.LowDisk(h.opts.MinFreeBytes):
			resp.Status = "low_disk"
			code = http.StatusServiceUnavailable
		}
		resp.Host = report
		writeJSON(w, code, resp)
	}
}

// readPath extracts and vets the input path from a JSON or form body. It
// writes the error response itself and reports whether to continue.
func (h *Handlers) readPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req pathRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, r, http.StatusBadRequest, "invalid JSON body")
			return "", false
		}
	} else {
		req.Path = r.FormValue("path")
	}
	if req.Path == "" {
		h.respondError(w, r, http.StatusBadRequest, "path is required")
		return "", false
	}

	if _, err := h.opts.CheckInput(req.Path); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, os.ErrNotExist):
			status = http.StatusNotFound
		case errors.Is(err, validation.ErrDisallowedFileType):
			status = http.StatusUnprocessableEntity
		}
		h.log.Debug().Err(err).Str("input", logger.SanitizePath(req.Path)).Msg("input rejected")
		h.respondError(w, r, status, err.Error())
		return "", false
	}
	return req.Path, true
}

func (h *Handlers) lookupOutcome(id string) (*domain.Outcome, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	if last := h.ctrl.Status().LastOutcome; last != nil && last.SessionID == id {
		return last, nil
	}
	if h.opts.History == nil {
		return nil, domain.ErrNotFound
	}
	return h.opts.History.GetOutcome(id)
}

func (h *Handlers) notFoundOr500(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, r, http.StatusNotFound, msg)
		return
	}
	h.log.Error().Err(err).Msg("history lookup")
	h.respondError(w, r, http.StatusInternalServerError, "history lookup failed")
}

// respondError answers htmx requests with an inline fragment and 200, since
// htmx only swaps successful responses; everyone else gets JSON.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if isHTMX(r) {
		renderHTML(w, r, http.StatusOK, templates.ErrorInline(msg))
		return
	}
	writeError(w, status, msg)
}

type jobView struct {
	ID           int64            `json:"id"`
	InputPath    string           `json:"input_path"`
	OutputPath   string           `json:"output_path,omitempty"`
	Status       domain.JobStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Attempts     int64            `json:"attempts"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

func newJobView(j *domain.QueuedJob) jobView {
	v := jobView{
		ID:           j.ID,
		InputPath:    j.InputPath,
		OutputPath:   j.OutputPath,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		Attempts:     j.Attempts,
		CreatedAt:    j.CreatedAt,
	}
	if j.StartedAt.Valid {
		v.StartedAt = &j.StartedAt.Time
	}
	if j.CompletedAt.Valid {
		v.CompletedAt = &j.CompletedAt.Time
	}
	return v
}

func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return min(n, maxListLimit)
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func renderHTML(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = c.Render(r.Context(), w)
}
