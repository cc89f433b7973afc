package main

import (
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	graphrepo "github.com/flowgraph/stategraph/internal/adapters/repository/graph"
	"github.com/flowgraph/stategraph/internal/app/bootstrap"
	"github.com/flowgraph/stategraph/internal/app/dto"
	"github.com/flowgraph/stategraph/internal/app/usecases"
	"github.com/flowgraph/stategraph/internal/core/checkpoint"
	"github.com/flowgraph/stategraph/internal/core/graph"
	"github.com/flowgraph/stategraph/internal/core/pregel"
	"github.com/flowgraph/stategraph/internal/infrastructure/logging"
	"github.com/flowgraph/stategraph/internal/infrastructure/metrics"
	"github.com/flowgraph/stategraph/pkg/validation"
)

type server struct {
	app *bootstrap.App
}

func newHandler(app *bootstrap.App) http.Handler {
	s := &server{app: app}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintln(w, "stategraph server is running. See /healthz, /metrics, /debug/vars, /debug/pprof/, /v1/graphs")
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "ok")
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("GET /v1/graphs", s.listGraphs)
	mux.HandleFunc("POST /v1/runs", s.run)
	mux.HandleFunc("GET /v1/threads/{graph}/{thread}", s.state)
	mux.HandleFunc("POST /v1/threads/{graph}/{thread}/resume", s.resume)
	mux.HandleFunc("PATCH /v1/threads/{graph}/{thread}/state", s.update)
	mux.HandleFunc("GET /v1/threads/{graph}/{thread}/history", s.history)
	mux.HandleFunc("DELETE /v1/threads/{graph}/{thread}", s.remove)
	return s.withLogger(mux)
}

// withLogger carries the application logger in each request context.
func (s *server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.WithLogger(r.Context(), s.app.Logger)
		next.ServeHTTP(w, r.WithContext(ctx))
		s.app.Logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *server) listGraphs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"graphs": s.app.Registry.Names()})
}

func (s *server) run(w http.ResponseWriter, r *http.Request) {
	req, ok := validation.DecodeJSON[dto.RunRequest](w, r)
	if !ok {
		return
	}
	resp, err := s.app.Runner.Run(r.Context(), req)
	writeRun(w, resp, err)
}

func (s *server) resume(w http.ResponseWriter, r *http.Request) {
	resp, err := s.app.Runner.Resume(r.Context(), threadRequest(r))
	writeRun(w, resp, err)
}

func (s *server) state(w http.ResponseWriter, r *http.Request) {
	view, err := s.app.Runner.State(r.Context(), threadRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type updateBody struct {
	Update map[string]any `json:"update" validate:"required"`
	AsNode string         `json:"as_node,omitempty"`
}

func (s *server) update(w http.ResponseWriter, r *http.Request) {
	body, ok := validation.DecodeJSON[updateBody](w, r)
	if !ok {
		return
	}
	view, err := s.app.Runner.Update(r.Context(), &dto.UpdateRequest{
		ThreadRequest: *threadRequest(r),
		Update:        body.Update,
		AsNode:        body.AsNode,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := checkpoint.Filter{
		Source: checkpoint.Source(q.Get("source")),
		Tags:   q["tag"],
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				validation.WriteErrors(w, http.StatusBadRequest, validation.ValidationErrors{{Field: key, Value: v, Message: "must be an integer"}})
				return
			}
			*dst = n
		}
	}
	views, err := s.app.Runner.History(r.Context(), threadRequest(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": views})
}

func (s *server) remove(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Runner.Delete(r.Context(), threadRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func threadRequest(r *http.Request) *dto.ThreadRequest {
	return &dto.ThreadRequest{Graph: r.PathValue("graph"), ThreadID: r.PathValue("thread")}
}

// writeRun reports a run. A run that started and failed returns its
// response body with the status code of the failure.
func writeRun(w http.ResponseWriter, resp *dto.RunResponse, err error) {
	if resp == nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if err != nil {
		code = statusFor(err)
	}
	writeJSON(w, code, resp)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dto.ErrInvalidRequest), errors.Is(err, dto.ErrMissingGraph),
		errors.Is(err, dto.ErrMissingThreadID), errors.Is(err, checkpoint.ErrInvalidLimit):
		return http.StatusBadRequest
	case errors.Is(err, graphrepo.ErrGraphNotFound), errors.Is(err, pregel.ErrNoCheckpoint):
		return http.StatusNotFound
	case errors.Is(err, pregel.ErrThreadBusy), errors.Is(err, pregel.ErrGraphMismatch):
		return http.StatusConflict
	case errors.Is(err, pregel.ErrNoCheckpointer), errors.Is(err, pregel.ErrHistoryNotListed),
		errors.Is(err, usecases.ErrDeleteUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, pregel.ErrCanceled):
		return 499
	case errors.Is(err, pregel.ErrNodeFailed), errors.Is(err, pregel.ErrCycleDetected),
		errors.Is(err, pregel.ErrBudgetExceeded), errors.Is(err, graph.ErrUnknownTarget),
		errors.Is(err, graph.ErrRouterPanic):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
