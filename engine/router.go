package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type Router struct {
	router *http.ServeMux
}

// NewRouter creates a router. If notFound is nil, the stdlib ServeMux default
// (a bare 404) is used.
func NewRouter(notFound http.Handler) *Router {
	mux := http.NewServeMux()
	if notFound != nil {
		mux.Handle("/", notFound)
	}
	return &Router{router: mux}
}

// Serve wires up the stdlib http server to the engine, shutting down
// gracefully when ctx is canceled.
func (r *Router) Serve(addr string) Proc {
	return func(ctx context.Context) error {
		svr := &http.Server{Handler: r, Addr: addr}
		go func() {
			<-ctx.Done()
			slog.Warn("gracefully shutting down http server...", "addr", addr)
			svr.Shutdown(context.Background())
		}()
		if err := svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		slog.Info("the http server has shut down", "addr", addr)
		return nil
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, rr *http.Request) { r.router.ServeHTTP(w, rr) }

// HandleFunc registers a handler, logging every request's method, path,
// latency and response status.
func (r *Router) HandleFunc(route string, fn http.HandlerFunc) {
	r.router.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWrapper{ResponseWriter: w, status: 200}
		fn(ww, r)
		slog.Info("http request", "url", r.URL.Path, "method", r.Method, "latencyMS", time.Since(start).Milliseconds(), "status", ww.status)
	})
}

// Handle registers a raw http.Handler (used for things like the WebSocket
// upgrade handler, which needs direct access to the hijacked connection).
func (r *Router) Handle(route string, h http.Handler) {
	r.router.Handle(route, h)
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// SystemError logs msg and responds with a 503 retryable error. Used for
// infrastructure failures (no registry configured, internal errors)
// rather than caller mistakes.
func SystemError(w http.ResponseWriter, msg string, args ...any) {
	slog.Error(msg, args...)
	WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
		"success":   false,
		"error":     msg,
		"retryable": true,
	})
}

// ClientError responds with a non-retryable error at the given status code.
func ClientError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]any{
		"success":   false,
		"error":     msg,
		"retryable": false,
	})
}

// HandleError returns true if err is non-nil, logging it and writing a 503
// retryable response. Allows the common early-return idiom:
//
//	if engine.HandleError(w, err) {
//	    return
//	}
func HandleError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	SystemError(w, err.Error())
	return true
}

type responseWrapper struct {
	http.ResponseWriter
	status int
}

func (w *responseWrapper) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush implements http.Flusher so long-lived responses (WebSocket upgrades
// go through Hijack, not Flush, but SSE-style debug endpoints may want this)
// keep working through the wrapper.
func (w *responseWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Note: WebSocket upgrades are registered via Handle (a raw http.Handler),
// not HandleFunc, so the upgrader sees the real ResponseWriter and can
// hijack the connection directly instead of going through responseWrapper.
