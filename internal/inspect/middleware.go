package inspect

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// requestLog logs view reads at debug level, control changes (any non-GET
// request) at info level and rejected requests at warn level.
func requestLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &recorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			ev := logger.Debug()
			msg := "Inspector view served"
			if r.Method != http.MethodGet {
				ev = logger.Info()
				msg = "Inspector control applied"
			}
			if rec.code() >= http.StatusBadRequest {
				ev = logger.Warn()
				msg = "Inspector request rejected"
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.code()).
				Int("bytes", rec.bytes).
				Dur("took", time.Since(start)).
				Msg(msg)
		})
	}
}

// recoverJSON turns a handler panic into a 500 JSON error.
func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error().
					Interface("panic", v).
					Str("path", r.URL.Path).
					Msg("Inspector handler panicked")
				s.writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// recorder captures the status and body size of a response.
type recorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *recorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack hands the connection to the websocket upgrader.
func (r *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("inspect: connection cannot be hijacked")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
