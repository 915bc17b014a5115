package inspect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/coral-mesh/frameprof/internal/report"
	"github.com/coral-mesh/frameprof/pkg/profiler"
	"github.com/coral-mesh/frameprof/pkg/profiler/event"
)

const maxBodyBytes = 4096

type errorResponse struct {
	Error string `json:"error"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type filterRequest struct {
	Category string `json:"category"`
}

type exclusiveRequest struct {
	Exclusive bool `json:"exclusive"`
}

type visibleRequest struct {
	Visible bool `json:"visible"`
}

type selectRequest struct {
	Index *int32 `json:"index,omitempty"`
	Move  string `json:"move,omitempty"`
}

type selectResponse struct {
	Selected int32 `json:"selected"`
}

type graphRequest struct {
	Recursive bool `json:"recursive"`
}

type dumpRequest struct {
	Frames int `json:"frames"`
}

type dumpResponse struct {
	Frames int    `json:"frames"`
	State  string `json:"state"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, format string, args ...any) {
	s.writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) slot(w http.ResponseWriter, r *http.Request) (int, bool) {
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil || slot < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid slot %q", r.PathValue("slot"))
		return 0, false
	}
	return slot, true
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statisticsView(s.prof.Statistics()))
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	lines := report.Lines(s.prof.Statistics(), s.prof.SnapshotHierarchy(), report.Options{
		HitchDetection: s.cfg.HitchDetection,
	})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(report.Plain(lines))); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write report")
	}
}

func (s *Server) handleThreads(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, slotViews(s.prof.Threads()))
}

func (s *Server) handleTopN(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, entryViews(s.prof.SnapshotTopN(slot)))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	hist := s.prof.SnapshotHistory(slot)
	if hist == nil {
		hist = []float64{}
	}
	s.writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	var req visibleRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.prof.SetThreadVisible(int32(slot), req.Visible)
	w.WriteHeader(http.StatusNoContent)
}

// handleHierarchy returns every node, or with ?view=visible only the rows
// not hidden by a collapsed parent.
func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	switch view := r.URL.Query().Get("view"); view {
	case "", "all":
		s.writeJSON(w, http.StatusOK, rowViews(s.prof.SnapshotHierarchy()))
	case "visible":
		s.writeJSON(w, http.StatusOK, rowViews(s.prof.Hierarchy().Rows()))
	default:
		s.writeError(w, http.StatusBadRequest, "unknown view %q", view)
	}
}

// node selects the hierarchy node named by the path. Controls act on the
// selection.
func (s *Server) node(w http.ResponseWriter, r *http.Request) (int32, bool) {
	idx, err := strconv.ParseInt(r.PathValue("node"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid node %q", r.PathValue("node"))
		return 0, false
	}
	if !s.prof.Hierarchy().Select(int32(idx)) {
		s.writeError(w, http.StatusNotFound, "node %d not found", idx)
		return 0, false
	}
	return int32(idx), true
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	pool := s.prof.Hierarchy()
	switch {
	case req.Index != nil:
		if !pool.Select(*req.Index) {
			s.writeError(w, http.StatusNotFound, "node %d not found", *req.Index)
			return
		}
	case req.Move == "next":
		pool.Next()
	case req.Move == "prev":
		pool.Prev()
	default:
		s.writeError(w, http.StatusBadRequest, "need index or move (next, prev)")
		return
	}
	s.writeJSON(w, http.StatusOK, selectResponse{Selected: pool.Selected()})
}

func (s *Server) handleToggleChildren(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.node(w, r); !ok {
		return
	}
	s.prof.Hierarchy().ToggleChildren()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleGraph(w http.ResponseWriter, r *http.Request) {
	var req graphRequest
	if err := decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if _, ok := s.node(w, r); !ok {
		return
	}
	s.prof.Hierarchy().ToggleGraph(req.Recursive)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.ParseInt(r.PathValue("node"), 10, 32)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid node %q", r.PathValue("node"))
		return
	}
	hist := s.prof.Hierarchy().History(int32(idx))
	if hist == nil {
		s.writeError(w, http.StatusNotFound, "node %d is not graphed", idx)
		return
	}
	s.writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleTrace(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, traceViews(s.prof.ExportTraceEventStream()))
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	mode, err := profiler.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if err := s.prof.SetMode(mode); err != nil {
		s.writeError(w, http.StatusConflict, "failed to set mode: %v", err)
		return
	}
	s.logger.Info().Str("mode", mode.String()).Msg("Mode changed")
	s.writeJSON(w, http.StatusOK, modeRequest{Mode: mode.String()})
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	c, err := event.ParseCategory(req.Category)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.prof.SetFilter(c)
	s.writeJSON(w, http.StatusOK, filterRequest{Category: c.String()})
}

func (s *Server) handleExclusive(w http.ResponseWriter, r *http.Request) {
	var req exclusiveRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	s.prof.SetExclusive(req.Exclusive)
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	req := dumpRequest{Frames: profiler.DefaultDumpFrames}
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
	}
	if req.Frames <= 0 {
		req.Frames = profiler.DefaultDumpFrames
	}
	if err := s.prof.DumpFrames(req.Frames); err != nil {
		s.writeError(w, http.StatusConflict, "failed to dump frames: %v", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, dumpResponse{Frames: req.Frames, State: profiler.DumpActive.String()})
}

func (s *Server) handleFreeze(w http.ResponseWriter, _ *http.Request) {
	s.prof.Freeze()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, _ *http.Request) {
	s.prof.Unfreeze()
	w.WriteHeader(http.StatusNoContent)
}
