package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/chatops-tools/matrix-indexer/internal/event"
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string `json:"status"`
	TotalEvents int64  `json:"total_events"`
}

type eventsResponse struct {
	Count  int             `json:"count"`
	Events []*event.Record `json:"events"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", TotalEvents: stats.TotalEvents})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleEvents dispatches on the first filter present: room_id, sender, type,
// or a since/until timestamp range (epoch milliseconds).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))

	var (
		records []*event.Record
		err     error
	)

	switch {
	case q.Get("room_id") != "":
		records, err = s.store.EventsByRoom(ctx, q.Get("room_id"), limit)
	case q.Get("sender") != "":
		records, err = s.store.EventsBySender(ctx, q.Get("sender"), limit)
	case q.Get("type") != "":
		records, err = s.store.EventsByType(ctx, q.Get("type"), limit)
	case q.Get("since") != "" || q.Get("until") != "":
		var fromTS, toTS int64
		toTS = int64(1) << 62
		if v := q.Get("since"); v != "" {
			if fromTS, err = strconv.ParseInt(v, 10, 64); err != nil {
				s.writeError(w, http.StatusBadRequest, "since must be epoch milliseconds")
				return
			}
		}
		if v := q.Get("until"); v != "" {
			if toTS, err = strconv.ParseInt(v, 10, 64); err != nil {
				s.writeError(w, http.StatusBadRequest, "until must be epoch milliseconds")
				return
			}
		}
		records, err = s.store.EventsByTimeRange(ctx, fromTS, toTS, limit)
	default:
		s.writeError(w, http.StatusBadRequest, "one of room_id, sender, type, since, until is required")
		return
	}

	if err != nil {
		s.logger.Error("event query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "event query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{Count: len(records), Events: records})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	records, err := s.store.SearchText(r.Context(), query, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		s.logger.Error("search query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "search query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, eventsResponse{Count: len(records), Events: records})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0 // store applies its default
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0
	}
	return n
}
