package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/session"
)

// handleStream attaches the caller as the single reader of its session and
// writes one SSE data frame per event, with a comment heartbeat whenever
// the queue stays empty for Heartbeat.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := SessionID(r.Header.Get(SessionHeader), DefaultSessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess, created := s.opts.Sessions.GetOrCreate(id)
	detach, err := sess.Attach()
	if err != nil {
		if errors.Is(err, session.ErrAlreadyAttached) {
			http.Error(w, "session already has a reader", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	defer detach()
	if s.opts.DeleteOnDisconnect {
		defer s.opts.Sessions.Delete(id)
	}

	fields := []logger.Field{{Key: "session_id", Value: id}}
	s.log.InfoCtx(r.Context(), "stream opened", append(fields, logger.Field{Key: "created", Value: created})...)
	defer s.log.InfoCtx(r.Context(), "stream closed", fields...)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set(SessionHeader, id)
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprint(w, "event: open\ndata: {}\n\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		ev, err := sess.Next(ctx, s.opts.Heartbeat)
		switch {
		case err == nil:
			_, err = fmt.Fprintf(w, "data: %s\n\n", ev.Data)
		case errors.Is(err, session.ErrIdle):
			_, err = fmt.Fprint(w, ": ping\n\n")
		default:
			// session deleted or client gone
			return
		}
		if err != nil {
			s.log.DebugCtx(ctx, "stream write failed", append(fields, logger.Field{Key: "error", Value: err.Error()})...)
			return
		}
		flusher.Flush()
	}
}
