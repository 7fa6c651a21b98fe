package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/store"
)

// maxUploadBytes caps the size of an uploaded image.
const maxUploadBytes = 16 << 20

// handleDetect handles POST /api/detect: an image body in, detected
// hands out. With a store configured, the result is persisted as an
// upload session whose id is included in the response.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty image body")
		return
	}
	if len(body) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}

	hands, err := s.config.Detector.Detect(body)
	if err != nil {
		if errors.Is(err, detector.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "not a decodable image")
			return
		}
		s.log.WithFields(logging.Fields{"error": err.Error()}).Error("detection failed")
		writeError(w, http.StatusInternalServerError, "detection failed")
		return
	}

	resp := map[string]any{"hands": hands, "count": len(hands)}

	if s.config.Store != nil {
		sessions := s.config.Store.Sessions()
		sess := &store.Session{Source: store.SourceUpload}
		if err := sessions.Create(sess); err == nil {
			if err := sessions.RecordHands(sess.ID, hands); err != nil {
				s.log.WithFields(logging.Fields{"error": err.Error()}).Warn("persist detections")
			}
			sessions.End(sess.ID)
			resp["sessionId"] = sess.ID
		} else {
			s.log.WithFields(logging.Fields{"error": err.Error()}).Warn("create upload session")
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSessions handles GET /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := s.config.Store.Sessions().List(limit)
	if err != nil {
		s.log.WithFields(logging.Fields{"error": err.Error()}).Error("list sessions")
		writeError(w, http.StatusInternalServerError, "list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleSessionDetail handles GET /api/sessions/{id} and
// GET /api/sessions/{id}/hands.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "session id missing")
		return
	}

	sessions := s.config.Store.Sessions()
	switch sub {
	case "":
		sess, err := sessions.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load session")
			return
		}
		writeJSON(w, http.StatusOK, sess)
	case "hands":
		if _, err := sessions.Get(id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "load session")
			return
		}
		records, err := sessions.Hands(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "load hands")
			return
		}
		if records == nil {
			records = []*store.HandRecord{}
		}
		writeJSON(w, http.StatusOK, records)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}
