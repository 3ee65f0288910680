package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/benoitkugler/okcanvas/internal/domain"
	"github.com/benoitkugler/okcanvas/scene"
)

type errorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

type dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// InitializeResponse is the answer to POST /api/initialize.
type InitializeResponse struct {
	Message    string     `json:"message"`
	ID         string     `json:"id"`
	Dimensions dimensions `json:"dimensions"`
}

// DrawResponse is the answer to the POST /api/draw/* routes.
type DrawResponse struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Commands int    `json:"commands"` // length of the log after the append
}

// WatchMessage is one websocket message of /api/watch/{id}.
type WatchMessage struct {
	From    int            `json:"from"` // index of the first record
	Records []scene.Record `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	code := domain.CodeOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.svc.Initialize(r.Context(), req.Width.toInt(), req.Height.toInt())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, InitializeResponse{
		Message:    "Canvas initialized successfully",
		ID:         sess.ID,
		Dimensions: dimensions{sess.Scene.Width(), sess.Scene.Height()},
	})
}

func (s *Server) drawn(w http.ResponseWriter, r *http.Request, n int, err error, message string) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DrawResponse{OK: true, Message: message, Commands: n})
}

func (s *Server) handleRectangle(w http.ResponseWriter, r *http.Request) {
	var req rectangleRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.DrawRectangle(r.Context(), req.ID, req.spec())
	s.drawn(w, r, n, err, "Rectangle drawn successfully")
}

func (s *Server) handleCircle(w http.ResponseWriter, r *http.Request) {
	var req circleRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.DrawCircle(r.Context(), req.ID, req.spec())
	s.drawn(w, r, n, err, "Circle drawn successfully")
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(w, r, s.cfg.MaxUploadBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.DrawText(r.Context(), req.ID, req.spec())
	s.drawn(w, r, n, err, "Text added successfully")
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	req, in, err := parseImageRequest(w, r, s.cfg.MaxUploadBytes)
	if err != nil {
		// an unknown session is reported before a malformed field
		if req.ID != "" {
			if _, lookupErr := s.svc.Count(r.Context(), req.ID); lookupErr != nil {
				err = lookupErr
			}
		}
		s.writeError(w, r, err)
		return
	}
	n, err := s.svc.DrawImage(r.Context(), req.ID, in, req.spec())
	s.drawn(w, r, n, err, "Image added successfully")
}

// handleExport renders the whole document before writing any header,
// so that a failure is a clean error response.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var buf bytes.Buffer
	if _, err := s.svc.Export(r.Context(), id, &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "canvas-"+id+".pdf"))
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.Records(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.svc.Preview(r.Context(), r.PathValue("id"), &buf); err != nil {
		s.writeError(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "image/png")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// handleWatch streams the command log: the existing records first,
// then each append. Client messages are ignored.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.svc.Count(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	s.logger.Info("watcher connected", "session_id", id)
	ctx := ws.CloseRead(r.Context())
	err = s.svc.Watch(ctx, id, func(from int, records []scene.Record) error {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return wsjson.Write(writeCtx, ws, WatchMessage{From: from, Records: records})
	})
	s.logger.Info("watcher disconnected", "session_id", id, "reason", err)
	ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.svc.Sessions()})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "no route for " + r.Method + " " + r.URL.Path, Code: domain.CodeUnknown})
}
