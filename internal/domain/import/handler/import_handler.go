// Package handler exposes the import service over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	importservice "github.com/FACorreiaa/echo-import/internal/domain/import/service"
	"github.com/FACorreiaa/echo-import/internal/domain/import/sniffer"
	"github.com/FACorreiaa/echo-import/pkg/interceptors"
	"github.com/FACorreiaa/echo-import/pkg/push"
)

// sseKeepAlive is how often an idle event stream gets a comment line.
const sseKeepAlive = 25 * time.Second

// multipartOverhead is allowed on top of the file limit for form framing.
const multipartOverhead = 1 << 20

// ImportHandler serves the /v1/imports endpoints.
type ImportHandler struct {
	importSvc      *importservice.ImportService
	maxUploadBytes int64
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

// NewImportHandler creates a new import handler. allowedOrigins bounds which
// pages may open a websocket; empty allows any.
func NewImportHandler(importSvc *importservice.ImportService, maxUploadBytes int64, allowedOrigins []string, logger *slog.Logger) *ImportHandler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &ImportHandler{
		importSvc:      importSvc,
		maxUploadBytes: maxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins[origin]
			},
		},
		logger: logger,
	}
}

// RegisterRoutes mounts the handlers on r.
func (h *ImportHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/imports", h.Upload).Methods(http.MethodPost)
	r.HandleFunc("/v1/imports/ws", h.WebSocket).Methods(http.MethodGet)
	r.HandleFunc("/v1/imports/{id}/preview", h.GetPreview).Methods(http.MethodGet)
	r.HandleFunc("/v1/imports/{id}/confirm", h.Confirm).Methods(http.MethodPost)
	r.HandleFunc("/v1/imports/{id}/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/imports/{id}/errors.csv", h.ErrorReport).Methods(http.MethodGet)
	r.HandleFunc("/v1/imports/{id}/events", h.Events).Methods(http.MethodGet)
}

type uploadResponse struct {
	SessionID uuid.UUID             `json:"sessionId"`
	Filename  string                `json:"filename"`
	Preview   importservice.Preview `json:"preview"`
}

// Upload stages the multipart field "file". The part is streamed straight to
// storage.
func (h *ImportHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, `missing form field "file"`)
			return
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, importservice.ErrFileTooLarge)
			return
		}
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		filename := filepath.Base(part.FileName())
		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(filename))
		}

		up, err := h.importSvc.Stage(r.Context(), ownerID, filename, contentType, part)
		_ = part.Close()
		if err != nil {
			h.writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, uploadResponse{SessionID: up.ID, Filename: up.Filename, Preview: up.Preview})
		return
	}
}

// GetPreview returns the preview of a staged upload.
func (h *ImportHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	up, err := h.importSvc.GetPreview(ownerID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{SessionID: up.ID, Filename: up.Filename, Preview: up.Preview})
}

type confirmResponse struct {
	SessionID uuid.UUID `json:"sessionId"`
	Started   bool      `json:"started"`
}

// Confirm starts the import. The body is optional.
func (h *ImportHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	var req importservice.ConfirmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, err := h.importSvc.Confirm(r.Context(), ownerID, id, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, confirmResponse{SessionID: sessionID, Started: true})
}

// GetStatus returns the current snapshot of an import.
func (h *ImportHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	snap, err := h.importSvc.GetStatus(ownerID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ErrorReport downloads the logged row errors as CSV.
func (h *ImportHandler) ErrorReport(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	if _, err := h.importSvc.GetStatus(ownerID, id); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="import-`+id.String()+`-errors.csv"`)
	if err := h.importSvc.WriteErrorReport(ownerID, id, w); err != nil {
		h.logger.Error("failed to write error report", slog.Any("error", err))
	}
}

// WebSocket upgrades the request and streams the owner's import events.
// session_id, when given, replays that session first.
func (h *ImportHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	sessionID := uuid.Nil
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid session_id")
			return
		}
		sessionID = id
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.Debug("websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := push.NewWSConn(ws)
	if err := h.importSvc.Subscribe(conn, ownerID, sessionID); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	defer h.importSvc.Unsubscribe(conn, ownerID)

	conn.Serve()
}

// Events streams the events of one import as server-sent events.
func (h *ImportHandler) Events(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownerAndID(w, r)
	if !ok {
		return
	}

	// Refuse before committing to a 200 stream.
	if err := h.importSvc.Authorize(ownerID, id); err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := push.NewSSEConn(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer conn.Close()

	if err := h.importSvc.Subscribe(conn, ownerID, id); err != nil {
		return
	}
	defer h.importSvc.Unsubscribe(conn, ownerID)

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		}
	}
}

func (h *ImportHandler) owner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := interceptors.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	ownerID, err := uuid.Parse(raw)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid user id")
		return uuid.Nil, false
	}
	return ownerID, true
}

func (h *ImportHandler) ownerAndID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusNotFound, importservice.ErrNotFound.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, id, true
}

// writeError maps service errors to status codes.
func (h *ImportHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, importservice.ErrUnsupportedFile):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, importservice.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, importservice.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, importservice.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, importservice.ErrAlreadyConfirmed):
		status = http.StatusConflict
	case errors.Is(err, importservice.ErrIncompleteMapping),
		errors.Is(err, sniffer.ErrEmptyFile),
		errors.Is(err, sniffer.ErrNoHeadersFound):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("import request failed", slog.Any("error", err))
		writeJSONError(w, status, "internal error")
		return
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
