package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/objectkey"
)

// DefaultMaxUploadBytes bounds a single upload body.
const DefaultMaxUploadBytes int64 = 100 << 20

// AssetHandler serves objects, records and usage for the caller's scope
type AssetHandler struct {
	service        simpleasset.Service
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption configures an AssetHandler
type HandlerOption func(*AssetHandler)

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *AssetHandler) {
		h.logger = logger
	}
}

// WithMaxUploadBytes bounds upload bodies
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *AssetHandler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

func NewAssetHandler(service simpleasset.Service, opts ...HandlerOption) *AssetHandler {
	h := &AssetHandler{
		service:        service,
		logger:         slog.Default(),
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for asset endpoints. Every route requires the
// scope headers.
func (h *AssetHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(ScopeMiddleware)

	r.Post("/objects", h.SaveObject)
	r.Get("/objects/*", h.GetObject)

	r.Route("/records", func(r chi.Router) {
		r.Post("/", h.CreateRecord)
		r.Get("/", h.ListRecords)
		r.Get("/{record_id}", h.GetRecord)
		r.Put("/{record_id}", h.EditRecord)
		r.Delete("/{record_id}", h.DeleteRecord)
		r.Put("/{record_id}/content", h.SaveInlineContent)
	})

	r.Get("/usage", h.GetUsage)
	return r
}

// SaveObject stores the raw request body
func (h *AssetHandler) SaveObject(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	res, err := h.service.SaveObject(r.Context(), simpleasset.SaveObjectRequest{
		Scope:        scope,
		Category:     simpleasset.Category(r.URL.Query().Get("category")),
		Reader:       body,
		OriginalName: r.URL.Query().Get("name"),
	})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeServiceError(w, r, h.logger, err)
		return
	}

	if res.Deduplicated {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, res)
}

// GetObject streams one of the caller's stored objects
func (h *AssetHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	name := chi.URLParam(r, "*")

	obj, err := h.service.StatObject(r.Context(), scope, name)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	rc, err := h.service.OpenObject(r.Context(), scope, name)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", objectkey.ContentType(strings.TrimPrefix(path.Ext(name), ".")))
	w.Header().Set("Content-Length", strconv.FormatInt(obj.StoredSize, 10))
	w.Header().Set("ETag", strconv.Quote(obj.ContentHash))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "object stream interrupted", "stored_name", name, "error", err)
	}
}

// CreateRecordRequest is the body of POST /records
type CreateRecordRequest struct {
	Kind         simpleasset.RecordKind `json:"kind,omitempty"`
	Title        string                 `json:"title"`
	FolderID     *uuid.UUID             `json:"folder_id,omitempty"`
	Content      simpleasset.Content    `json:"content"`
	StoredName   string                 `json:"stored_name,omitempty"`
	OriginalName string                 `json:"original_name,omitempty"`
}

// EditRecordRequest is the body of PUT /records/{id}. Absent fields are
// left unchanged.
type EditRecordRequest struct {
	Title    *string              `json:"title,omitempty"`
	FolderID *uuid.UUID           `json:"folder_id,omitempty"`
	Content  *simpleasset.Content `json:"content,omitempty"`
}

// ContentDeltaResponse reports the quota change of a content save
type ContentDeltaResponse struct {
	RecordID uuid.UUID `json:"record_id"`
	Delta    int64     `json:"delta"`
}

// CreateRecord creates a record, optionally linked to a stored object
func (h *AssetHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())

	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	create := simpleasset.CreateRecordRequest{
		Scope:        scope,
		Kind:         req.Kind,
		Title:        req.Title,
		FolderID:     req.FolderID,
		Content:      req.Content,
		OriginalName: req.OriginalName,
	}
	if req.StoredName != "" {
		obj, err := h.service.StatObject(r.Context(), scope, req.StoredName)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		create.Object = &simpleasset.SaveResult{
			StoredName:  obj.StoredName,
			StoredSize:  obj.StoredSize,
			Format:      obj.Format,
			ContentHash: obj.ContentHash,
		}
	}

	rec, err := h.service.CreateRecord(r.Context(), create)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

// ListRecords lists live records, optionally filtered by ?folder_id=
func (h *AssetHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())

	var folderID *uuid.UUID
	if raw := r.URL.Query().Get("folder_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid folder id")
			return
		}
		folderID = &id
	}

	recs, err := h.service.ListRecords(r.Context(), scope, folderID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if recs == nil {
		recs = []*simpleasset.Record{}
	}
	render.JSON(w, r, recs)
}

func (h *AssetHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetRecord(r.Context(), scope, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, rec)
}

func (h *AssetHandler) EditRecord(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	var req EditRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.EditRecord(r.Context(), simpleasset.EditRecordRequest{
		Scope:    scope,
		RecordID: id,
		Title:    req.Title,
		FolderID: req.FolderID,
		Content:  req.Content,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, rec)
}

// SaveInlineContent replaces the record content with the request body
func (h *AssetHandler) SaveInlineContent(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}

	var content simpleasset.Content
	if err := json.NewDecoder(r.Body).Decode(&content); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid content")
		return
	}

	delta, err := h.service.SaveInlineContent(r.Context(), scope, id, content)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, ContentDeltaResponse{RecordID: id, Delta: delta})
}

func (h *AssetHandler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	id, ok := h.recordID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRecord(r.Context(), scope, id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUsage reports the caller's quota status
func (h *AssetHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFrom(r.Context())
	status, err := h.service.GetUsage(r.Context(), scope)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	render.JSON(w, r, status)
}

func (h *AssetHandler) recordID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "record_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid record id")
		return uuid.Nil, false
	}
	return id, true
}
