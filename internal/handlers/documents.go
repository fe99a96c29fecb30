package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pointid/mission-gateway/internal/models"
	"github.com/pointid/mission-gateway/internal/services"
	"go.uber.org/zap"
)

// MaxUploadSize bounds a single document upload
const MaxUploadSize = 25 << 20

// DocumentHandler handles document uploads and export downloads
type DocumentHandler struct {
	stores StoreProvider
	logger *zap.SugaredLogger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(stores StoreProvider, logger *zap.SugaredLogger) *DocumentHandler {
	return &DocumentHandler{stores: stores, logger: logger}
}

// Upload handles POST /api/missions/{id}/documents
// Expects a multipart form with a "file" part and an optional
// "description" field. The file is streamed to the upstream server.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondStoreError(w, services.ErrNoFile)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	missionID := chi.URLParam(r, "id")
	st := storesFor(h.stores, r)
	doc, err := st.Missions.UploadMissionDocument(r.Context(), services.DocumentUpload{
		MissionID:   missionID,
		Filename:    header.Filename,
		ContentType: contentType,
		Description: r.FormValue("description"),
		Body:        file,
	})
	if err != nil {
		respondStoreError(w, err)
		return
	}

	h.logger.Infow("Document uploaded", "mission", missionID, "size", header.Size, "content_type", contentType)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"document":  doc,
		"documents": st.Missions.Documents(),
	})
}

// ExportMissions handles GET /api/exports/missions
func (h *DocumentHandler) ExportMissions(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	h.stream(w, r, st, st.Missions.ExportMissions)
}

// ExportMissionDetails handles GET /api/exports/missions/{id}
func (h *DocumentHandler) ExportMissionDetails(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	id := chi.URLParam(r, "id")
	h.stream(w, r, st, func(ctx context.Context) (*models.ExportFile, error) {
		return st.Missions.ExportMissionDetails(ctx, id)
	})
}

// ExportPrestataireMissions handles GET /api/exports/prestataire/missions
func (h *DocumentHandler) ExportPrestataireMissions(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	h.stream(w, r, st, st.Missions.ExportPrestataireMissions)
}

// ExportPrestataireReport handles GET /api/exports/prestataire/report
func (h *DocumentHandler) ExportPrestataireReport(w http.ResponseWriter, r *http.Request) {
	st := storesFor(h.stores, r)
	h.stream(w, r, st, st.Missions.ExportPrestataireReport)
}

// stream asks for an export and relays the file as an attachment. With
// ?link=1 the export descriptor is returned instead of the file.
func (h *DocumentHandler) stream(w http.ResponseWriter, r *http.Request, st *services.Stores, export func(context.Context) (*models.ExportFile, error)) {
	f, err := export(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if r.URL.Query().Get("link") == "1" {
		respondJSON(w, http.StatusOK, f)
		return
	}

	dl, err := st.Downloads.Open(r.Context(), f)
	if err != nil {
		h.logger.Errorw("Export download failed", "filename", f.Filename, "error", err)
		st.Toasts.Failure("download", err)
		respondStoreError(w, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", services.ContentDisposition(dl.Filename))
	if dl.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl.Body); err != nil {
		h.logger.Warnw("Export stream interrupted", "filename", dl.Filename, "error", err)
	}
}
