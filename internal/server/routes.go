package server

import (
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"os"

	"github.com/kapnodes/kapimage/internal/dedup"
	"github.com/kapnodes/kapimage/internal/preview"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/models"
	"go.uber.org/zap"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /kap/upload/image-dedup", s.wrap(s.handleUploadDedup))
	mux.HandleFunc("POST /kap/upload/update-preview", s.wrap(s.handleUpdatePreview))
	mux.HandleFunc("POST /kap/upload/update-watchlist", s.wrap(s.handleUpdateWatchlist))
	mux.HandleFunc("GET /kap/ws", s.handleWebSocket)
	mux.HandleFunc("GET /kap/view", s.wrap(s.handleView))
	mux.HandleFunc("GET /kap/watchlist", s.wrap(s.handleWatchlist))
	mux.HandleFunc("GET /kap/object_info", s.wrap(s.handleObjectInfo))
	mux.HandleFunc("POST /kap/nodes/{class}/check", s.wrap(s.handleNodeCheck))
	mux.HandleFunc("POST /kap/nodes/{class}/load", s.wrap(s.handleNodeLoad))
	mux.HandleFunc("GET /kap/stats", s.wrap(s.handleStats))
}

type previewResponse struct {
	PreviewFilename  string `json:"preview_filename"`
	PreviewFilepath  string `json:"preview_filepath"`
	PreviewImageType string `json:"preview_image_type"`
}

type watchlistResponse struct {
	Success           []bool   `json:"success"`
	PreviewNames      []string `json:"preview_names"`
	PreviewImagesType string   `json:"preview_images_type"`
	WatchlistSize     int      `json:"watchlist_size"`
	WatchAvailable    bool     `json:"watch_available"`
}

type watchlistStatus struct {
	Paths          []string `json:"paths"`
	WatchAvailable bool     `json:"watch_available"`
}

type statsResponse struct {
	Watchlist   watchlistStats         `json:"watchlist"`
	Events      map[string]interface{} `json:"events"`
	DigestCache map[string]interface{} `json:"digest_cache"`
}

type watchlistStats struct {
	Size      int  `json:"size"`
	Available bool `json:"available"`
}

func (s *Server) handleUploadDedup(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return kaperrors.NewClientInputError("invalid multipart form", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		return kaperrors.NewClientInputError("missing image field", err)
	}
	defer file.Close()

	res, err := s.deps.Uploader.Upload(r.Context(), dedup.Request{
		Filename:  header.Filename,
		Subfolder: r.FormValue("subfolder"),
		Type:      models.StorageType(r.FormValue("type")),
		Policy:    models.OverwritePolicy(r.FormValue("overwrite")),
		Body:      file,
	})
	if err != nil {
		return err
	}

	requestLogger(r.Context()).Info("Upload handled",
		zap.String("name", res.Name),
		zap.Bool("written", res.Decision.DidWrite),
		zap.String("duplicate_of", res.Decision.DuplicateOf),
	)
	writeJSON(w, http.StatusOK, res)
	return nil
}

func (s *Server) handleUpdatePreview(w http.ResponseWriter, r *http.Request) error {
	source := r.FormValue("image_path")
	res, err := s.deps.Previews.Generate(r.Context(), source)
	if err != nil {
		if !kaperrors.IsClientInputError(err) && !kaperrors.IsNotFoundError(err) && !kaperrors.IsExternalToolError(err) {
			return err
		}
		return kaperrors.NewClientInputError("failed to update preview", err)
	}
	if !res.Success {
		return kaperrors.NewClientInputError("failed to update preview", nil)
	}

	writeJSON(w, http.StatusOK, previewResponse{
		PreviewFilename:  res.PreviewFilename,
		PreviewFilepath:  res.PreviewFilepath,
		PreviewImageType: preview.PreviewType,
	})
	return nil
}

// handleUpdateWatchlist generates a preview for every submitted path and replaces the
// watch list with the paths that succeeded
func (s *Server) handleUpdateWatchlist(w http.ResponseWriter, r *http.Request) error {
	var paths []string
	if err := json.Unmarshal([]byte(r.FormValue("all_image_paths")), &paths); err != nil {
		return kaperrors.NewClientInputError("all_image_paths must be a JSON array of strings", err)
	}
	log := requestLogger(r.Context())

	resp := watchlistResponse{
		Success:           make([]bool, len(paths)),
		PreviewNames:      make([]string, len(paths)),
		PreviewImagesType: preview.PreviewType,
	}
	entries := make([]models.WatchEntry, 0, len(paths))
	for i, path := range paths {
		res, err := s.deps.Previews.Generate(r.Context(), path)
		if err != nil || !res.Success {
			log.Warn("Failed to generate preview", zap.String("path", path), zap.Error(err))
			continue
		}
		resp.Success[i] = true
		resp.PreviewNames[i] = res.PreviewFilename
		entries = append(entries, models.WatchEntry{
			Path:   path,
			Source: path,
			Extra: models.PreviewInfo{
				PreviewName: res.PreviewFilename,
				PreviewPath: res.PreviewFilepath,
			},
		})
	}

	report := s.deps.Watch.Replace(entries)
	resp.WatchlistSize = len(report.Watched)
	resp.WatchAvailable = report.Available

	writeJSON(w, http.StatusOK, resp)
	return nil
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) error {
	writeJSON(w, http.StatusOK, watchlistStatus{
		Paths:          s.deps.Watch.List(),
		WatchAvailable: s.deps.Watch.Available(),
	})
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) error {
	resp := statsResponse{
		Watchlist: watchlistStats{
			Size:      s.deps.Watch.Len(),
			Available: s.deps.Watch.Available(),
		},
		Events:      map[string]interface{}{},
		DigestCache: s.deps.Cache.Stats(),
	}
	if s.deps.Hub != nil {
		resp.Events = s.deps.Hub.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

// handleView serves a file from one of the roots
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	storageType, err := models.ParseStorageType(q.Get("type"))
	if err != nil {
		return kaperrors.NewClientInputError("invalid storage type", err)
	}
	_, full, err := s.deps.Roots.Resolve(storageType, q.Get("subfolder"), q.Get("filename"))
	if err != nil {
		return err
	}

	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return kaperrors.NewNotFoundError("file not found", err)
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, full)
	return nil
}

func (s *Server) handleObjectInfo(w http.ResponseWriter, r *http.Request) error {
	defs, err := s.deps.Nodes.Definitions()
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, defs)
	return nil
}

type nodeCheckResponse struct {
	Valid       bool   `json:"valid"`
	Message     string `json:"message,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// handleNodeCheck validates a node input and returns its change fingerprint
func (s *Server) handleNodeCheck(w http.ResponseWriter, r *http.Request) error {
	node, ok := s.deps.Nodes.Get(r.PathValue("class"))
	if !ok {
		return kaperrors.NewNotFoundError("unknown node class", nil)
	}

	image := r.FormValue("image")
	if err := node.Validate(image); err != nil {
		var ke *kaperrors.KapError
		msg := err.Error()
		if errors.As(err, &ke) {
			msg = ke.Message
		}
		writeJSON(w, http.StatusOK, nodeCheckResponse{Valid: false, Message: msg})
		return nil
	}

	fp, err := node.IsChanged(image)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, nodeCheckResponse{Valid: true, Fingerprint: fp})
	return nil
}

// handleNodeLoad runs a node's load step. With as=png the first composited frame is
// returned as a PNG, otherwise a summary of the decoded output.
func (s *Server) handleNodeLoad(w http.ResponseWriter, r *http.Request) error {
	node, ok := s.deps.Nodes.Get(r.PathValue("class"))
	if !ok {
		return kaperrors.NewNotFoundError("unknown node class", nil)
	}

	out, err := node.Load(r.Context(), r.FormValue("image"))
	if err != nil {
		return err
	}

	if r.FormValue("as") != "png" {
		writeJSON(w, http.StatusOK, out.Summary())
		return nil
	}
	if len(out.Frames) == 0 {
		return kaperrors.NewClientInputError("image has no frames", nil)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := png.Encode(w, out.Frames[0].Image); err != nil {
		requestLogger(r.Context()).Warn("Failed to stream frame", zap.Error(err))
	}
	return nil
}
