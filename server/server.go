package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// maxUploadMemory is how much of a multipart body is held in memory before
// spilling to temp files.
const maxUploadMemory = 64 << 20

// Server is the HTTP front of the storage manager
type Server struct {
	config  *Config
	manager *StorageManager
	auth    *Authenticator
	router  chi.Router
}

// NewServer wires the two tiers, the cache, and the routes from config
func NewServer(config *Config) (*Server, error) {
	if config.Auth.Password == "" {
		return nil, fmt.Errorf("auth password is required (config auth.password or AUTH_PASSWORD)")
	}

	db, err := NewSQLiteStore(config.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite store: %v", err)
	}

	// Schema creation is idempotent and its failure is not fatal: the
	// tables may already exist and individual operations will surface
	// their own errors.
	if err := db.Initialize(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to initialize sqlite schema, continuing")
	}

	blobs, err := NewS3BlobStore(config.AWS.Region, config.AWS.Endpoint, config.AWS.S3.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %v", err)
	}

	// Create Redis cache or use NoOpCache if Redis is not available
	var cache Cache = &NoOpCache{}
	if config.Redis.Address != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(ctx, config.Redis.Address, config.Redis.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create Redis cache, continuing with NoOpCache")
		} else {
			cache = redisCache
			log.Info().Str("address", config.Redis.Address).Msg("Connected to Redis cache")
		}
	}

	manager := NewStorageManager(blobs, db, cache)
	return newServer(config, manager, NewAuthenticator(config.Auth.Password)), nil
}

// newServer builds the route table around an already-wired manager
func newServer(config *Config, manager *StorageManager, auth *Authenticator) *Server {
	s := &Server{
		config:  config,
		manager: manager,
		auth:    auth,
	}

	r := chi.NewRouter()
	r.Use(MetricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Download links work without a cookie so stored files can be shared
	r.Get("/file/{id}", s.handleDownload)
	r.Post("/auth", s.handleLogin)

	r.Group(func(pr chi.Router) {
		pr.Use(s.auth.Middleware(s.renderLoginPage))
		pr.Get("/", s.handleIndex)
		pr.Post("/upload", s.handleUpload)
		pr.Get("/api/files", s.handleListFiles)
		pr.Delete("/api/files/{id}", s.handleDeleteFile)
		pr.Get("/api/settings", s.handleGetSettings)
		pr.Put("/api/settings", s.handleSaveSettings)
		pr.Get("/api/orphans", s.handleOrphans)
	})

	s.router = r
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	log.Info().Str("addr", addr).Msg("HTTP server listening")
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the route table, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles the liveness endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// handleLogin handles the password form
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	if !s.auth.ValidatePassword(r.FormValue("password")) {
		settings, _ := s.manager.LoadSettings(r.Context())
		renderPage(w, "login.html", &loginPageData{Error: "Invalid password", Settings: orEmptySettings(settings)})
		return
	}

	http.SetCookie(w, s.auth.Cookie())
	http.Redirect(w, r, "/", http.StatusFound)
}

// renderLoginPage serves the login page to unauthenticated browsers
func (s *Server) renderLoginPage(w http.ResponseWriter, r *http.Request) {
	settings, _ := s.manager.LoadSettings(r.Context())
	renderPage(w, "login.html", &loginPageData{Settings: orEmptySettings(settings)})
}

// handleIndex renders the main page with the current file listing
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	files, err := s.manager.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list files")
		http.Error(w, "Failed to list files", http.StatusInternalServerError)
		return
	}

	settings, err := s.manager.LoadSettings(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		settings = &Settings{}
	}

	renderPage(w, "main.html", &mainPageData{Files: files, Settings: settings})
}

// handleDownload streams a stored file back as an attachment
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	file, err := s.manager.Retrieve(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to retrieve file")
		http.Error(w, "Failed to retrieve file", http.StatusBadGateway)
		return
	}
	defer file.Body.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Record.Filename))
	w.Header().Set("Content-Type", "application/octet-stream")
	if file.Record.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Record.Size, 10))
	}

	if _, err := io.Copy(w, file.Body); err != nil {
		log.Warn().Err(err).Str("id", id).Msg("Download interrupted")
	}
}

// uploadResult is the per-file outcome of a batch upload
type uploadResult struct {
	Filename string      `json:"filename"`
	Record   *FileRecord `json:"record,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// handleUpload stores each uploaded file sequentially, collecting per-file
// results; one file's failure does not abort the rest
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "bad multipart form", http.StatusBadRequest)
		return
	}

	requested, ok := ParseStorageType(r.FormValue("storage"))
	if !ok {
		http.Error(w, "unknown storage type", http.StatusBadRequest)
		return
	}
	preview := r.FormValue("preview") == "true" || r.FormValue("preview") == "on"
	// Folder uploads carry their relative directory separately; multipart
	// filenames arrive base-name only.
	dir := strings.Trim(path.Clean("/"+r.FormValue("path")), "/")

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "no files in request", http.StatusBadRequest)
		return
	}

	results := make([]uploadResult, 0, len(files))
	failed := false
	for _, header := range files {
		record, err := s.storeUploadedFile(r.Context(), header, dir, requested, preview)
		if err != nil {
			log.Error().Err(err).Str("filename", header.Filename).Msg("Failed to store file")
			results = append(results, uploadResult{Filename: header.Filename, Error: err.Error()})
			failed = true
			continue
		}
		results = append(results, uploadResult{Filename: record.Filename, Record: record})
	}

	status := http.StatusOK
	if failed {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]interface{}{"results": results})
}

// storeUploadedFile hands one multipart part to the storage manager
func (s *Server) storeUploadedFile(ctx context.Context, header *multipart.FileHeader, dir string, requested StorageType, preview bool) (*FileRecord, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %v", err)
	}
	defer f.Close()

	filename := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if dir != "" {
		filename = dir + "/" + filename
	}

	record, err := s.manager.Store(ctx, &FileUpload{
		Filename:       filename,
		Path:           dir,
		Size:           header.Size,
		Body:           f,
		PreviewEnabled: preview,
	}, requested)
	return record, err
}

// handleListFiles returns the catalog listing
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.manager.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list files")
		http.Error(w, "Failed to list files", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

// handleDeleteFile deletes one file; deleting an absent id is a 404, not an
// error
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.manager.Delete(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete file")
		http.Error(w, "Failed to delete file", http.StatusBadGateway)
		return
	}
	if !deleted {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleGetSettings returns the settings row
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.manager.LoadSettings(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		http.Error(w, "Failed to load settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

// handleSaveSettings upserts the settings row
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.manager.SaveSettings(r.Context(), &settings); err != nil {
		log.Error().Err(err).Msg("Failed to save settings")
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, &settings)
}

// handleOrphans runs the read-only reconciliation scan
func (s *Server) handleOrphans(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.ScanOrphans(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to scan for orphans")
		http.Error(w, "Failed to scan for orphans", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func orEmptySettings(settings *Settings) *Settings {
	if settings == nil {
		return &Settings{}
	}
	return settings
}
