package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/assets"
	"DramaForge/server/internal/config"
	"DramaForge/server/internal/dedup"
	"DramaForge/server/internal/extraction"
	"DramaForge/server/internal/models"
	"DramaForge/server/internal/project"
	"DramaForge/server/internal/provider"
	"DramaForge/server/internal/storage"
	"DramaForge/server/internal/storyboard"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type Handlers struct {
	cfg   *config.Config
	db    *gorm.DB
	redis *storage.RedisStore
	hub   *EventHub

	lifecycle  *project.Lifecycle
	merger     *assets.Merger
	versions   *assets.VersionManager
	snapshots  *assets.SnapshotManager
	catalog    *assets.Catalog
	extractor  *extraction.Orchestrator
	storyboard *storyboard.Service
}

func NewHandlers(cfg *config.Config, db *gorm.DB, redis *storage.RedisStore, registry *provider.Registry, hub *EventHub) *Handlers {
	retry := provider.RetryConfig{
		MaxAttempts: cfg.AI.MaxAttempts,
		BaseDelay:   cfg.AI.BaseDelay,
	}
	var cache extraction.ScanInvalidator
	if redis != nil {
		cache = redis
	}
	var events extraction.EventSink
	if hub != nil {
		events = hub
	}
	return &Handlers{
		cfg:        cfg,
		db:         db,
		redis:      redis,
		hub:        hub,
		lifecycle:  project.NewLifecycle(db),
		merger:     assets.NewMerger(db),
		versions:   assets.NewVersionManager(db),
		snapshots:  assets.NewSnapshotManager(db),
		catalog:    assets.NewCatalog(db),
		extractor:  extraction.NewOrchestrator(db, registry, retry, cache, events),
		storyboard: storyboard.NewService(db, registry, retry),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validationf("invalid %s %q", name, raw)
	}
	return uint(id), nil
}

func decodeBody(r *http.Request, into interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return apperr.Validationf("invalid request body: %v", err)
	}
	return nil
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status":  "ok",
		"service": "dramaforge",
	}
	if h.hub != nil {
		payload["ws_clients"] = h.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, payload)
}

// --- projects ---

func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.lifecycle.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.lifecycle.Get(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) TransitionProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.lifecycle.Transition(r.Context(), projectID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- episodes ---

func (h *Handlers) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		EpisodeNumber int    `json:"episode_number"`
		Title         string `json:"title"`
		ScriptContent string `json:"script_content"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.EpisodeNumber <= 0 {
		writeError(w, apperr.Validationf("episode_number must be positive"))
		return
	}
	if req.ScriptContent == "" {
		writeError(w, apperr.Validationf("script_content must not be empty"))
		return
	}
	if _, err := h.lifecycle.Get(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}

	episode := models.Episode{
		ProjectID:     projectID,
		EpisodeNumber: req.EpisodeNumber,
		Title:         req.Title,
		ScriptContent: req.ScriptContent,
		UploadStatus:  models.EpisodeUploaded,
	}
	if err := h.db.WithContext(r.Context()).Create(&episode).Error; err != nil {
		writeError(w, apperr.Conflictf("episode %d already exists in project %d", req.EpisodeNumber, projectID))
		return
	}
	writeJSON(w, http.StatusCreated, episode)
}

func (h *Handlers) ExtractEpisode(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episodeID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Model    string `json:"model"`
		Feedback string `json:"feedback"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	version, err := h.extractor.Run(r.Context(), episodeID, req.Model, req.Feedback)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// --- duplicate detection ---

type scanGroup struct {
	GroupID       string          `json:"group_id"`
	AssetType     string          `json:"asset_type"`
	Suggestion    string          `json:"suggestion"`
	MaxSimilarity float64         `json:"max_similarity"`
	Members       []scanMember    `json:"members"`
	MergePlan     dedup.MergePlan `json:"merge_plan"`
}

type scanMember struct {
	AssetID     uint    `json:"asset_id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Similarity  float64 `json:"similarity"`
}

type scanResponse struct {
	ProjectID uint        `json:"project_id"`
	Threshold float64     `json:"threshold"`
	Groups    []scanGroup `json:"groups"`
	Cached    bool        `json:"cached"`
}

func (h *Handlers) ScanDuplicates(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Threshold *float64 `json:"threshold"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	threshold := h.cfg.Dedup.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	if h.redis != nil {
		if payload, err := h.redis.GetScan(r.Context(), projectID, threshold); err == nil {
			var cached scanResponse
			if json.Unmarshal(payload, &cached) == nil {
				cached.Cached = true
				writeJSON(w, http.StatusOK, cached)
				return
			}
		} else if !storage.IsCacheMiss(err) {
			log.Printf("scan cache read failed for project %d: %v", projectID, err)
		}
	}

	resp, err := h.scan(r.Context(), projectID, threshold)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.redis != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := h.redis.StoreScan(r.Context(), projectID, threshold, payload, h.cfg.Dedup.CacheTTL); err != nil {
				log.Printf("scan cache write failed for project %d: %v", projectID, err)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) scan(ctx context.Context, projectID uint, threshold float64) (*scanResponse, error) {
	if _, err := h.lifecycle.Get(ctx, projectID); err != nil {
		return nil, err
	}

	var rows []models.Asset
	err := h.db.WithContext(ctx).
		Where("project_id = ? AND is_deleted = ?", projectID, false).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load live assets")
	}

	groups, err := dedup.GroupAssets(rows, threshold)
	if err != nil {
		return nil, err
	}

	resp := &scanResponse{ProjectID: projectID, Threshold: threshold, Groups: []scanGroup{}}
	for _, g := range groups {
		out := scanGroup{
			GroupID:       g.GroupID,
			AssetType:     g.AssetType,
			Suggestion:    g.Suggestion,
			MaxSimilarity: g.MaxSimilarity,
			MergePlan:     dedup.Advise(g),
		}
		for _, m := range g.Members {
			out.Members = append(out.Members, scanMember{
				AssetID:     m.Asset.ID,
				Name:        m.Asset.Name,
				Description: m.Asset.Description,
				Similarity:  m.Similarity,
			})
		}
		resp.Groups = append(resp.Groups, out)
	}
	return resp, nil
}

// --- merge ---

func (h *Handlers) MergeAssets(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		PrimaryAssetID uint   `json:"primary_asset_id"`
		MergeAssetIDs  []uint `json:"merge_asset_ids"`
		Reason         string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	// scope check: a primary outside the path's project reads as missing
	if _, err := h.catalog.Get(r.Context(), projectID, req.PrimaryAssetID); err != nil {
		writeError(w, err)
		return
	}

	primary, err := h.merger.Merge(r.Context(), req.PrimaryAssetID, req.MergeAssetIDs, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.redis != nil {
		if err := h.redis.InvalidateScans(r.Context(), projectID); err != nil {
			log.Printf("failed to invalidate scan cache for project %d: %v", projectID, err)
		}
	}
	if h.hub != nil {
		h.hub.Publish("assets_merged", primary.ProjectID, 0,
			"资产合并完成，主资产 "+primary.Name)
	}
	writeJSON(w, http.StatusOK, primary)
}

// --- versions ---

func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	versions, err := h.versions.History(r.Context(), projectID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handlers) GetVersionAssets(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	versionID, err := pathID(r, "versionID")
	if err != nil {
		writeError(w, err)
		return
	}
	library, err := h.versions.VersionAssets(r.Context(), projectID, versionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, library)
}

// --- snapshots ---

func (h *Handlers) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apperr.Validationf("snapshot name must not be empty"))
		return
	}
	snapshot, err := h.snapshots.Create(r.Context(), projectID, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (h *Handlers) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	snapshots, err := h.snapshots.List(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	snapshotID, err := pathID(r, "snapshotID")
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, library, err := h.snapshots.Get(r.Context(), projectID, snapshotID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snapshot,
		"assets":   library,
	})
}

// --- assets ---

func (h *Handlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	library, err := h.catalog.List(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, library)
}

func (h *Handlers) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	projectID, err := pathID(r, "projectID")
	if err != nil {
		writeError(w, err)
		return
	}
	assetID, err := pathID(r, "assetID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.catalog.SoftDelete(r.Context(), projectID, assetID); err != nil {
		writeError(w, err)
		return
	}
	if h.redis != nil {
		if err := h.redis.InvalidateScans(r.Context(), projectID); err != nil {
			log.Printf("failed to invalidate scan cache for project %d: %v", projectID, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) GetMergeHistory(w http.ResponseWriter, r *http.Request) {
	if _, err := pathID(r, "projectID"); err != nil {
		writeError(w, err)
		return
	}
	assetID, err := pathID(r, "assetID")
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.catalog.MergeHistory(r.Context(), assetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// --- storyboards ---

func (h *Handlers) GenerateStoryboards(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episodeID")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Model    string `json:"model"`
		MinShots int    `json:"min_shots"`
		MaxShots int    `json:"max_shots"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	shots, err := h.storyboard.Generate(r.Context(), episodeID, req.Model, req.MinShots, req.MaxShots)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shots)
}

func (h *Handlers) ListStoryboards(w http.ResponseWriter, r *http.Request) {
	episodeID, err := pathID(r, "episodeID")
	if err != nil {
		writeError(w, err)
		return
	}
	shots, err := h.storyboard.List(r.Context(), episodeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shots)
}

// --- websocket ---

func (h *Handlers) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, apperr.Conflictf("event hub is not running"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		log.Printf("failed to generate client id: %v", err)
		conn.Close()
		return
	}
	client := &Client{
		ID:   hex.EncodeToString(buf),
		Conn: conn,
		Send: make(chan []byte, 64),
		Hub:  h.hub,
	}
	h.hub.register <- client
	go client.readPump()
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter wires every route.
func NewRouter(cfg *config.Config, db *gorm.DB, redis *storage.RedisStore, registry *provider.Registry, hub *EventHub) *chi.Mux {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			log.Printf("REQUEST: %s %s", req.Method, req.URL.Path)
			next.ServeHTTP(w, req)
		})
	})
	r.Use(corsMiddleware)

	h := NewHandlers(cfg, db, redis, registry, hub)

	r.Get("/health", h.HealthCheck)
	r.Get("/ws/events", h.ServeEvents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", h.CreateProject)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", h.GetProject)
				r.Post("/status", h.TransitionProject)
				r.Post("/episodes", h.CreateEpisode)
				r.Post("/duplicates/scan", h.ScanDuplicates)

				r.Get("/assets", h.ListAssets)
				r.Post("/assets/merge", h.MergeAssets)
				r.Delete("/assets/{assetID}", h.DeleteAsset)
				r.Get("/assets/{assetID}/merge-history", h.GetMergeHistory)

				r.Get("/asset-versions", h.ListVersions)
				r.Get("/asset-versions/{versionID}", h.GetVersionAssets)

				r.Post("/snapshots", h.CreateSnapshot)
				r.Get("/snapshots", h.ListSnapshots)
				r.Get("/snapshots/{snapshotID}", h.GetSnapshot)
			})
		})

		r.Route("/episodes/{episodeID}", func(r chi.Router) {
			r.Post("/extract", h.ExtractEpisode)
			r.Post("/storyboards", h.GenerateStoryboards)
			r.Get("/storyboards", h.ListStoryboards)
		})
	})

	return r
}
