package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"DramaForge/server/internal/config"
	"DramaForge/server/internal/models"
	"DramaForge/server/internal/provider"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestRouter(t *testing.T, db *gorm.DB) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.Dedup.Threshold = 0.8
	registry := provider.NewRegistry(config.AIConfig{})
	return NewRouter(cfg, db, nil, registry, NewEventHub())
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsClientCount(t *testing.T) {
	db := openDB(t)
	router := newTestRouter(t, db)

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d, want 200", rec.Code)
	}

	var payload struct {
		Status    string `json:"status"`
		WSClients *int   `json:"ws_clients"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("status = %q, want ok", payload.Status)
	}
	if payload.WSClients == nil || *payload.WSClients != 0 {
		t.Fatalf("ws_clients = %v, want 0", payload.WSClients)
	}
}

func TestMergeRejectsPrimaryOutsideProject(t *testing.T) {
	db := openDB(t)
	router := newTestRouter(t, db)

	p1 := models.Project{Name: "项目一", Status: models.ProjectAssetBuilding}
	p2 := models.Project{Name: "项目二", Status: models.ProjectAssetBuilding}
	if err := db.Create(&p1).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := db.Create(&p2).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	primary := models.Asset{ProjectID: p2.ID, AssetType: models.AssetTypeCharacter, Name: "张三", Description: "男主角", State: models.AssetStateLive}
	dup := models.Asset{ProjectID: p2.ID, AssetType: models.AssetTypeCharacter, Name: "老张", Description: "男性", State: models.AssetStateLive}
	if err := db.Create(&primary).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if err := db.Create(&dup).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}

	body := map[string]interface{}{
		"primary_asset_id": primary.ID,
		"merge_asset_ids":  []uint{dup.ID},
	}

	// wrong project scope: the merge must not apply
	rec := doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/projects/%d/assets/merge", p1.ID), body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("merge under wrong project = %d, want 404", rec.Code)
	}
	var untouched models.Asset
	if err := db.First(&untouched, dup.ID).Error; err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if untouched.IsDeleted {
		t.Fatalf("out-of-scope merge was applied")
	}

	// owning project: same request succeeds
	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/projects/%d/assets/merge", p2.ID), body)
	if rec.Code != http.StatusOK {
		t.Fatalf("merge under owning project = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var merged models.Asset
	if err := db.First(&merged, dup.ID).Error; err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if !merged.IsDeleted || merged.State != models.AssetStateMerged {
		t.Fatalf("merged asset = (is_deleted=%v, state=%q), want (true, MERGED)", merged.IsDeleted, merged.State)
	}
}
