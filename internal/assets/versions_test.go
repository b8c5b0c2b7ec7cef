package assets

import (
	"context"
	"fmt"
	"testing"
	"time"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

func TestCreateVersionRejectsUnknownType(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	vm := NewVersionManager(db)

	_, err := vm.Create(context.Background(), p.ID, "deepseek-chat", "rerun", "", nil)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("Create with bad type = %v, want validation error", err)
	}
}

func TestCreateVersionRejectsMissingProject(t *testing.T) {
	db := openDB(t)
	vm := NewVersionManager(db)

	_, err := vm.Create(context.Background(), 9999, "deepseek-chat", models.ExtractionInitial, "", nil)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("Create for missing project = %v, want not-found error", err)
	}
}

func TestVersionNumbersIncrement(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	vm := NewVersionManager(db)

	for want := 1; want <= 3; want++ {
		v, err := vm.Create(context.Background(), p.ID, "deepseek-chat", models.ExtractionInitial, "", nil)
		if err != nil {
			t.Fatalf("Create version %d: %v", want, err)
		}
		if v.VersionNumber != want {
			t.Fatalf("version_number = %d, want %d", v.VersionNumber, want)
		}
	}
}

func TestSixthVersionEvictsOldest(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	vm := NewVersionManager(db)

	var first *models.AssetExtractionVersion
	for i := 0; i < MaxVersionsPerProject; i++ {
		v, err := vm.Create(context.Background(), p.ID, "deepseek-chat", models.ExtractionInitial, "", nil)
		if err != nil {
			t.Fatalf("Create version %d: %v", i+1, err)
		}
		if first == nil {
			first = v
		}
		// sqlite timestamps have second resolution at default settings;
		// distinct created_at makes the eviction order deterministic
		stamp := time.Now().Add(time.Duration(i-10) * time.Minute)
		err = db.Model(&models.AssetExtractionVersion{}).
			Where("id = ?", v.ID).
			Update("created_at", stamp).Error
		if err != nil {
			t.Fatalf("stamp version: %v", err)
		}
	}

	owned := models.Asset{
		ProjectID:   p.ID,
		AssetType:   models.AssetTypeCharacter,
		Name:        "张三",
		Description: "男主角",
		State:       models.AssetStateLive,
		VersionID:   &first.ID,
	}
	if err := db.Create(&owned).Error; err != nil {
		t.Fatalf("create owned asset: %v", err)
	}

	sixth, err := vm.Create(context.Background(), p.ID, "claude-sonnet-4-5", models.ExtractionOptimization, "角色太少", nil)
	if err != nil {
		t.Fatalf("Create sixth version: %v", err)
	}
	if sixth.VersionNumber != MaxVersionsPerProject {
		t.Fatalf("sixth version_number = %d, want %d", sixth.VersionNumber, MaxVersionsPerProject)
	}

	var count int64
	if err := db.Model(&models.AssetExtractionVersion{}).Where("project_id = ?", p.ID).Count(&count).Error; err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if count != MaxVersionsPerProject {
		t.Fatalf("versions after rotation = %d, want %d", count, MaxVersionsPerProject)
	}

	var evicted int64
	if err := db.Model(&models.AssetExtractionVersion{}).Where("id = ?", first.ID).Count(&evicted).Error; err != nil {
		t.Fatalf("count evicted: %v", err)
	}
	if evicted != 0 {
		t.Fatalf("oldest version %d survived rotation", first.ID)
	}

	var orphan int64
	if err := db.Model(&models.Asset{}).Where("id = ?", owned.ID).Count(&orphan).Error; err != nil {
		t.Fatalf("count orphan asset: %v", err)
	}
	if orphan != 0 {
		t.Fatalf("asset %d of evicted version survived rotation", owned.ID)
	}
}

func TestUpdateAssetCountCountsLiveOnly(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	vm := NewVersionManager(db)

	v, err := vm.Create(context.Background(), p.ID, "deepseek-chat", models.ExtractionInitial, "", nil)
	if err != nil {
		t.Fatalf("Create version: %v", err)
	}

	for i := 0; i < 3; i++ {
		a := models.Asset{
			ProjectID: p.ID,
			AssetType: models.AssetTypeProp,
			Name:      fmt.Sprintf("道具%d", i),
			State:     models.AssetStateLive,
			VersionID: &v.ID,
		}
		if err := db.Create(&a).Error; err != nil {
			t.Fatalf("create asset: %v", err)
		}
		if i == 0 {
			err := db.Model(&models.Asset{}).Where("id = ?", a.ID).
				Updates(map[string]interface{}{"is_deleted": true, "state": models.AssetStateRemoved}).Error
			if err != nil {
				t.Fatalf("soft-delete asset: %v", err)
			}
		}
	}

	if err := vm.UpdateAssetCount(context.Background(), v.ID); err != nil {
		t.Fatalf("UpdateAssetCount: %v", err)
	}
	var reloaded models.AssetExtractionVersion
	if err := db.First(&reloaded, v.ID).Error; err != nil {
		t.Fatalf("reload version: %v", err)
	}
	if reloaded.AssetCount != 2 {
		t.Fatalf("asset_count = %d, want 2", reloaded.AssetCount)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	vm := NewVersionManager(db)

	var ids []uint
	for i := 0; i < 3; i++ {
		v, err := vm.Create(context.Background(), p.ID, "gpt-4", models.ExtractionInitial, "", nil)
		if err != nil {
			t.Fatalf("Create version: %v", err)
		}
		ids = append(ids, v.ID)
	}

	history, err := vm.History(context.Background(), p.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i := range history {
		want := ids[len(ids)-1-i]
		if history[i].ID != want {
			t.Fatalf("history[%d].ID = %d, want %d", i, history[i].ID, want)
		}
	}
}

func TestVersionAssets(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	vm := NewVersionManager(db)

	v1, err := vm.Create(context.Background(), p.ID, "deepseek-chat", models.ExtractionInitial, "", nil)
	if err != nil {
		t.Fatalf("Create version: %v", err)
	}
	v2, err := vm.Create(context.Background(), p.ID, "deepseek-chat", models.ExtractionOptimization, "补充场景", nil)
	if err != nil {
		t.Fatalf("Create version: %v", err)
	}

	mine := models.Asset{ProjectID: p.ID, AssetType: models.AssetTypeScene, Name: "咖啡馆", State: models.AssetStateLive, VersionID: &v1.ID}
	other := models.Asset{ProjectID: p.ID, AssetType: models.AssetTypeScene, Name: "天台", State: models.AssetStateLive, VersionID: &v2.ID}
	if err := db.Create(&mine).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}

	lib, err := vm.VersionAssets(context.Background(), p.ID, v1.ID)
	if err != nil {
		t.Fatalf("VersionAssets: %v", err)
	}
	if lib.Total() != 1 {
		t.Fatalf("version assets = %d, want 1", lib.Total())
	}
	if lib.Scenes[0].Name != "咖啡馆" {
		t.Fatalf("version asset = %q, want 咖啡馆", lib.Scenes[0].Name)
	}

	if _, err := vm.VersionAssets(context.Background(), p.ID, 9999); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("VersionAssets for missing version = %v, want not-found error", err)
	}
}
