package assets

import (
	"context"
	"testing"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

func TestCreateSnapshotRejectsMissingProject(t *testing.T) {
	db := openDB(t)
	sm := NewSnapshotManager(db)

	_, err := sm.Create(context.Background(), 9999, "s1", "")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("Create for missing project = %v, want not-found error", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	char := models.Asset{
		ProjectID:   p.ID,
		AssetType:   models.AssetTypeCharacter,
		Name:        "张三",
		Description: "三十岁左右的男性",
		Gender:      "男",
		Age:         "30岁左右",
		Voice:       "低沉",
		Role:        "男主角",
		Importance:  9,
		State:       models.AssetStateLive,
	}
	if err := db.Create(&char).Error; err != nil {
		t.Fatalf("create character: %v", err)
	}
	createAsset(t, db, p.ID, models.AssetTypeProp, "怀表", "金色怀表")
	createAsset(t, db, p.ID, models.AssetTypeScene, "咖啡馆", "市中心的咖啡馆")

	sm := NewSnapshotManager(db)
	snap, err := sm.Create(context.Background(), p.ID, "资产拆解-20260827120000", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if snap.AssetCount != 3 {
		t.Fatalf("asset_count = %d, want 3", snap.AssetCount)
	}
	if !snap.IsActive {
		t.Fatalf("new snapshot is_active = false, want true")
	}

	got, lib, err := sm.Get(context.Background(), p.ID, snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SnapshotName != "资产拆解-20260827120000" {
		t.Fatalf("snapshot_name = %q", got.SnapshotName)
	}
	if len(lib.Characters) != 1 || len(lib.Props) != 1 || len(lib.Scenes) != 1 {
		t.Fatalf("library = %d/%d/%d, want 1/1/1", len(lib.Characters), len(lib.Props), len(lib.Scenes))
	}
	c := lib.Characters[0]
	if c.Name != "张三" || c.Gender != "男" || c.Voice != "低沉" || c.Importance != 9 {
		t.Fatalf("character view lost fields: %+v", c)
	}
}

func TestSnapshotImmutableAfterLaterDeletes(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	a := createAsset(t, db, p.ID, models.AssetTypeProp, "怀表", "金色怀表")
	sm := NewSnapshotManager(db)

	snap, err := sm.Create(context.Background(), p.ID, "s1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	c := NewCatalog(db)
	if err := c.SoftDelete(context.Background(), p.ID, a.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	_, lib, err := sm.Get(context.Background(), p.ID, snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(lib.Props) != 1 {
		t.Fatalf("snapshot props after delete = %d, want 1", len(lib.Props))
	}
}

func TestNewSnapshotDeactivatesPrevious(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	createAsset(t, db, p.ID, models.AssetTypeScene, "咖啡馆", "")
	sm := NewSnapshotManager(db)

	first, err := sm.Create(context.Background(), p.ID, "s1", "")
	if err != nil {
		t.Fatalf("Create first: %v", err)
	}
	second, err := sm.Create(context.Background(), p.ID, "s2", "")
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}

	var reloaded models.AssetSnapshot
	if err := db.First(&reloaded, first.ID).Error; err != nil {
		t.Fatalf("reload first snapshot: %v", err)
	}
	if reloaded.IsActive {
		t.Fatalf("first snapshot still active after second was created")
	}

	active, err := sm.Active(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("active snapshot = %v, want %d", active, second.ID)
	}

	var project models.Project
	if err := db.First(&project, p.ID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if project.CurrentSnapshotID == nil || *project.CurrentSnapshotID != second.ID {
		t.Fatalf("current_snapshot_id = %v, want %d", project.CurrentSnapshotID, second.ID)
	}
}

func TestSoftDeleteLeavesAuditRow(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	a := createAsset(t, db, p.ID, models.AssetTypeProp, "怀表", "金色怀表")
	c := NewCatalog(db)

	if err := c.SoftDelete(context.Background(), p.ID, a.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	got, err := c.Get(context.Background(), p.ID, a.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !got.IsDeleted || got.State != models.AssetStateRemoved {
		t.Fatalf("deleted asset = (is_deleted=%v, state=%q), want (true, %q)",
			got.IsDeleted, got.State, models.AssetStateRemoved)
	}

	// deleting twice reads as missing
	if err := c.SoftDelete(context.Background(), p.ID, a.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("second delete = %v, want not-found error", err)
	}
}
