package assets

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
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
	// one connection so every session sees the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createProject(t *testing.T, db *gorm.DB, name string) *models.Project {
	t.Helper()
	p := models.Project{Name: name, Status: models.ProjectAssetBuilding}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}
	return &p
}

func createAsset(t *testing.T, db *gorm.DB, projectID uint, assetType, name, desc string) *models.Asset {
	t.Helper()
	a := models.Asset{
		ProjectID:   projectID,
		AssetType:   assetType,
		Name:        name,
		Description: desc,
		State:       models.AssetStateLive,
	}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("create asset %s: %v", name, err)
	}
	return &a
}

func TestMergeRejectsEmptyList(t *testing.T) {
	db := openDB(t)
	m := NewMerger(db)

	_, err := m.Merge(context.Background(), 1, nil, "")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("Merge with empty list = %v, want validation error", err)
	}
}

func TestMergeRejectsSelfMerge(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	a := createAsset(t, db, p.ID, models.AssetTypeCharacter, "张三", "男主角")
	m := NewMerger(db)

	_, err := m.Merge(context.Background(), a.ID, []uint{a.ID}, "")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("self-merge = %v, want validation error", err)
	}
}

func TestMergeSoftDeletesAndRecordsHistory(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	primary := createAsset(t, db, p.ID, models.AssetTypeCharacter, "张三", "三十岁左右的男性 西装革履 表情严肃")
	dup := createAsset(t, db, p.ID, models.AssetTypeCharacter, "老张", "男性 西装革履")
	m := NewMerger(db)

	got, err := m.Merge(context.Background(), primary.ID, []uint{dup.ID}, "选择描述最详细且最早出现的资产作为主资产")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got.ID != primary.ID {
		t.Fatalf("Merge returned asset %d, want %d", got.ID, primary.ID)
	}

	var merged models.Asset
	if err := db.First(&merged, dup.ID).Error; err != nil {
		t.Fatalf("reload merged asset: %v", err)
	}
	if !merged.IsDeleted {
		t.Fatalf("merged asset is_deleted = false, want true")
	}
	if merged.State != models.AssetStateMerged {
		t.Fatalf("merged asset state = %q, want %q", merged.State, models.AssetStateMerged)
	}
	if merged.MergedIntoAssetID == nil || *merged.MergedIntoAssetID != primary.ID {
		t.Fatalf("merged_into_asset_id = %v, want %d", merged.MergedIntoAssetID, primary.ID)
	}

	var history []models.AssetMergeHistory
	if err := db.Find(&history).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history rows = %d, want 1", len(history))
	}
	if history[0].PrimaryAssetID != primary.ID || history[0].MergedAssetID != dup.ID {
		t.Fatalf("history row = (%d, %d), want (%d, %d)",
			history[0].PrimaryAssetID, history[0].MergedAssetID, primary.ID, dup.ID)
	}
	if history[0].MergedAssetData == "" {
		t.Fatalf("history row has empty merged asset data")
	}
}

func TestMergedAssetLeavesLibrary(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	primary := createAsset(t, db, p.ID, models.AssetTypeProp, "怀表", "金色的老式怀表")
	dup := createAsset(t, db, p.ID, models.AssetTypeProp, "金怀表", "金色怀表")
	m := NewMerger(db)

	if _, err := m.Merge(context.Background(), primary.ID, []uint{dup.ID}, ""); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	lib, err := BuildLibrary(db, p.ID)
	if err != nil {
		t.Fatalf("BuildLibrary: %v", err)
	}
	if len(lib.Props) != 1 {
		t.Fatalf("props after merge = %d, want 1", len(lib.Props))
	}
	if lib.Props[0].ID != primary.ID {
		t.Fatalf("surviving prop = %d, want %d", lib.Props[0].ID, primary.ID)
	}
}

func TestMergeRewritesStoryboardReferences(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	primary := createAsset(t, db, p.ID, models.AssetTypeCharacter, "张三", "男主角")
	dup := createAsset(t, db, p.ID, models.AssetTypeCharacter, "老张", "男性")

	ep := models.Episode{ProjectID: p.ID, EpisodeNumber: 1, ScriptContent: "第一集"}
	if err := db.Create(&ep).Error; err != nil {
		t.Fatalf("create episode: %v", err)
	}
	snap := models.AssetSnapshot{ProjectID: p.ID, SnapshotName: "s1", AssetsData: "{}"}
	if err := db.Create(&snap).Error; err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	shot1 := models.Storyboard{EpisodeID: ep.ID, SnapshotID: snap.ID, ShotNumber: 1}
	shot2 := models.Storyboard{EpisodeID: ep.ID, SnapshotID: snap.ID, ShotNumber: 2}
	if err := db.Create(&shot1).Error; err != nil {
		t.Fatalf("create shot 1: %v", err)
	}
	if err := db.Create(&shot2).Error; err != nil {
		t.Fatalf("create shot 2: %v", err)
	}
	// shot 1 references both assets; shot 2 references only the duplicate
	refs := []models.StoryboardAssetReference{
		{StoryboardID: shot1.ID, AssetID: primary.ID},
		{StoryboardID: shot1.ID, AssetID: dup.ID},
		{StoryboardID: shot2.ID, AssetID: dup.ID},
	}
	if err := db.Create(&refs).Error; err != nil {
		t.Fatalf("create references: %v", err)
	}

	m := NewMerger(db)
	if _, err := m.Merge(context.Background(), primary.ID, []uint{dup.ID}, ""); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	var remaining []models.StoryboardAssetReference
	if err := db.Order("storyboard_id, asset_id").Find(&remaining).Error; err != nil {
		t.Fatalf("load references: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("references after merge = %d, want 2", len(remaining))
	}
	for _, r := range remaining {
		if r.AssetID != primary.ID {
			t.Fatalf("reference on shot %d points at asset %d, want %d", r.StoryboardID, r.AssetID, primary.ID)
		}
	}
}

func TestMergeRejectsCrossType(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	primary := createAsset(t, db, p.ID, models.AssetTypeCharacter, "张三", "男主角")
	other := createAsset(t, db, p.ID, models.AssetTypeProp, "怀表", "金色怀表")
	m := NewMerger(db)

	_, err := m.Merge(context.Background(), primary.ID, []uint{other.ID}, "")
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("cross-type merge = %v, want conflict error", err)
	}

	var reloaded models.Asset
	if err := db.First(&reloaded, other.ID).Error; err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if reloaded.IsDeleted {
		t.Fatalf("failed merge mutated asset %d", other.ID)
	}
}

func TestMergeRejectsCrossProject(t *testing.T) {
	db := openDB(t)
	p1 := createProject(t, db, "项目一")
	p2 := createProject(t, db, "项目二")
	primary := createAsset(t, db, p1.ID, models.AssetTypeScene, "咖啡馆", "市中心的咖啡馆")
	other := createAsset(t, db, p2.ID, models.AssetTypeScene, "咖啡厅", "咖啡厅")
	m := NewMerger(db)

	_, err := m.Merge(context.Background(), primary.ID, []uint{other.ID}, "")
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("cross-project merge = %v, want conflict error", err)
	}
}

func TestMergeRejectsDeadCandidate(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	primary := createAsset(t, db, p.ID, models.AssetTypeCharacter, "张三", "男主角")
	dup := createAsset(t, db, p.ID, models.AssetTypeCharacter, "老张", "男性")
	live := createAsset(t, db, p.ID, models.AssetTypeCharacter, "张先生", "中年男性")
	m := NewMerger(db)

	if _, err := m.Merge(context.Background(), primary.ID, []uint{dup.ID}, ""); err != nil {
		t.Fatalf("first merge: %v", err)
	}

	// a batch containing the already-merged asset fails whole, leaving the
	// live candidate untouched
	_, err := m.Merge(context.Background(), primary.ID, []uint{dup.ID, live.ID}, "")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("merge of dead asset = %v, want not-found error", err)
	}
	var reloaded models.Asset
	if err := db.First(&reloaded, live.ID).Error; err != nil {
		t.Fatalf("reload asset: %v", err)
	}
	if reloaded.IsDeleted {
		t.Fatalf("failed batch mutated asset %d", live.ID)
	}
}

func TestMergeRejectsMissingPrimary(t *testing.T) {
	db := openDB(t)
	p := createProject(t, db, "测试项目")
	dup := createAsset(t, db, p.ID, models.AssetTypeCharacter, "老张", "男性")
	m := NewMerger(db)

	_, err := m.Merge(context.Background(), 9999, []uint{dup.ID}, "")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("merge into missing primary = %v, want not-found error", err)
	}
}
