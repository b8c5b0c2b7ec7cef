package assets

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

// MaxVersionsPerProject bounds the extraction history: a sliding window of
// the five most recent runs.
const MaxVersionsPerProject = 5

// VersionManager creates and rotates extraction versions. Creating a version
// beyond the window evicts the oldest one first, hard-deleting the assets it
// exclusively owns.
type VersionManager struct {
	db *gorm.DB
}

func NewVersionManager(db *gorm.DB) *VersionManager {
	return &VersionManager{db: db}
}

// Create opens its own transaction; extraction runs that already hold one
// use CreateVersionInTx instead.
func (v *VersionManager) Create(ctx context.Context, projectID uint, modelUsed, extractionType, feedback string, episodeID *uint) (*models.AssetExtractionVersion, error) {
	var version *models.AssetExtractionVersion
	err := v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		version, txErr = CreateVersionInTx(tx, projectID, modelUsed, extractionType, feedback, episodeID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

// CreateVersionInTx inserts a version row inside an existing transaction,
// rotating out the oldest version when the project already holds five.
func CreateVersionInTx(tx *gorm.DB, projectID uint, modelUsed, extractionType, feedback string, episodeID *uint) (*models.AssetExtractionVersion, error) {
	if extractionType != models.ExtractionInitial && extractionType != models.ExtractionOptimization {
		return nil, apperr.Validationf("unknown extraction type %q", extractionType)
	}

	var project models.Project
	if err := tx.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("project %d not found", projectID)
		}
		return nil, apperr.Transaction(err, "failed to load project")
	}

	var count int64
	err := tx.Model(&models.AssetExtractionVersion{}).
		Where("project_id = ?", projectID).
		Count(&count).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to count versions")
	}
	if count >= MaxVersionsPerProject {
		if err := evictOldestVersion(tx, projectID); err != nil {
			return nil, err
		}
	}

	var maxNumber int64
	err = tx.Model(&models.AssetExtractionVersion{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to read max version number")
	}
	number := int(maxNumber) + 1
	if number > MaxVersionsPerProject {
		number = MaxVersionsPerProject
	}

	version := models.AssetExtractionVersion{
		ProjectID:      projectID,
		EpisodeID:      episodeID,
		VersionNumber:  number,
		ModelUsed:      modelUsed,
		ExtractionType: extractionType,
		Feedback:       feedback,
	}
	if err := tx.Create(&version).Error; err != nil {
		return nil, apperr.Transaction(err, "failed to create version")
	}
	return &version, nil
}

// evictOldestVersion hard-deletes the oldest version and every asset tagged
// with it. Merged assets owned by the version go too: rotation is the one
// hard-delete path.
func evictOldestVersion(tx *gorm.DB, projectID uint) error {
	var oldest models.AssetExtractionVersion
	err := tx.Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		First(&oldest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return apperr.Transaction(err, "failed to find oldest version")
	}

	if err := tx.Where("version_id = ?", oldest.ID).Delete(&models.Asset{}).Error; err != nil {
		return apperr.Transaction(err, "failed to delete assets of evicted version")
	}
	if err := tx.Delete(&models.AssetExtractionVersion{}, oldest.ID).Error; err != nil {
		return apperr.Transaction(err, "failed to delete evicted version")
	}
	return nil
}

// UpdateAssetCount recomputes and persists the live asset count of a
// version.
func (v *VersionManager) UpdateAssetCount(ctx context.Context, versionID uint) error {
	return v.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return UpdateAssetCountInTx(tx, versionID)
	})
}

func UpdateAssetCountInTx(tx *gorm.DB, versionID uint) error {
	var version models.AssetExtractionVersion
	if err := tx.First(&version, versionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFoundf("version %d not found", versionID)
		}
		return apperr.Transaction(err, "failed to load version")
	}

	var count int64
	err := tx.Model(&models.Asset{}).
		Where("version_id = ? AND is_deleted = ?", versionID, false).
		Count(&count).Error
	if err != nil {
		return apperr.Transaction(err, "failed to count version assets")
	}

	err = tx.Model(&models.AssetExtractionVersion{}).
		Where("id = ?", versionID).
		Update("asset_count", count).Error
	if err != nil {
		return apperr.Transaction(err, "failed to update asset count")
	}
	return nil
}

// History returns a project's versions, newest first.
func (v *VersionManager) History(ctx context.Context, projectID uint, limit int) ([]models.AssetExtractionVersion, error) {
	if limit <= 0 {
		limit = MaxVersionsPerProject
	}
	var versions []models.AssetExtractionVersion
	err := v.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&versions).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load version history")
	}
	return versions, nil
}

// VersionAssets returns the live assets of one version, grouped by type.
func (v *VersionManager) VersionAssets(ctx context.Context, projectID, versionID uint) (*Library, error) {
	var version models.AssetExtractionVersion
	err := v.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", versionID, projectID).
		First(&version).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("version %d not found in project %d", versionID, projectID)
		}
		return nil, apperr.Transaction(err, "failed to load version")
	}

	var rows []models.Asset
	err = v.db.WithContext(ctx).
		Where("version_id = ? AND is_deleted = ?", versionID, false).
		Order("asset_type, name").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load version assets")
	}
	return libraryOf(rows), nil
}
