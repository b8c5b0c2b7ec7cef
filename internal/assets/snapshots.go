package assets

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

// SnapshotManager freezes the live asset library into immutable snapshots.
// A snapshot's payload never changes after creation: later merges and
// deletes leave it intact.
type SnapshotManager struct {
	db *gorm.DB
}

func NewSnapshotManager(db *gorm.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// Create freezes the current live library under the given name and makes
// the new snapshot the project's active one.
func (s *SnapshotManager) Create(ctx context.Context, projectID uint, name, description string) (*models.AssetSnapshot, error) {
	var snapshot *models.AssetSnapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		snapshot, txErr = CreateSnapshotInTx(tx, projectID, name, description)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CreateSnapshotInTx does the freeze inside an existing transaction so
// lifecycle locking and extraction can bundle it with their own writes.
func CreateSnapshotInTx(tx *gorm.DB, projectID uint, name, description string) (*models.AssetSnapshot, error) {
	var project models.Project
	if err := tx.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("project %d not found", projectID)
		}
		return nil, apperr.Transaction(err, "failed to load project")
	}

	library, err := BuildLibrary(tx, projectID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(library)
	if err != nil {
		return nil, apperr.Transaction(err, "failed to serialize asset library")
	}

	// Exactly one active snapshot per project.
	err = tx.Model(&models.AssetSnapshot{}).
		Where("project_id = ? AND is_active = ?", projectID, true).
		Update("is_active", false).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to deactivate previous snapshots")
	}

	snapshot := models.AssetSnapshot{
		ProjectID:    projectID,
		SnapshotName: name,
		Description:  description,
		AssetsData:   string(data),
		AssetCount:   library.Total(),
		IsActive:     true,
	}
	if err := tx.Create(&snapshot).Error; err != nil {
		return nil, apperr.Transaction(err, "failed to create snapshot")
	}

	err = tx.Model(&models.Project{}).
		Where("id = ?", projectID).
		Update("current_snapshot_id", snapshot.ID).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to update current snapshot")
	}
	return &snapshot, nil
}

// Get loads one snapshot with its decoded library.
func (s *SnapshotManager) Get(ctx context.Context, projectID, snapshotID uint) (*models.AssetSnapshot, *Library, error) {
	var snapshot models.AssetSnapshot
	err := s.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", snapshotID, projectID).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFoundf("snapshot %d not found in project %d", snapshotID, projectID)
		}
		return nil, nil, apperr.Transaction(err, "failed to load snapshot")
	}

	library, err := DecodeLibrary(snapshot.AssetsData)
	if err != nil {
		return nil, nil, err
	}
	return &snapshot, library, nil
}

// List returns a project's snapshots, newest first.
func (s *SnapshotManager) List(ctx context.Context, projectID uint) ([]models.AssetSnapshot, error) {
	var snapshots []models.AssetSnapshot
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to list snapshots")
	}
	return snapshots, nil
}

// Active returns the project's active snapshot, or nil when none exists.
func (s *SnapshotManager) Active(ctx context.Context, projectID uint) (*models.AssetSnapshot, error) {
	var snapshot models.AssetSnapshot
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND is_active = ?", projectID, true).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.Transaction(err, "failed to load active snapshot")
	}
	return &snapshot, nil
}
