package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/assets"
	"DramaForge/server/internal/models"
)

// transitions is the full state graph. ASSET_LOCKED can fall back to
// ASSET_BUILDING so a library can be reopened before storyboards exist;
// COMPLETED is terminal.
var transitions = map[string][]string{
	models.ProjectAssetBuilding:        {models.ProjectAssetLocked},
	models.ProjectAssetLocked:          {models.ProjectStoryboardGeneration, models.ProjectAssetBuilding},
	models.ProjectStoryboardGeneration: {models.ProjectCompleted},
	models.ProjectCompleted:            {},
}

func allowed(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Lifecycle drives project status transitions. Locking the asset phase
// freezes the library into a snapshot in the same transaction that flips
// the status.
type Lifecycle struct {
	db *gorm.DB
}

func NewLifecycle(db *gorm.DB) *Lifecycle {
	return &Lifecycle{db: db}
}

// Create registers a new project in the ASSET_BUILDING phase.
func (l *Lifecycle) Create(ctx context.Context, name, description string) (*models.Project, error) {
	if name == "" {
		return nil, apperr.Validationf("project name must not be empty")
	}
	project := models.Project{
		Name:        name,
		Description: description,
		Status:      models.ProjectAssetBuilding,
	}
	if err := l.db.WithContext(ctx).Create(&project).Error; err != nil {
		return nil, apperr.Transaction(err, "failed to create project")
	}
	return &project, nil
}

// Get loads one project.
func (l *Lifecycle) Get(ctx context.Context, projectID uint) (*models.Project, error) {
	var project models.Project
	if err := l.db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("project %d not found", projectID)
		}
		return nil, apperr.Transaction(err, "failed to load project")
	}
	return &project, nil
}

// Transition moves the project to the target status, enforcing the state
// graph. Moving into ASSET_LOCKED additionally requires a non-empty live
// library and creates the lock snapshot atomically with the status change.
func (l *Lifecycle) Transition(ctx context.Context, projectID uint, target string) (*models.Project, error) {
	if _, ok := transitions[target]; !ok {
		return nil, apperr.Validationf("unknown project status %q", target)
	}

	var project models.Project
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("project %d not found", projectID)
			}
			return apperr.Transaction(err, "failed to load project")
		}
		if !allowed(project.Status, target) {
			return apperr.Conflictf("project %d cannot move from %s to %s", projectID, project.Status, target)
		}

		if target == models.ProjectAssetLocked {
			if err := l.lock(tx, &project); err != nil {
				return err
			}
		}

		err := tx.Model(&models.Project{}).
			Where("id = ?", projectID).
			Update("status", target).Error
		if err != nil {
			return apperr.Transaction(err, "failed to update project status")
		}
		project.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// lock verifies the library is non-empty and freezes it. The snapshot name
// carries the lock time so the history reads chronologically.
func (l *Lifecycle) lock(tx *gorm.DB, project *models.Project) error {
	var live int64
	err := tx.Model(&models.Asset{}).
		Where("project_id = ? AND is_deleted = ?", project.ID, false).
		Count(&live).Error
	if err != nil {
		return apperr.Transaction(err, "failed to count live assets")
	}
	if live == 0 {
		return apperr.Conflictf("project %d has no assets to lock", project.ID)
	}

	name := fmt.Sprintf("资产锁定-%s", time.Now().Format("20060102150405"))
	snapshot, err := assets.CreateSnapshotInTx(tx, project.ID, name, "锁定资产库时自动创建")
	if err != nil {
		return err
	}
	project.CurrentSnapshotID = &snapshot.ID
	return nil
}
