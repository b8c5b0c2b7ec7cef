package assets

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

// Merger consolidates duplicate assets into one canonical record. One call
// is one transaction: merge history, reference rewrites and soft-deletes
// either all commit or none do.
type Merger struct {
	db *gorm.DB
}

func NewMerger(db *gorm.DB) *Merger {
	return &Merger{db: db}
}

// Merge folds every asset in mergeIDs into the primary asset. Validation
// runs to completion before any mutation: the primary must be live, every
// merge id must name a live asset of the same project and type. Merged
// assets are soft-deleted and permanently excluded from future duplicate
// scans; storyboard references they held are rewritten to the primary.
func (m *Merger) Merge(ctx context.Context, primaryID uint, mergeIDs []uint, reason string) (*models.Asset, error) {
	if len(mergeIDs) == 0 {
		return nil, apperr.Validationf("merge_asset_ids must not be empty")
	}
	for _, id := range mergeIDs {
		if id == primaryID {
			return nil, apperr.Validationf("asset %d cannot be merged into itself", id)
		}
	}

	var primary models.Asset
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRows(tx).First(&primary, primaryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("primary asset %d not found", primaryID)
			}
			return apperr.Transaction(err, "failed to load primary asset")
		}
		if !primary.Live() {
			return apperr.NotFoundf("primary asset %d not found", primaryID)
		}

		var candidates []models.Asset
		if err := lockRows(tx).Where("id IN ?", mergeIDs).Find(&candidates).Error; err != nil {
			return apperr.Transaction(err, "failed to load merge candidates")
		}
		byID := make(map[uint]*models.Asset, len(candidates))
		for i := range candidates {
			byID[candidates[i].ID] = &candidates[i]
		}

		// Full validation pass before any write.
		for _, id := range mergeIDs {
			candidate, ok := byID[id]
			if !ok || !candidate.Live() {
				return apperr.NotFoundf("asset %d not found", id)
			}
			if candidate.ProjectID != primary.ProjectID {
				return apperr.Conflictf("asset %d belongs to project %d, primary belongs to project %d",
					id, candidate.ProjectID, primary.ProjectID)
			}
			if candidate.AssetType != primary.AssetType {
				return apperr.Conflictf("asset %d has type %s, primary has type %s",
					id, candidate.AssetType, primary.AssetType)
			}
		}

		for _, id := range mergeIDs {
			if err := m.applyOne(tx, &primary, byID[id], reason); err != nil {
				return err
			}
		}

		if err := tx.First(&primary, primaryID).Error; err != nil {
			return apperr.Transaction(err, "failed to reload primary asset")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &primary, nil
}

func (m *Merger) applyOne(tx *gorm.DB, primary, merged *models.Asset, reason string) error {
	data, err := json.Marshal(merged)
	if err != nil {
		return apperr.Transaction(err, "failed to serialize merged asset")
	}
	history := models.AssetMergeHistory{
		PrimaryAssetID:  primary.ID,
		MergedAssetID:   merged.ID,
		MergeReason:     reason,
		MergedAssetData: string(data),
	}
	if err := tx.Create(&history).Error; err != nil {
		return apperr.Transaction(err, "failed to record merge history")
	}

	// Rewrite storyboard references. A shot that already references the
	// primary keeps a single reference; the duplicate is dropped.
	var refs []models.StoryboardAssetReference
	if err := tx.Where("asset_id = ?", merged.ID).Find(&refs).Error; err != nil {
		return apperr.Transaction(err, "failed to load storyboard references")
	}
	for i := range refs {
		var existing int64
		err := tx.Model(&models.StoryboardAssetReference{}).
			Where("storyboard_id = ? AND asset_id = ?", refs[i].StoryboardID, primary.ID).
			Count(&existing).Error
		if err != nil {
			return apperr.Transaction(err, "failed to check storyboard reference")
		}
		if existing > 0 {
			if err := tx.Delete(&models.StoryboardAssetReference{}, refs[i].ID).Error; err != nil {
				return apperr.Transaction(err, "failed to drop duplicate storyboard reference")
			}
			continue
		}
		err = tx.Model(&models.StoryboardAssetReference{}).
			Where("id = ?", refs[i].ID).
			Update("asset_id", primary.ID).Error
		if err != nil {
			return apperr.Transaction(err, "failed to rewrite storyboard reference")
		}
	}

	err = tx.Model(&models.Asset{}).
		Where("id = ?", merged.ID).
		Updates(map[string]interface{}{
			"is_deleted":           true,
			"state":                models.AssetStateMerged,
			"merged_into_asset_id": primary.ID,
		}).Error
	if err != nil {
		return apperr.Transaction(err, "failed to soft-delete merged asset")
	}
	return nil
}

// lockRows takes row locks so two overlapping merges serialize at the store
// instead of both validating against a stale live view. SQLite (tests)
// serializes writers on its own and rejects FOR UPDATE syntax.
func lockRows(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "mysql" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
