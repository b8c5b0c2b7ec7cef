package assets

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

// Catalog serves the read and manual-curation side of the asset library.
type Catalog struct {
	db *gorm.DB
}

func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// List returns the project's live assets grouped by type.
func (c *Catalog) List(ctx context.Context, projectID uint) (*Library, error) {
	return BuildLibrary(c.db.WithContext(ctx), projectID)
}

// Get loads one asset regardless of its deletion state; merged and removed
// assets stay readable for audit.
func (c *Catalog) Get(ctx context.Context, projectID, assetID uint) (*models.Asset, error) {
	var asset models.Asset
	err := c.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", assetID, projectID).
		First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("asset %d not found in project %d", assetID, projectID)
		}
		return nil, apperr.Transaction(err, "failed to load asset")
	}
	return &asset, nil
}

// SoftDelete removes an asset from the live library via manual curation.
// The row stays behind with state REMOVED.
func (c *Catalog) SoftDelete(ctx context.Context, projectID, assetID uint) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var asset models.Asset
		err := tx.Where("id = ? AND project_id = ?", assetID, projectID).
			First(&asset).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("asset %d not found in project %d", assetID, projectID)
			}
			return apperr.Transaction(err, "failed to load asset")
		}
		if !asset.Live() {
			return apperr.NotFoundf("asset %d not found in project %d", assetID, projectID)
		}

		err = tx.Model(&models.Asset{}).
			Where("id = ?", assetID).
			Updates(map[string]interface{}{
				"is_deleted": true,
				"state":      models.AssetStateRemoved,
			}).Error
		if err != nil {
			return apperr.Transaction(err, "failed to delete asset")
		}
		return nil
	})
}

// MergeHistory returns merge audit rows whose primary is the given asset,
// newest first.
func (c *Catalog) MergeHistory(ctx context.Context, primaryAssetID uint) ([]models.AssetMergeHistory, error) {
	var rows []models.AssetMergeHistory
	err := c.db.WithContext(ctx).
		Where("primary_asset_id = ?", primaryAssetID).
		Order("merged_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load merge history")
	}
	return rows, nil
}
