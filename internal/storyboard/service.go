// Package storyboard turns a locked asset library plus an episode script
// into stored shots with per-shot asset references.
package storyboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/assets"
	"DramaForge/server/internal/models"
	"DramaForge/server/internal/provider"
)

const (
	DefaultMinShots = 8
	DefaultMaxShots = 20
)

// Service generates and stores shot breakdowns.
type Service struct {
	db       *gorm.DB
	registry *provider.Registry
	retry    provider.RetryConfig
	snaps    *assets.SnapshotManager
}

func NewService(db *gorm.DB, registry *provider.Registry, retry provider.RetryConfig) *Service {
	return &Service{
		db:       db,
		registry: registry,
		retry:    retry,
		snaps:    assets.NewSnapshotManager(db),
	}
}

// Generate produces the shot breakdown for one episode against the active
// snapshot, creating the snapshot lazily when the project has none yet.
// Regenerating replaces the episode's previous shots.
func (s *Service) Generate(ctx context.Context, episodeID uint, model string, minShots, maxShots int) ([]models.Storyboard, error) {
	if minShots <= 0 {
		minShots = DefaultMinShots
	}
	if maxShots <= 0 {
		maxShots = DefaultMaxShots
	}
	if minShots > maxShots {
		return nil, apperr.Validationf("min_shots %d exceeds max_shots %d", minShots, maxShots)
	}

	var episode models.Episode
	if err := s.db.WithContext(ctx).First(&episode, episodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("episode %d not found", episodeID)
		}
		return nil, apperr.Transaction(err, "failed to load episode")
	}

	prov, err := s.registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.ensureSnapshot(ctx, episode.ProjectID)
	if err != nil {
		return nil, err
	}

	shots, err := provider.WithRetry(ctx, s.retry, func(ctx context.Context) ([]provider.Shot, error) {
		return prov.GenerateStoryboard(ctx, episode.ScriptContent, provider.StoryboardConstraints{
			MinShots: minShots,
			MaxShots: maxShots,
			Assets:   snapshot.AssetsData,
		})
	})
	if err != nil {
		return nil, err
	}

	return s.store(ctx, &episode, snapshot, shots)
}

// ensureSnapshot returns the active snapshot, freezing the current library
// when none exists. An empty library cannot be storyboarded.
func (s *Service) ensureSnapshot(ctx context.Context, projectID uint) (*models.AssetSnapshot, error) {
	snapshot, err := s.snaps.Active(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		return snapshot, nil
	}

	var live int64
	err = s.db.WithContext(ctx).Model(&models.Asset{}).
		Where("project_id = ? AND is_deleted = ?", projectID, false).
		Count(&live).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to count live assets")
	}
	if live == 0 {
		return nil, apperr.Conflictf("project %d has no assets to storyboard against", projectID)
	}

	name := fmt.Sprintf("分镜生成-%s", time.Now().Format("20060102150405"))
	return s.snaps.Create(ctx, projectID, name, "分镜生成前自动创建")
}

// store replaces the episode's shots in one transaction and resolves
// asset_mapping names against the live library.
func (s *Service) store(ctx context.Context, episode *models.Episode, snapshot *models.AssetSnapshot, shots []provider.Shot) ([]models.Storyboard, error) {
	byName, err := s.liveAssetIndex(ctx, episode.ProjectID)
	if err != nil {
		return nil, err
	}

	var stored []models.Storyboard
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old []models.Storyboard
		if err := tx.Where("episode_id = ?", episode.ID).Find(&old).Error; err != nil {
			return apperr.Transaction(err, "failed to load previous shots")
		}
		for _, shot := range old {
			err := tx.Where("storyboard_id = ?", shot.ID).
				Delete(&models.StoryboardAssetReference{}).Error
			if err != nil {
				return apperr.Transaction(err, "failed to drop previous shot references")
			}
		}
		if err := tx.Where("episode_id = ?", episode.ID).Delete(&models.Storyboard{}).Error; err != nil {
			return apperr.Transaction(err, "failed to drop previous shots")
		}

		for _, shot := range shots {
			row := models.Storyboard{
				EpisodeID:      episode.ID,
				SnapshotID:     snapshot.ID,
				ShotNumber:     shot.ShotNumber,
				VoiceCharacter: shot.VoiceCharacter,
				Emotion:        shot.Emotion,
				Intensity:      shot.Intensity,
				Dialogue:       shot.Dialogue,
				FusionPrompt:   shot.FusionPrompt,
				MotionPrompt:   shot.MotionPrompt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return apperr.Transaction(err, "failed to insert shot")
			}

			for _, assetName := range shot.AssetNames {
				assetID, ok := byName[assetName]
				if !ok {
					// a name the model invented is logged, not fatal
					log.Printf("shot %d references unknown asset %q", shot.ShotNumber, assetName)
					continue
				}
				ref := models.StoryboardAssetReference{
					StoryboardID: row.ID,
					AssetID:      assetID,
				}
				if err := tx.Create(&ref).Error; err != nil {
					return apperr.Transaction(err, "failed to insert shot reference")
				}
			}
			stored = append(stored, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Service) liveAssetIndex(ctx context.Context, projectID uint) (map[string]uint, error) {
	var rows []models.Asset
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND is_deleted = ?", projectID, false).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load live assets")
	}
	byName := make(map[string]uint, len(rows))
	for _, a := range rows {
		byName[a.Name] = a.ID
	}
	return byName, nil
}

// List returns an episode's stored shots in shot order.
func (s *Service) List(ctx context.Context, episodeID uint) ([]models.Storyboard, error) {
	var shots []models.Storyboard
	err := s.db.WithContext(ctx).
		Where("episode_id = ?", episodeID).
		Order("shot_number").
		Find(&shots).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load shots")
	}
	return shots, nil
}
