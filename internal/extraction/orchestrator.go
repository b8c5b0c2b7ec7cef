// Package extraction runs the script-to-asset pipeline: it drives episode
// status, calls the configured model with retry, and lands the extracted
// assets in one transaction.
package extraction

import (
	"context"
	"encoding/json"
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

// ScanInvalidator drops cached duplicate-scan results after the library
// changes. Satisfied by storage.RedisStore; nil disables caching concerns.
type ScanInvalidator interface {
	InvalidateScans(ctx context.Context, projectID uint) error
}

// EventSink receives progress events for connected review clients.
// Satisfied by web.EventHub; nil disables broadcasting.
type EventSink interface {
	Publish(eventType string, projectID, episodeID uint, message string)
}

// Event types published during a run.
const (
	EventAnalyzing = "extraction_analyzing"
	EventCompleted = "extraction_completed"
	EventFailed    = "extraction_failed"
)

// Orchestrator owns one end-to-end extraction run per call.
type Orchestrator struct {
	db       *gorm.DB
	registry *provider.Registry
	retry    provider.RetryConfig
	cache    ScanInvalidator
	events   EventSink
}

func NewOrchestrator(db *gorm.DB, registry *provider.Registry, retry provider.RetryConfig, cache ScanInvalidator, events EventSink) *Orchestrator {
	return &Orchestrator{
		db:       db,
		registry: registry,
		retry:    retry,
		cache:    cache,
		events:   events,
	}
}

// Run extracts assets from one episode's script. Non-empty feedback makes
// it an optimization run: the current library rides along as context and
// version-untagged legacy assets are removed when the new set lands.
//
// Episode status moves UPLOADED -> ANALYZING -> COMPLETED or FAILED. The
// status writes commit on their own so a crash mid-run leaves an honest
// ANALYZING row rather than silently rolling back to UPLOADED.
//
// A run outlives its caller: the context is detached up front, so an
// abandoned request cancels neither the retry loop nor the status write
// that records the outcome. An episode therefore never sticks in
// ANALYZING because a client disconnected.
func (o *Orchestrator) Run(ctx context.Context, episodeID uint, model, feedback string) (*models.AssetExtractionVersion, error) {
	ctx = context.WithoutCancel(ctx)

	// validation before any mutation: an unknown model must not touch
	// episode state
	prov, err := o.registry.Resolve(model)
	if err != nil {
		return nil, err
	}

	episode, err := o.claim(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	extractionType := models.ExtractionInitial
	currentAssets := ""
	if feedback != "" {
		extractionType = models.ExtractionOptimization
		library, err := assets.BuildLibrary(o.db.WithContext(ctx), episode.ProjectID)
		if err != nil {
			o.fail(ctx, episode, err)
			return nil, err
		}
		data, err := json.Marshal(library)
		if err != nil {
			wrapped := apperr.Transaction(err, "failed to serialize current library")
			o.fail(ctx, episode, wrapped)
			return nil, wrapped
		}
		currentAssets = string(data)
	}

	o.publish(EventAnalyzing, episode, fmt.Sprintf("模型 %s 开始拆解第 %d 集", prov.Name(), episode.EpisodeNumber))

	result, err := provider.WithRetry(ctx, o.retry, func(ctx context.Context) (*provider.ExtractionResult, error) {
		return prov.ExtractAssets(ctx, episode.ScriptContent, provider.EpisodeContext{
			EpisodeNumber: episode.EpisodeNumber,
			Feedback:      feedback,
			CurrentAssets: currentAssets,
		})
	})
	if err != nil {
		o.fail(ctx, episode, err)
		return nil, err
	}

	version, err := o.commit(ctx, episode, prov.Name(), extractionType, feedback, result)
	if err != nil {
		o.fail(ctx, episode, err)
		return nil, err
	}

	if err := o.complete(ctx, episode); err != nil {
		return nil, err
	}
	if o.cache != nil {
		if err := o.cache.InvalidateScans(ctx, episode.ProjectID); err != nil {
			log.Printf("failed to invalidate scan cache for project %d: %v", episode.ProjectID, err)
		}
	}
	o.publish(EventCompleted, episode, fmt.Sprintf("第 %d 集拆解完成，共 %d 个资产", episode.EpisodeNumber, result.Total()))
	return version, nil
}

// claim loads the episode and flips it to ANALYZING. A COMPLETED episode is
// never re-run; a concurrent ANALYZING run is refused too.
func (o *Orchestrator) claim(ctx context.Context, episodeID uint) (*models.Episode, error) {
	var episode models.Episode
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&episode, episodeID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFoundf("episode %d not found", episodeID)
			}
			return apperr.Transaction(err, "failed to load episode")
		}
		switch episode.UploadStatus {
		case models.EpisodeCompleted:
			return apperr.Conflictf("episode %d is already extracted", episodeID)
		case models.EpisodeAnalyzing:
			return apperr.Conflictf("episode %d extraction is already running", episodeID)
		}

		err := tx.Model(&models.Episode{}).
			Where("id = ?", episodeID).
			Update("upload_status", models.EpisodeAnalyzing).Error
		if err != nil {
			return apperr.Transaction(err, "failed to mark episode analyzing")
		}
		episode.UploadStatus = models.EpisodeAnalyzing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &episode, nil
}

// commit lands the extraction output: the version row (with rotation), the
// asset rows tagged with it, the recount, and the automatic snapshot. One
// transaction; the episode status is written separately afterwards.
func (o *Orchestrator) commit(ctx context.Context, episode *models.Episode, modelUsed, extractionType, feedback string, result *provider.ExtractionResult) (*models.AssetExtractionVersion, error) {
	var version *models.AssetExtractionVersion
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		version, txErr = assets.CreateVersionInTx(tx, episode.ProjectID, modelUsed, extractionType, feedback, &episode.ID)
		if txErr != nil {
			return txErr
		}

		if extractionType == models.ExtractionOptimization {
			err := tx.Where("project_id = ? AND version_id IS NULL", episode.ProjectID).
				Delete(&models.Asset{}).Error
			if err != nil {
				return apperr.Transaction(err, "failed to remove legacy assets")
			}
		}

		for i := range result.Characters {
			c := &result.Characters[i]
			row := newAssetRow(episode, version.ID, models.AssetTypeCharacter, c.Name, c.Description, c.Importance)
			row.Gender = c.Gender
			row.Age = c.Age
			row.Voice = c.Voice
			row.Role = c.Role
			if err := tx.Create(row).Error; err != nil {
				return apperr.Transaction(err, "failed to insert character asset")
			}
		}
		for i := range result.Props {
			p := &result.Props[i]
			row := newAssetRow(episode, version.ID, models.AssetTypeProp, p.Name, p.Description, p.Importance)
			if err := tx.Create(row).Error; err != nil {
				return apperr.Transaction(err, "failed to insert prop asset")
			}
		}
		for i := range result.Scenes {
			s := &result.Scenes[i]
			row := newAssetRow(episode, version.ID, models.AssetTypeScene, s.Name, s.Description, s.Importance)
			if err := tx.Create(row).Error; err != nil {
				return apperr.Transaction(err, "failed to insert scene asset")
			}
		}

		if err := assets.UpdateAssetCountInTx(tx, version.ID); err != nil {
			return err
		}

		name := fmt.Sprintf("资产拆解-%s", time.Now().Format("20060102150405"))
		_, err := assets.CreateSnapshotInTx(tx, episode.ProjectID, name,
			fmt.Sprintf("第 %d 集拆解后自动创建", episode.EpisodeNumber))
		return err
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}

func newAssetRow(episode *models.Episode, versionID uint, assetType, name, description string, importance int) *models.Asset {
	vid := versionID
	eid := episode.ID
	return &models.Asset{
		ProjectID:              episode.ProjectID,
		AssetType:              assetType,
		Name:                   name,
		Description:            description,
		Importance:             importance,
		State:                  models.AssetStateLive,
		FirstAppearedEpisodeID: &eid,
		VersionID:              &vid,
	}
}

func (o *Orchestrator) complete(ctx context.Context, episode *models.Episode) error {
	err := o.db.WithContext(ctx).Model(&models.Episode{}).
		Where("id = ?", episode.ID).
		Update("upload_status", models.EpisodeCompleted).Error
	if err != nil {
		return apperr.Transaction(err, "failed to mark episode completed")
	}
	return nil
}

// fail marks the episode FAILED and broadcasts. The original error is the
// caller's to return; a failure of the status write itself is only logged.
func (o *Orchestrator) fail(ctx context.Context, episode *models.Episode, cause error) {
	err := o.db.WithContext(ctx).Model(&models.Episode{}).
		Where("id = ?", episode.ID).
		Update("upload_status", models.EpisodeFailed).Error
	if err != nil {
		log.Printf("failed to mark episode %d failed: %v", episode.ID, err)
	}
	o.publish(EventFailed, episode, fmt.Sprintf("第 %d 集拆解失败: %v", episode.EpisodeNumber, cause))
}

func (o *Orchestrator) publish(eventType string, episode *models.Episode, message string) {
	if o.events == nil {
		return
	}
	o.events.Publish(eventType, episode.ProjectID, episode.ID, message)
}
