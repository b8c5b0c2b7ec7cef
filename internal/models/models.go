package models

import "time"

// Project status values. The lifecycle state machine in internal/project is
// the only writer of Project.Status.
const (
	ProjectAssetBuilding        = "ASSET_BUILDING"
	ProjectAssetLocked          = "ASSET_LOCKED"
	ProjectStoryboardGeneration = "STORYBOARD_GENERATION"
	ProjectCompleted            = "COMPLETED"
)

// Episode upload/extraction status values.
const (
	EpisodeUploaded  = "UPLOADED"
	EpisodeAnalyzing = "ANALYZING"
	EpisodeCompleted = "COMPLETED"
	EpisodeFailed    = "FAILED"
)

// Asset types.
const (
	AssetTypeCharacter = "CHARACTER"
	AssetTypeProp      = "PROP"
	AssetTypeScene     = "SCENE"
)

// Asset lifecycle states. LIVE assets participate in duplicate scans and
// snapshots; MERGED assets were soft-deleted by a merge; REMOVED assets were
// soft-deleted by manual curation. EXPIRED is used in audit payloads only:
// version rotation hard-deletes the rows it evicts.
const (
	AssetStateLive    = "LIVE"
	AssetStateMerged  = "MERGED"
	AssetStateRemoved = "REMOVED"
	AssetStateExpired = "EXPIRED"
)

// Extraction types.
const (
	ExtractionInitial      = "initial"
	ExtractionOptimization = "optimization"
)

// Project is a drama project owning episodes, assets and snapshots.
type Project struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Name              string     `gorm:"size:255;uniqueIndex" json:"name"`
	Description       string     `gorm:"type:text" json:"description"`
	Status            string     `gorm:"size:32;default:ASSET_BUILDING" json:"status"`
	CurrentSnapshotID *uint      `json:"current_snapshot_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Episode holds one uploaded script and its extraction status.
type Episode struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ProjectID     uint      `gorm:"index:idx_project_episode,unique" json:"project_id"`
	EpisodeNumber int       `gorm:"index:idx_project_episode,unique" json:"episode_number"`
	Title         string    `gorm:"size:255" json:"title"`
	ScriptContent string    `gorm:"type:text" json:"script_content"`
	UploadStatus  string    `gorm:"size:32;default:UPLOADED" json:"upload_status"`
	UploadedAt    time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
}

// Asset is a named narrative entity extracted from a script. It belongs to
// exactly one project. Once soft-deleted it is never mutated again except
// for audit reads; only LIVE assets participate in duplicate scans.
type Asset struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	ProjectID   uint   `gorm:"index" json:"project_id"`
	AssetType   string `gorm:"size:16" json:"asset_type"`
	Name        string `gorm:"size:255" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	// Character-only fields, empty for props and scenes.
	Gender string `gorm:"size:16" json:"gender,omitempty"`
	Age    string `gorm:"size:32" json:"age,omitempty"`
	Voice  string `gorm:"size:64" json:"voice,omitempty"`
	Role   string `gorm:"size:32" json:"role,omitempty"`

	Importance int `json:"importance"`

	IsDeleted         bool   `gorm:"default:false;index" json:"is_deleted"`
	State             string `gorm:"size:16;default:LIVE" json:"state"`
	MergedIntoAssetID *uint  `json:"merged_into_asset_id,omitempty"`

	FirstAppearedEpisodeID *uint `json:"first_appeared_episode_id"`
	VersionID              *uint `gorm:"index" json:"version_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Live reports whether the asset still participates in scans and snapshots.
func (a *Asset) Live() bool {
	return !a.IsDeleted && a.State == AssetStateLive
}

// AssetExtractionVersion is one provenance-tracked extraction run. A project
// keeps at most five of these; rotation hard-deletes the assets the evicted
// version owns.
type AssetExtractionVersion struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ProjectID      uint      `gorm:"index" json:"project_id"`
	EpisodeID      *uint     `json:"episode_id"`
	VersionNumber  int       `json:"version_number"`
	ModelUsed      string    `gorm:"size:64" json:"model_used"`
	ExtractionType string    `gorm:"size:16" json:"extraction_type"`
	Feedback       string    `gorm:"type:text" json:"feedback,omitempty"`
	AssetCount     int       `json:"asset_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func (AssetExtractionVersion) TableName() string {
	return "asset_extraction_versions"
}

// AssetSnapshot is an immutable point-in-time copy of a project's live asset
// library, serialized as grouped JSON.
type AssetSnapshot struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ProjectID    uint      `gorm:"index" json:"project_id"`
	SnapshotName string    `gorm:"size:255" json:"snapshot_name"`
	Description  string    `gorm:"type:text" json:"description,omitempty"`
	AssetsData   string    `gorm:"type:text" json:"-"`
	AssetCount   int       `json:"asset_count"`
	IsActive     bool      `gorm:"default:false" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AssetMergeHistory is an immutable audit record written once per merged
// asset, never updated or deleted. MergedAssetData preserves the losing
// asset as it was at merge time.
type AssetMergeHistory struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	PrimaryAssetID  uint      `gorm:"index" json:"primary_asset_id"`
	MergedAssetID   uint      `gorm:"index" json:"merged_asset_id"`
	MergeReason     string    `gorm:"type:text" json:"merge_reason,omitempty"`
	MergedAssetData string    `gorm:"type:text" json:"-"`
	MergedAt        time.Time `gorm:"autoCreateTime" json:"merged_at"`
}

func (AssetMergeHistory) TableName() string {
	return "asset_merge_history"
}

// Storyboard is one generated shot of an episode, tied to the snapshot it
// was generated against.
type Storyboard struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	EpisodeID      uint      `gorm:"index:idx_episode_shot,unique" json:"episode_id"`
	SnapshotID     uint      `gorm:"index" json:"snapshot_id"`
	ShotNumber     int       `gorm:"index:idx_episode_shot,unique" json:"shot_number"`
	VoiceCharacter string    `gorm:"size:128" json:"voice_character"`
	Emotion        string    `gorm:"size:64" json:"emotion"`
	Intensity      string    `gorm:"size:32" json:"intensity"`
	Dialogue       string    `gorm:"type:text" json:"dialogue"`
	FusionPrompt   string    `gorm:"type:text" json:"fusion_prompt"`
	MotionPrompt   string    `gorm:"type:text" json:"motion_prompt"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StoryboardAssetReference links a shot to an asset it uses. AssetMerger
// rewrites these when duplicate assets are consolidated.
type StoryboardAssetReference struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	StoryboardID  uint   `gorm:"index" json:"storyboard_id"`
	AssetID       uint   `gorm:"index" json:"asset_id"`
	ReferenceType string `gorm:"size:16;default:PRIMARY" json:"reference_type"`
}

// All lists every model for migration.
func All() []interface{} {
	return []interface{}{
		&Project{},
		&Episode{},
		&Asset{},
		&AssetExtractionVersion{},
		&AssetSnapshot{},
		&AssetMergeHistory{},
		&Storyboard{},
		&StoryboardAssetReference{},
	}
}
