// Package provider abstracts the language-model vendors behind a single
// extraction interface. A model id from the public API resolves through the
// Registry to a concrete client; failures are classified transient or fatal
// so the orchestrator knows what to retry.
package provider

import "context"

// ExtractedCharacter is one character the model found in a script.
type ExtractedCharacter struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      string `json:"gender"`
	Age         string `json:"age"`
	Voice       string `json:"voice"`
	Role        string `json:"role"`
	Importance  int    `json:"importance"`
}

// ExtractedItem is one prop or scene.
type ExtractedItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Importance  int    `json:"importance"`
}

// ExtractionResult is the parsed output of one extraction call.
type ExtractionResult struct {
	Characters []ExtractedCharacter `json:"characters"`
	Props      []ExtractedItem      `json:"props"`
	Scenes     []ExtractedItem      `json:"scenes"`
}

// Total counts all extracted assets.
func (r *ExtractionResult) Total() int {
	return len(r.Characters) + len(r.Props) + len(r.Scenes)
}

// EpisodeContext carries per-run extraction inputs beyond the script itself.
// Feedback and CurrentAssets are set only on optimization runs.
type EpisodeContext struct {
	EpisodeNumber int
	Feedback      string
	CurrentAssets string
}

// Shot is one parsed storyboard shot. AssetNames lists library asset names
// the shot uses; the storyboard service resolves them to asset rows.
type Shot struct {
	ShotNumber     int      `json:"shot_number"`
	VoiceCharacter string   `json:"voice_character"`
	Emotion        string   `json:"emotion"`
	Intensity      string   `json:"intensity"`
	Dialogue       string   `json:"dialogue"`
	FusionPrompt   string   `json:"fusion_prompt"`
	MotionPrompt   string   `json:"motion_prompt"`
	AssetNames     []string `json:"asset_mapping"`
}

// StoryboardConstraints bounds a shot breakdown request. Assets is the
// snapshot library as JSON.
type StoryboardConstraints struct {
	MinShots int
	MaxShots int
	Assets   string
}

// ExtractionProvider is one configured model. Implementations return
// apperr provider errors: transient for rate limits, timeouts and server
// errors, fatal for auth failures and malformed output.
type ExtractionProvider interface {
	Name() string
	ExtractAssets(ctx context.Context, script string, episode EpisodeContext) (*ExtractionResult, error)
	GenerateStoryboard(ctx context.Context, script string, constraints StoryboardConstraints) ([]Shot, error)
}
