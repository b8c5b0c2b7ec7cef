package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"DramaForge/server/internal/apperr"
)

// Models frequently wrap JSON output in a markdown fence despite the prompt
// forbidding it.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripFence returns the JSON payload of a model reply, unwrapping one
// markdown code fence when present.
func stripFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(trimmed); m != nil {
		return strings.TrimSpace(m[1])
	}
	return trimmed
}

// parseExtraction decodes a model reply into an ExtractionResult. Missing
// groups decode as empty slices; a reply that is not JSON at all is a fatal
// provider error since retrying the identical prompt rarely fixes it.
func parseExtraction(raw string) (*ExtractionResult, error) {
	payload := stripFence(raw)
	var result ExtractionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, apperr.ProviderFatal(err, "model reply is not valid extraction JSON")
	}
	if result.Characters == nil {
		result.Characters = []ExtractedCharacter{}
	}
	if result.Props == nil {
		result.Props = []ExtractedItem{}
	}
	if result.Scenes == nil {
		result.Scenes = []ExtractedItem{}
	}
	return &result, nil
}

// parseStoryboard decodes a shot breakdown reply.
func parseStoryboard(raw string) ([]Shot, error) {
	payload := stripFence(raw)
	var wrapper struct {
		Shots []Shot `json:"shots"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapper); err != nil {
		return nil, apperr.ProviderFatal(err, "model reply is not valid storyboard JSON")
	}
	if len(wrapper.Shots) == 0 {
		return nil, apperr.ProviderFatal(nil, "model reply contains no shots")
	}
	return wrapper.Shots, nil
}
