package dedup

import (
	"fmt"
	"math"
	"sort"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

// DefaultThreshold is the grouping threshold used when a caller does not
// supply one.
const DefaultThreshold = 0.8

// mergeSuggestionThreshold: at or above it a group is suggested for
// automatic merge, below it for manual review.
const mergeSuggestionThreshold = 0.9

const (
	SuggestionMerge  = "MERGE"
	SuggestionReview = "REVIEW"
)

// Member is one asset inside a duplicate group together with its similarity
// to the group's anchor. The anchor itself carries similarity 1.0.
type Member struct {
	Asset      models.Asset `json:"asset"`
	Similarity float64      `json:"similarity"`
}

// Group is an ephemeral cluster of same-typed assets suspected to describe
// the same entity. Groups are recomputed on every scan and never persisted.
type Group struct {
	GroupID       string   `json:"group_id"`
	AssetType     string   `json:"asset_type"`
	Members       []Member `json:"members"`
	MaxSimilarity float64  `json:"max_similarity"`
	Suggestion    string   `json:"suggestion"`
}

// GroupAssets partitions assets into duplicate clusters using a greedy
// single-pass assignment per type.
//
// Assets are ordered by first appearance then id, and partitioned by type.
// Each not-yet-processed asset becomes an anchor and pulls in every later
// unprocessed same-typed asset scoring at or above the threshold. Clusters
// with fewer than two members are discarded. The assignment is deliberately
// not a transitive closure: two assets close to a shared anchor but not to
// each other still land in one group, and an asset consumed by an early
// anchor is never regrouped under a later, possibly closer one. Changing
// this to a transitive clustering would change emitted groups for existing
// projects.
func GroupAssets(assets []models.Asset, threshold float64) ([]Group, error) {
	if threshold < 0 || threshold > 1 {
		return nil, apperr.Validationf("similarity threshold %.2f is outside [0,1]", threshold)
	}
	if len(assets) == 0 {
		return nil, nil
	}

	ordered := make([]models.Asset, len(assets))
	copy(ordered, assets)
	sort.SliceStable(ordered, func(i, j int) bool {
		ei, ej := episodeOrder(&ordered[i]), episodeOrder(&ordered[j])
		if ei != ej {
			return ei < ej
		}
		return ordered[i].ID < ordered[j].ID
	})

	// Partition by type, keeping first-seen type order stable.
	byType := make(map[string][]models.Asset)
	var typeOrder []string
	for _, a := range ordered {
		if _, ok := byType[a.AssetType]; !ok {
			typeOrder = append(typeOrder, a.AssetType)
		}
		byType[a.AssetType] = append(byType[a.AssetType], a)
	}

	var groups []Group
	for _, assetType := range typeOrder {
		typed := byType[assetType]
		if len(typed) < 2 {
			continue
		}

		processed := make(map[uint]bool)
		for i := range typed {
			anchor := &typed[i]
			if processed[anchor.ID] {
				continue
			}

			members := []Member{{Asset: *anchor, Similarity: 1.0}}
			maxSimilarity := 0.0

			for j := range typed {
				if i == j || processed[typed[j].ID] {
					continue
				}
				similarity := Score(anchor, &typed[j])
				if similarity >= threshold {
					members = append(members, Member{Asset: typed[j], Similarity: similarity})
					processed[typed[j].ID] = true
					maxSimilarity = math.Max(maxSimilarity, similarity)
				}
			}

			if len(members) > 1 {
				suggestion := SuggestionReview
				if maxSimilarity >= mergeSuggestionThreshold {
					suggestion = SuggestionMerge
				}
				groups = append(groups, Group{
					GroupID:       fmt.Sprintf("%s-%s", assetType, anchor.Name),
					AssetType:     assetType,
					Members:       members,
					MaxSimilarity: maxSimilarity,
					Suggestion:    suggestion,
				})
				processed[anchor.ID] = true
			}
		}
	}

	return groups, nil
}

// episodeOrder places assets without a known first appearance after all
// tracked ones.
func episodeOrder(a *models.Asset) uint64 {
	if a.FirstAppearedEpisodeID == nil {
		return math.MaxUint64
	}
	return uint64(*a.FirstAppearedEpisodeID)
}
