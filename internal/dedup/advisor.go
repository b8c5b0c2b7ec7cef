package dedup

import (
	"sort"
	"unicode/utf8"
)

// MergePlan names the canonical asset a duplicate group should collapse
// into, and the assets to merge away.
type MergePlan struct {
	PrimaryAssetID   uint   `json:"primary_asset_id"`
	PrimaryAssetName string `json:"primary_asset_name"`
	MergeAssetIDs    []uint `json:"merge_asset_ids"`
	Reason           string `json:"reason"`
}

// Empty reports whether the plan carries no work.
func (p *MergePlan) Empty() bool {
	return p.PrimaryAssetID == 0 && len(p.MergeAssetIDs) == 0
}

// Advise picks the merge primary for a duplicate group: the member with the
// longest description wins, ties broken by earliest first appearance. Groups
// with fewer than two members yield an empty plan. Deterministic and
// side-effect free.
func Advise(group Group) MergePlan {
	if len(group.Members) < 2 {
		return MergePlan{}
	}

	sorted := make([]Member, len(group.Members))
	copy(sorted, group.Members)
	sort.SliceStable(sorted, func(i, j int) bool {
		li := utf8.RuneCountInString(sorted[i].Asset.Description)
		lj := utf8.RuneCountInString(sorted[j].Asset.Description)
		if li != lj {
			return li > lj
		}
		return episodeOrder(&sorted[i].Asset) < episodeOrder(&sorted[j].Asset)
	})

	primary := sorted[0].Asset
	mergeIDs := make([]uint, 0, len(sorted)-1)
	for _, m := range sorted[1:] {
		mergeIDs = append(mergeIDs, m.Asset.ID)
	}

	return MergePlan{
		PrimaryAssetID:   primary.ID,
		PrimaryAssetName: primary.Name,
		MergeAssetIDs:    mergeIDs,
		Reason:           "选择描述最详细且最早出现的资产作为主资产",
	}
}
