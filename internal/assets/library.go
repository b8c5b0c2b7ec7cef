package assets

import (
	"encoding/json"

	"gorm.io/gorm"

	"DramaForge/server/internal/apperr"
	"DramaForge/server/internal/models"
)

// AssetView is the shape of one asset inside a grouped library payload.
// Character fields are populated only for characters.
type AssetView struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AssetType   string `json:"asset_type"`
	Gender      string `json:"gender,omitempty"`
	Age         string `json:"age,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Role        string `json:"role,omitempty"`
	Importance  int    `json:"importance,omitempty"`
}

// Library is the grouped view of a project's assets. It is what snapshots
// serialize and what storyboard generation consumes; the round-trip through
// JSON must reproduce it exactly.
type Library struct {
	Characters []AssetView `json:"characters"`
	Props      []AssetView `json:"props"`
	Scenes     []AssetView `json:"scenes"`
}

// Total counts all assets across groups.
func (l *Library) Total() int {
	return len(l.Characters) + len(l.Props) + len(l.Scenes)
}

// BuildLibrary loads the current live assets of a project grouped by type,
// ordered by type then name.
func BuildLibrary(tx *gorm.DB, projectID uint) (*Library, error) {
	var rows []models.Asset
	err := tx.
		Where("project_id = ? AND is_deleted = ?", projectID, false).
		Order("asset_type, name").
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Transaction(err, "failed to load asset library")
	}
	return libraryOf(rows), nil
}

func libraryOf(rows []models.Asset) *Library {
	lib := &Library{
		Characters: []AssetView{},
		Props:      []AssetView{},
		Scenes:     []AssetView{},
	}
	for i := range rows {
		view := viewOf(&rows[i])
		switch rows[i].AssetType {
		case models.AssetTypeCharacter:
			lib.Characters = append(lib.Characters, view)
		case models.AssetTypeProp:
			lib.Props = append(lib.Props, view)
		case models.AssetTypeScene:
			lib.Scenes = append(lib.Scenes, view)
		}
	}
	return lib
}

func viewOf(a *models.Asset) AssetView {
	view := AssetView{
		ID:          a.ID,
		Name:        a.Name,
		Description: a.Description,
		AssetType:   a.AssetType,
		Importance:  a.Importance,
	}
	if a.AssetType == models.AssetTypeCharacter {
		view.Gender = a.Gender
		view.Age = a.Age
		view.Voice = a.Voice
		view.Role = a.Role
	}
	return view
}

// DecodeLibrary restores the grouped library from a snapshot payload.
func DecodeLibrary(data string) (*Library, error) {
	var lib Library
	if err := json.Unmarshal([]byte(data), &lib); err != nil {
		return nil, apperr.Validationf("snapshot payload is not a valid asset library: %v", err)
	}
	return &lib, nil
}
