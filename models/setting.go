// models/setting.go
package models

import "time"

// GameSetting is one hot-reloadable tunable. The settings service caches the
// full table and refreshes on a short interval, so changes land without a
// redeploy. Unknown keys are ignored on load.
type GameSetting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
