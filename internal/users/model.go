package users

import "time"

// MaxNameLength bounds the display name a participant may register with.
const MaxNameLength = 20

// User is a registered canvas participant, identified across visits by a
// fingerprint rather than credentials.
type User struct {
	ID              string     `gorm:"column:id;primaryKey;size:190;not null"`
	DisplayName     string     `gorm:"column:display_name;size:64;not null"`
	FingerprintHash string     `gorm:"column:fingerprint_hash;size:64;not null;uniqueIndex"`
	SelectedColor   string     `gorm:"column:selected_color;size:32;not null"`
	LastSessionEnd  *time.Time `gorm:"column:last_session_end"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}
