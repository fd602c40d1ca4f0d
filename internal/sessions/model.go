package sessions

import "time"

// ExpiryDays is how long a session's content survives after its last activity.
const ExpiryDays = 7

// Session is one visit by a user. Strokes reference the session they were
// drawn in and are deleted with it once the expiry date passes.
type Session struct {
	ID         string     `gorm:"column:id;primaryKey;size:190;not null"`
	UserID     string     `gorm:"column:user_id;size:190;not null;index:idx_sessions_user_started,priority:1"`
	StartedAt  time.Time  `gorm:"column:started_at;not null;index:idx_sessions_user_started,priority:2"`
	EndedAt    *time.Time `gorm:"column:ended_at"`
	ExpiryDate time.Time  `gorm:"column:expiry_date;not null;index"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "sessions"
}
