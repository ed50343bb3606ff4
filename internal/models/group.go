package models

import "time"

// Group is an org-scoped collection of users, referenced by messaging rules.
type Group struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	OrgID       int64  `gorm:"index;not null" json:"org_id"`
	Name        string `gorm:"size:200;not null" json:"name"`
	Description string `gorm:"size:500" json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Users []User `gorm:"many2many:user_groups;" json:"-"`
}

// UserGroup is the users<->groups join table with a composite primary key.
type UserGroup struct {
	UserID  int64 `gorm:"primaryKey"`
	GroupID int64 `gorm:"primaryKey"`
}
