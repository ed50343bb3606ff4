package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID            int64          `gorm:"primaryKey" json:"id"`
	EventID       string         `gorm:"size:36;index" json:"event_id"`
	OrgID         int64          `gorm:"index;not null" json:"org_id"`
	UserID        int64          `gorm:"index" json:"user_id"`           // nullable (system actions possible)
	Action        string         `gorm:"size:200;not null" json:"action"` // e.g. "acl.grant", "workflow.transition"
	ResourceType  string         `gorm:"size:100" json:"resource_type"`
	ResourceID    string         `gorm:"size:100;index" json:"resource_id"`
	Metadata      datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	IP            string         `gorm:"size:64" json:"ip"`
	InitiatorName string         `gorm:"size:255" json:"initiator_name"`
	CreatedAt     time.Time      `json:"created_at"`

	Org  *Organization `gorm:"foreignKey:OrgID" json:"-"`
	User *User         `gorm:"foreignKey:UserID" json:"-"`
}
