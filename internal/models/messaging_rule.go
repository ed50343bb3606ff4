package models

import "time"

// MessagingScope selects who a messaging rule's source or target clause
// matches against.
type MessagingScope string

const (
	ScopeAll       MessagingScope = "all"
	ScopeUser      MessagingScope = "user"
	ScopeGroup     MessagingScope = "group"
	ScopeRole      MessagingScope = "role"
	ScopeSameOrg   MessagingScope = "same_org"   // target only
	ScopeSameGroup MessagingScope = "same_group" // target only
)

// MessagingRule decides who can message whom. Rules are checked in
// priority order (highest first); the first rule whose source matches the
// sender and whose target matches the recipient wins. A nil OrgID makes
// the rule global.
type MessagingRule struct {
	ID         int64          `gorm:"primaryKey" json:"id"`
	OrgID      *int64         `gorm:"index" json:"org_id,omitempty"`
	Name       string         `gorm:"size:200" json:"name"`
	SourceType MessagingScope `gorm:"size:20;not null" json:"source_type"`
	SourceID   *int64         `json:"source_id,omitempty"`
	TargetType MessagingScope `gorm:"size:20;not null" json:"target_type"`
	TargetID   *int64         `json:"target_id,omitempty"`
	CanMessage bool           `gorm:"default:true" json:"can_message"`
	Priority   int            `gorm:"default:100;index" json:"priority"`
	IsActive   bool           `gorm:"default:true;index" json:"is_active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (MessagingRule) TableName() string { return "messaging_rules" }
