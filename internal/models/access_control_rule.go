package models

import (
	"time"

	"gorm.io/datatypes"
)

// AccessControlRule is one ordered ACL entry. Rules for the same
// (entity_type, operation) pair are evaluated by priority DESC, id ASC,
// so evaluation order stays a total order even when priorities collide.
type AccessControlRule struct {
	ID          int64   `gorm:"primaryKey" json:"id"`
	OrgID       int64   `gorm:"index;not null" json:"org_id"`
	Name        string  `gorm:"size:200;not null" json:"name"`
	Description string  `gorm:"size:500" json:"description"`
	EntityType  string  `gorm:"size:100;index:idx_acl_lookup,priority:1;not null" json:"entity_type"`
	Operation   string  `gorm:"size:50;index:idx_acl_lookup,priority:2;not null" json:"operation"`
	FieldName   *string `gorm:"size:100" json:"field_name,omitempty"` // nil = record-level rule

	// Condition holds the JSON predicate AST evaluated against the check
	// context. Empty means the rule is unconditional.
	Condition datatypes.JSON `gorm:"type:json" json:"condition,omitempty"`

	AllowedRoles datatypes.JSONSlice[string] `gorm:"type:json" json:"allowed_roles"`
	DeniedRoles  datatypes.JSONSlice[string] `gorm:"type:json" json:"denied_roles"`
	AllowedUsers datatypes.JSONSlice[int64]  `gorm:"type:json" json:"allowed_users"`
	DeniedUsers  datatypes.JSONSlice[int64]  `gorm:"type:json" json:"denied_users"`

	RequiresApproval bool `gorm:"default:false" json:"requires_approval"`
	Priority         int  `gorm:"default:100;index" json:"priority"`
	IsActive         bool `gorm:"default:true;index" json:"is_active"`

	CreatedBy int64     `gorm:"index" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Org *Organization `gorm:"foreignKey:OrgID" json:"-"`
}

func (AccessControlRule) TableName() string { return "access_control_rules" }
