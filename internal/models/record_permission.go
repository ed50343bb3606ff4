package models

import "time"

// RecordPermission is an explicit per-record grant consulted before ACL
// rule evaluation. Exactly one of UserID or RoleID is set. Revocation is a
// soft delete so the grant history stays queryable.
type RecordPermission struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	OrgID      int64  `gorm:"index;not null" json:"org_id"`
	EntityType string `gorm:"size:100;index:idx_record_perm,priority:1;not null" json:"entity_type"`
	EntityID   string `gorm:"size:100;index:idx_record_perm,priority:2;not null" json:"entity_id"`
	UserID     *int64 `gorm:"index" json:"user_id,omitempty"`
	RoleID     *int64 `gorm:"index" json:"role_id,omitempty"`
	Operation  string `gorm:"size:50;index:idx_record_perm,priority:3;not null" json:"operation"`

	GrantedBy int64      `gorm:"not null" json:"granted_by"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `gorm:"default:true;index" json:"is_active"`
	RevokedBy *int64     `json:"revoked_by,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
	Role *Role `gorm:"foreignKey:RoleID" json:"-"`
}

func (RecordPermission) TableName() string { return "record_permissions" }
