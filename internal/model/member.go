package model

import "time"

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleManager   Role = "MANAGER"
	RoleModerator Role = "MODERATOR"
	RoleUser      Role = "USER"
)

// IsAdminOrManager reports whether the role may moderate feeds and memberships.
func (r Role) IsAdminOrManager() bool {
	return r == RoleAdmin || r == RoleManager
}

type MemberStatus string

const (
	MemberAccepted MemberStatus = "ACCEPTED"
	MemberPending  MemberStatus = "PENDING"
	MemberLeft     MemberStatus = "LEFT"
)

type CommunityMember struct {
	ID          uint64       `gorm:"primaryKey" json:"id"`
	CommunityID uint64       `gorm:"not null;index;uniqueIndex:uk_community_user" json:"community_id"`
	UserID      uint64       `gorm:"not null;index;uniqueIndex:uk_community_user" json:"user_id"`
	Role        Role         `gorm:"size:16;not null;default:USER" json:"role"`
	Status      MemberStatus `gorm:"size:16;not null;default:ACCEPTED" json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Active reports whether the row is an accepted membership.
func (m *CommunityMember) Active() bool {
	return m != nil && m.Status == MemberAccepted
}

type JoinRequest struct {
	ID          uint64    `gorm:"primaryKey" json:"id"`
	CommunityID uint64    `gorm:"not null;uniqueIndex:uk_join_community_user" json:"community_id"`
	UserID      uint64    `gorm:"not null;uniqueIndex:uk_join_community_user" json:"user_id"`
	Message     string    `gorm:"size:255" json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}
