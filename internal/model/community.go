package model

import (
	"time"

	"gorm.io/datatypes"
)

type Privacy string

const (
	PrivacyPublic  Privacy = "PUBLIC"
	PrivacyPrivate Privacy = "PRIVATE"
)

type JoinPolicy string

const (
	JoinPolicyOpen     JoinPolicy = "OPEN"     // auto-approve
	JoinPolicyApproval JoinPolicy = "APPROVAL" // join requests reviewed by admins
)

// Rule is one entry of a community's ordered rule list.
type Rule struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

type Community struct {
	ID                           uint64     `gorm:"primaryKey" json:"id"`
	EntityID                     uint64     `gorm:"not null;index:idx_community_entity_created,priority:1" json:"entity_id"`
	CreatorID                    uint64     `gorm:"not null;index" json:"creator_id"`
	Name                         string     `gorm:"size:64;not null" json:"name"`
	Description                  string     `gorm:"type:text" json:"description"`
	Privacy                      Privacy    `gorm:"size:16;not null;default:PUBLIC" json:"privacy"`
	JoinPolicy                   JoinPolicy `gorm:"size:16;not null;default:OPEN" json:"join_policy"`
	RequireAdminApprovalForPosts bool       `gorm:"not null;default:false" json:"require_admin_approval_for_posts"`

	MemberCount int64 `gorm:"not null;default:0" json:"member_count"`
	PostCount   int64 `gorm:"not null;default:0" json:"post_count"`
	LikeCount   int64 `gorm:"not null;default:0" json:"like_count"`
	ViewCount   int64 `gorm:"not null;default:0" json:"view_count"`
	ReportCount int64 `gorm:"not null;default:0" json:"report_count"`

	IsFeatured bool `gorm:"not null;default:false" json:"is_featured"`
	IsApproved bool `gorm:"not null;default:false" json:"is_approved"`
	IsFlagged  bool `gorm:"not null;default:false" json:"is_flagged"`

	Rules datatypes.JSONSlice[Rule] `json:"rules"`

	CreatedAt time.Time `gorm:"index:idx_community_entity_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TrendingConfig selects which counters contribute to a tenant's trending score.
type TrendingConfig struct {
	ID             uint64 `gorm:"primaryKey" json:"id"`
	EntityID       uint64 `gorm:"not null;uniqueIndex" json:"entity_id"`
	UseMemberCount bool   `gorm:"not null;default:false" json:"use_member_count"`
	UseLikeCount   bool   `gorm:"not null;default:false" json:"use_like_count"`
	UsePostCount   bool   `gorm:"not null;default:false" json:"use_post_count"`
	UseViewCount   bool   `gorm:"not null;default:false" json:"use_view_count"`
	Length         int    `gorm:"not null;default:10" json:"length"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CommunityView records the last counted view of a user, used to de-duplicate view counts.
type CommunityView struct {
	ID           uint64    `gorm:"primaryKey"`
	CommunityID  uint64    `gorm:"not null;uniqueIndex:uk_view_community_user"`
	UserID       uint64    `gorm:"not null;uniqueIndex:uk_view_community_user"`
	LastViewedAt time.Time `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CommunityReport struct {
	ID          uint64 `gorm:"primaryKey" json:"id"`
	CommunityID uint64 `gorm:"not null;uniqueIndex:uk_report_community_user" json:"community_id"`
	ReporterID  uint64 `gorm:"not null;uniqueIndex:uk_report_community_user" json:"reporter_id"`
	Reason      string `gorm:"size:255" json:"reason"`
	CreatedAt   time.Time
}

type SavedCommunity struct {
	ID          uint64 `gorm:"primaryKey"`
	CommunityID uint64 `gorm:"not null;uniqueIndex:uk_saved_community_user"`
	UserID      uint64 `gorm:"not null;uniqueIndex:uk_saved_community_user;index"`
	CreatedAt   time.Time
}

type CommunityLike struct {
	ID          uint64 `gorm:"primaryKey"`
	CommunityID uint64 `gorm:"not null;uniqueIndex:uk_like_community_user"`
	UserID      uint64 `gorm:"not null;uniqueIndex:uk_like_community_user"`
	CreatedAt   time.Time
}

// CommunityActivity is a best-effort audit trail; writes never fail the primary operation.
type CommunityActivity struct {
	ID          uint64 `gorm:"primaryKey"`
	CommunityID uint64 `gorm:"not null;index"`
	ActorID     uint64 `gorm:"not null"`
	Action      string `gorm:"size:32;not null"`
	TargetID    uint64
	Detail      string `gorm:"size:255"`
	CreatedAt   time.Time
}
