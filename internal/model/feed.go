package model

import (
	"time"

	"gorm.io/datatypes"
)

type FeedStatus string

const (
	FeedPending  FeedStatus = "PENDING"
	FeedApproved FeedStatus = "APPROVED"
	FeedRejected FeedStatus = "REJECTED"
	FeedFlagged  FeedStatus = "FLAGGED"
)

// ModeratorOnly reports whether listing by this status needs an ADMIN or MANAGER role.
func (s FeedStatus) ModeratorOnly() bool { return s == FeedRejected || s == FeedFlagged }

func (s FeedStatus) Valid() bool {
	switch s {
	case FeedPending, FeedApproved, FeedRejected, FeedFlagged:
		return true
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	return p.Weight() > 0
}

// Weight is the ordering weight of a priority; unknown values weigh 0.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type FeedType string

const (
	FeedTypePost  FeedType = "post"
	FeedTypeJob   FeedType = "job"
	FeedTypeOffer FeedType = "offer"
	FeedTypePoll  FeedType = "poll"
	FeedTypeEvent FeedType = "event"
)

// Feed is the generic post a FeedCommunity link annotates.
type Feed struct {
	ID        uint64     `gorm:"primaryKey" json:"id"`
	EntityID  uint64     `gorm:"not null;index" json:"entity_id"`
	AuthorID  uint64     `gorm:"not null;index" json:"author_id"`
	Content   string     `gorm:"type:text" json:"content"`
	Job       *FeedJob   `gorm:"foreignKey:FeedID" json:"job,omitempty"`
	Offer     *FeedOffer `gorm:"foreignKey:FeedID" json:"offer,omitempty"`
	Poll      *FeedPoll  `gorm:"foreignKey:FeedID" json:"poll,omitempty"`
	Event     *FeedEvent `gorm:"foreignKey:FeedID" json:"event,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Type derives the feed type from its attachments; the first present one wins.
func (f *Feed) Type() FeedType {
	switch {
	case f == nil:
		return FeedTypePost
	case f.Job != nil:
		return FeedTypeJob
	case f.Offer != nil:
		return FeedTypeOffer
	case f.Poll != nil:
		return FeedTypePoll
	case f.Event != nil:
		return FeedTypeEvent
	}
	return FeedTypePost
}

type FeedJob struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	FeedID   uint64 `gorm:"not null;uniqueIndex" json:"feed_id"`
	Title    string `gorm:"size:200;not null" json:"title"`
	Company  string `gorm:"size:128" json:"company"`
	Location string `gorm:"size:128" json:"location"`
}

type FeedOffer struct {
	ID       uint64 `gorm:"primaryKey" json:"id"`
	FeedID   uint64 `gorm:"not null;uniqueIndex" json:"feed_id"`
	Title    string `gorm:"size:200;not null" json:"title"`
	Discount string `gorm:"size:64" json:"discount"`
}

type FeedPoll struct {
	ID       uint64                      `gorm:"primaryKey" json:"id"`
	FeedID   uint64                      `gorm:"not null;uniqueIndex" json:"feed_id"`
	Question string                      `gorm:"size:255;not null" json:"question"`
	Options  datatypes.JSONSlice[string] `json:"options"`
}

type FeedEvent struct {
	ID       uint64     `gorm:"primaryKey" json:"id"`
	FeedID   uint64     `gorm:"not null;uniqueIndex" json:"feed_id"`
	Title    string     `gorm:"size:200;not null" json:"title"`
	StartsAt *time.Time `json:"starts_at"`
}

type InteractionType string

const (
	InteractionLike    InteractionType = "LIKE"
	InteractionComment InteractionType = "COMMENT"
	InteractionShare   InteractionType = "SHARE"
)

type FeedInteraction struct {
	ID        uint64          `gorm:"primaryKey"`
	FeedID    uint64          `gorm:"not null;index"`
	UserID    uint64          `gorm:"not null;index"`
	Type      InteractionType `gorm:"size:16;not null"`
	Content   string          `gorm:"type:text"`
	CreatedAt time.Time
}

type FeedReport struct {
	ID uint64 `gorm:"primaryKey"`
	// FeedCommunityID keys the report to one community link; a shared feed is reported per community.
	FeedCommunityID uint64 `gorm:"not null;uniqueIndex:uk_feed_report_user"`
	FeedID          uint64 `gorm:"not null;index"`
	ReporterID      uint64 `gorm:"not null;uniqueIndex:uk_feed_report_user"`
	Reason          string `gorm:"size:255"`
	CreatedAt       time.Time
}

// FeedCommunity is the moderation unit binding a Feed to a Community.
type FeedCommunity struct {
	ID          uint64                      `gorm:"primaryKey" json:"id"`
	EntityID    uint64                      `gorm:"not null;index" json:"entity_id"`
	FeedID      uint64                      `gorm:"not null;uniqueIndex:uk_fc_feed_community,priority:1" json:"feed_id"`
	CommunityID uint64                      `gorm:"not null;index:idx_fc_community_status,priority:1;uniqueIndex:uk_fc_feed_community,priority:2" json:"community_id"`
	AuthorID    uint64                      `gorm:"not null;index" json:"author_id"`
	MemberID    uint64                      `gorm:"not null;index" json:"member_id"`
	Status      FeedStatus                  `gorm:"size:16;not null;index:idx_fc_community_status,priority:2" json:"status"`
	IsApproved  bool                        `gorm:"not null;default:false" json:"is_approved"`
	Priority    Priority                    `gorm:"size:16;not null;default:NORMAL" json:"priority"`
	IsPinned    bool                        `gorm:"not null;default:false" json:"is_pinned"`
	PinnedBy    *uint64                     `json:"pinned_by,omitempty"`
	PinnedAt    *time.Time                  `json:"pinned_at,omitempty"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	ReportCount int64                       `gorm:"not null;default:0" json:"report_count"`
	PublishedAt *time.Time                  `json:"published_at,omitempty"`

	ModeratedBy    *uint64    `json:"moderated_by,omitempty"`
	ModeratedAt    *time.Time `json:"moderated_at,omitempty"`
	ModerationNote string     `gorm:"size:255" json:"moderation_note,omitempty"`
	ArchivedAt     *time.Time `gorm:"index" json:"archived_at,omitempty"`
	ArchivedBy     *uint64    `json:"archived_by,omitempty"`
	ArchivedReason string     `gorm:"size:255" json:"archived_reason,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Feed *Feed `gorm:"foreignKey:FeedID" json:"feed,omitempty"`
}

// Counted reports whether the link currently contributes to the community post counter.
func (fc *FeedCommunity) Counted() bool {
	return fc.IsApproved && fc.ArchivedAt == nil
}
