package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/service"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

type FeedHandler struct {
	feeds      *service.FeedService
	moderation *service.ModerationService
}

func NewFeedHandler(feeds *service.FeedService, moderation *service.ModerationService) *FeedHandler {
	return &FeedHandler{feeds: feeds, moderation: moderation}
}

type CreateFeedReq struct {
	// FeedID 非 0 时分享已有帖子
	FeedID   uint64           `json:"feed_id"`
	Content  string           `json:"content"`
	Priority model.Priority   `json:"priority"`
	Tags     []string         `json:"tags"`
	Job      *model.FeedJob   `json:"job"`
	Offer    *model.FeedOffer `json:"offer"`
	Poll     *model.FeedPoll  `json:"poll"`
	Event    *model.FeedEvent `json:"event"`
}

type NoteReq struct {
	Note string `json:"note"`
}

type ArchiveReq struct {
	IDs    []uint64 `json:"ids" binding:"required"`
	Reason string   `json:"reason"`
}

type InteractReq struct {
	Type    model.InteractionType `json:"type" binding:"required"`
	Content string                `json:"content"`
}

// feedQuery 未知的 sort 按默认排序处理
func feedQuery(c *gin.Context) service.FeedQuery {
	return service.FeedQuery{
		Status:   model.FeedStatus(c.Query("status")),
		Priority: model.Priority(c.Query("priority")),
		Sort:     visibility.ParseSort(c.Query("sort")),
		Cursor:   c.Query("cursor"),
		Limit:    queryLimit(c),
	}
}

func (h *FeedHandler) ListByCommunity(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	q := feedQuery(c)
	q.CommunityID = id
	page, err := h.feeds.GetCommunityFeeds(c.Request.Context(), actorOf(c), q)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, page)
}

func (h *FeedHandler) ListJoined(c *gin.Context) {
	page, err := h.feeds.GetMyJoinedCommunitiesFeed(c.Request.Context(), actorOf(c), feedQuery(c))
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, page)
}

func (h *FeedHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid feed id")
		return
	}
	item, err := h.feeds.GetFeed(c.Request.Context(), actorOf(c), id)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, item)
}

// Create 在社区内发帖
func (h *FeedHandler) Create(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	var req CreateFeedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	link, err := h.moderation.CreateCommunityFeed(c.Request.Context(), actorOf(c), service.CreateFeedInput{
		CommunityID: id,
		FeedID:      req.FeedID,
		Content:     req.Content,
		Priority:    req.Priority,
		Tags:        req.Tags,
		Job:         req.Job,
		Offer:       req.Offer,
		Poll:        req.Poll,
		Event:       req.Event,
	})
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, link)
}

type moderateFunc func(ctx context.Context, a service.Actor, linkID uint64, note string) (*model.FeedCommunity, error)

func (h *FeedHandler) moderate(fn moderateFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			pkg.BadRequest(c, "invalid feed id")
			return
		}
		var req NoteReq
		_ = c.ShouldBindJSON(&req)
		link, err := fn(c.Request.Context(), actorOf(c), id, req.Note)
		if err != nil {
			pkg.Fail(c, err)
			return
		}
		pkg.Success(c, link)
	}
}

func (h *FeedHandler) Approve() gin.HandlerFunc { return h.moderate(h.moderation.ApproveCommunityFeed) }
func (h *FeedHandler) Reject() gin.HandlerFunc  { return h.moderate(h.moderation.RejectCommunityFeed) }
func (h *FeedHandler) Flag() gin.HandlerFunc    { return h.moderate(h.moderation.FlagCommunityFeed) }

func (h *FeedHandler) TogglePin(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid feed id")
		return
	}
	link, err := h.moderation.TogglePinFeed(c.Request.Context(), actorOf(c), id)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, link)
}

func (h *FeedHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid feed id")
		return
	}
	res, err := h.moderation.DeleteCommunityFeed(c.Request.Context(), actorOf(c), id)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, res)
}

// Archive 批量软删除
func (h *FeedHandler) Archive(c *gin.Context) {
	var req ArchiveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	links, err := h.moderation.DeleteFeedCommunities(c.Request.Context(), actorOf(c), req.IDs, req.Reason)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, links)
}

func (h *FeedHandler) Report(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid feed id")
		return
	}
	var req ReasonReq
	_ = c.ShouldBindJSON(&req)
	flagged, err := h.moderation.ReportFeed(c.Request.Context(), actorOf(c), id, req.Reason)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, gin.H{"flagged": flagged})
}

func (h *FeedHandler) Interact(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid feed id")
		return
	}
	var req InteractReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	in, err := h.moderation.InteractWithFeed(c.Request.Context(), actorOf(c), id, req.Type, req.Content)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, in)
}
