package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/service"
	"github.com/lkzdsb-lab/community-feed/internal/trending"
)

type CommunityHandler struct {
	svc      *service.CommunityService
	trending *service.TrendingService
}

func NewCommunityHandler(svc *service.CommunityService, trending *service.TrendingService) *CommunityHandler {
	return &CommunityHandler{svc: svc, trending: trending}
}

type CommunityCreateReq struct {
	Name                         string           `json:"name" binding:"required"`
	Description                  string           `json:"description"`
	Privacy                      model.Privacy    `json:"privacy"`
	JoinPolicy                   model.JoinPolicy `json:"join_policy"`
	RequireAdminApprovalForPosts bool             `json:"require_admin_approval_for_posts"`
	Rules                        []model.Rule     `json:"rules"`
}

type JoinReq struct {
	Message string `json:"message"`
}

type RespondReq struct {
	Accept bool `json:"accept"`
}

type RoleReq struct {
	Role model.Role `json:"role" binding:"required"`
}

type ReasonReq struct {
	Reason string `json:"reason"`
}

type FeaturedReq struct {
	Featured bool `json:"featured"`
}

type TrendingConfigReq struct {
	UseMemberCount bool `json:"use_member_count"`
	UseLikeCount   bool `json:"use_like_count"`
	UsePostCount   bool `json:"use_post_count"`
	UseViewCount   bool `json:"use_view_count"`
	Length         int  `json:"length"`
}

func (h *CommunityHandler) Create(c *gin.Context) {
	var req CommunityCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	community, err := h.svc.CreateCommunity(c.Request.Context(), actorOf(c), service.CreateCommunityInput{
		Name:                         req.Name,
		Description:                  req.Description,
		Privacy:                      req.Privacy,
		JoinPolicy:                   req.JoinPolicy,
		RequireAdminApprovalForPosts: req.RequireAdminApprovalForPosts,
		Rules:                        req.Rules,
	})
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, community)
}

func (h *CommunityHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	item, err := h.svc.GetCommunity(c.Request.Context(), actorOf(c), id)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, item)
}

type listFunc func(ctx context.Context, a service.Actor, q service.ListQuery) (service.CommunityPage, error)

// listing 各类社区列表共用同一套游标参数
func (h *CommunityHandler) listing(fn listFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := fn(c.Request.Context(), actorOf(c), service.ListQuery{
			Cursor: c.Query("cursor"),
			Limit:  queryLimit(c),
		})
		if err != nil {
			pkg.Fail(c, err)
			return
		}
		pkg.Success(c, page)
	}
}

func (h *CommunityHandler) List() gin.HandlerFunc     { return h.listing(h.svc.GetAllCommunities) }
func (h *CommunityHandler) Featured() gin.HandlerFunc { return h.listing(h.svc.GetFeaturedCommunities) }
func (h *CommunityHandler) Trending() gin.HandlerFunc { return h.listing(h.svc.GetTrendingCommunities) }
func (h *CommunityHandler) Owned() gin.HandlerFunc    { return h.listing(h.svc.GetMyOwnedCommunities) }
func (h *CommunityHandler) Saved() gin.HandlerFunc    { return h.listing(h.svc.GetMySavedCommunities) }
func (h *CommunityHandler) Joined() gin.HandlerFunc   { return h.listing(h.svc.GetMyJoinedCommunities) }

func (h *CommunityHandler) Join(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	var req JoinReq
	// 请求体可选
	_ = c.ShouldBindJSON(&req)
	res, err := h.svc.JoinCommunity(c.Request.Context(), actorOf(c), id, req.Message)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, res)
}

func (h *CommunityHandler) WithdrawJoin(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	if err := h.svc.WithdrawJoinRequest(c.Request.Context(), actorOf(c), id); err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, nil)
}

func (h *CommunityHandler) Leave(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	if err := h.svc.LeaveCommunity(c.Request.Context(), actorOf(c), id); err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, nil)
}

func (h *CommunityHandler) ListJoinRequests(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	cursor, ok := queryUint(c, "cursor")
	if !ok {
		pkg.BadRequest(c, "invalid cursor")
		return
	}
	list, next, err := h.svc.ListJoinRequests(c.Request.Context(), actorOf(c), id, cursor, queryLimit(c))
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, gin.H{"items": list, "next_cursor": next})
}

func (h *CommunityHandler) RespondJoin(c *gin.Context) {
	id, ok := pathID(c, "id")
	userID, ok2 := pathID(c, "user_id")
	if !ok || !ok2 {
		pkg.BadRequest(c, "invalid id")
		return
	}
	var req RespondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	if err := h.svc.RespondToJoinRequest(c.Request.Context(), actorOf(c), id, userID, req.Accept); err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, nil)
}

func (h *CommunityHandler) ListMembers(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	cursor, ok := queryUint(c, "cursor")
	if !ok {
		pkg.BadRequest(c, "invalid cursor")
		return
	}
	list, next, err := h.svc.ListMembers(c.Request.Context(), actorOf(c), id, cursor, queryLimit(c))
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, gin.H{"items": list, "next_cursor": next})
}

func (h *CommunityHandler) RemoveMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	userID, ok2 := pathID(c, "user_id")
	if !ok || !ok2 {
		pkg.BadRequest(c, "invalid id")
		return
	}
	if err := h.svc.RemoveMember(c.Request.Context(), actorOf(c), id, userID); err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, nil)
}

func (h *CommunityHandler) SetRole(c *gin.Context) {
	id, ok := pathID(c, "id")
	userID, ok2 := pathID(c, "user_id")
	if !ok || !ok2 {
		pkg.BadRequest(c, "invalid id")
		return
	}
	var req RoleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	if err := h.svc.SetMemberRole(c.Request.Context(), actorOf(c), id, userID, req.Role); err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, nil)
}

type toggleFunc func(ctx context.Context, a service.Actor, communityID uint64) (bool, error)

// toggle 收藏与点赞的返回值表示本次是否产生变化
func (h *CommunityHandler) toggle(fn toggleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			pkg.BadRequest(c, "invalid community id")
			return
		}
		changed, err := fn(c.Request.Context(), actorOf(c), id)
		if err != nil {
			pkg.Fail(c, err)
			return
		}
		pkg.Success(c, gin.H{"changed": changed})
	}
}

func (h *CommunityHandler) Save() gin.HandlerFunc   { return h.toggle(h.svc.SaveCommunity) }
func (h *CommunityHandler) Unsave() gin.HandlerFunc { return h.toggle(h.svc.UnsaveCommunity) }
func (h *CommunityHandler) Like() gin.HandlerFunc   { return h.toggle(h.svc.LikeCommunity) }
func (h *CommunityHandler) Unlike() gin.HandlerFunc { return h.toggle(h.svc.UnlikeCommunity) }

func (h *CommunityHandler) View(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	counted, err := h.svc.TrackCommunityView(c.Request.Context(), actorOf(c), id)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, gin.H{"counted": counted})
}

func (h *CommunityHandler) Report(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	var req ReasonReq
	_ = c.ShouldBindJSON(&req)
	flagged, err := h.svc.ReportCommunity(c.Request.Context(), actorOf(c), id, req.Reason)
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, gin.H{"flagged": flagged})
}

func (h *CommunityHandler) SetFeatured(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		pkg.BadRequest(c, "invalid community id")
		return
	}
	var req FeaturedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	if err := h.svc.SetFeatured(c.Request.Context(), actorOf(c), id, req.Featured); err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, nil)
}

func (h *CommunityHandler) GetTrendingConfig(c *gin.Context) {
	cfg, err := h.trending.GetTrendingConfig(c.Request.Context(), actorOf(c))
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, cfg)
}

func (h *CommunityHandler) UpdateTrendingConfig(c *gin.Context) {
	var req TrendingConfigReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkg.BadRequest(c, "invalid params")
		return
	}
	cfg, err := h.trending.UpdateTrendingConfig(c.Request.Context(), actorOf(c), trending.Config{
		UseMemberCount: req.UseMemberCount,
		UseLikeCount:   req.UseLikeCount,
		UsePostCount:   req.UsePostCount,
		UseViewCount:   req.UseViewCount,
		Length:         req.Length,
	})
	if err != nil {
		pkg.Fail(c, err)
		return
	}
	pkg.Success(c, cfg)
}
