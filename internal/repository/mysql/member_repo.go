package mysql

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/visibility"
)

type CommunityMemberRepository struct {
	DB      *gorm.DB
	Counter Counter
}

// JoinOutcome 加入结果：直接成为成员，或提交了申请
type JoinOutcome struct {
	Joined    bool
	Requested bool
	Member    *model.CommunityMember
}

// GetMembership 查询成员记录，不存在返回 nil, nil
func (r *CommunityMemberRepository) GetMembership(ctx context.Context, communityID, userID uint64) (*model.CommunityMember, error) {
	return findMember(r.DB.WithContext(ctx), communityID, userID, false)
}

// HasPermission 已接受且角色在 roles 中；roles 为空表示任意角色
func (r *CommunityMemberRepository) HasPermission(ctx context.Context, communityID, userID uint64, roles ...model.Role) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	q := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberAccepted)
	if len(roles) > 0 {
		q = q.Where("role IN ?", roles)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "check permission")
	}
	return n > 0, nil
}

// RoleMap 预取用户在各社区的成员身份；communityIDs 为空表示该用户加入的全部社区
func (r *CommunityMemberRepository) RoleMap(ctx context.Context, userID uint64, communityIDs []uint64) (map[uint64]visibility.Member, error) {
	out := make(map[uint64]visibility.Member)
	if userID == 0 {
		return out, nil
	}
	q := r.DB.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.MemberAccepted)
	if len(communityIDs) > 0 {
		q = q.Where("community_id IN ?", communityIDs)
	}
	var rows []model.CommunityMember
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load memberships")
	}
	for _, m := range rows {
		out[m.CommunityID] = visibility.Member{MemberID: m.ID, Role: m.Role}
	}
	return out, nil
}

// ListModeratorIDs 管理员与经理的用户 id，用于通知
func (r *CommunityMemberRepository) ListModeratorIDs(ctx context.Context, communityID uint64) ([]uint64, error) {
	var ids []uint64
	err := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND status = ? AND role IN ?", communityID, model.MemberAccepted,
			[]model.Role{model.RoleAdmin, model.RoleManager}).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, errors.Wrap(err, "list moderators")
}

// ListMembers 已接受成员，按 id 倒序游标分页
func (r *CommunityMemberRepository) ListMembers(ctx context.Context, communityID, cursor uint64, limit int) ([]model.CommunityMember, uint64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := r.DB.WithContext(ctx).
		Where("community_id = ? AND status = ?", communityID, model.MemberAccepted)
	if cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	var rows []model.CommunityMember
	if err := q.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list members")
	}
	var next uint64
	if len(rows) > limit {
		next = rows[limit-1].ID
		rows = rows[:limit]
	}
	return rows, next, nil
}

// ListJoinRequests 待处理的加入申请
func (r *CommunityMemberRepository) ListJoinRequests(ctx context.Context, communityID, cursor uint64, limit int) ([]model.JoinRequest, uint64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := r.DB.WithContext(ctx).Where("community_id = ?", communityID)
	if cursor > 0 {
		q = q.Where("id < ?", cursor)
	}
	var rows []model.JoinRequest
	if err := q.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, 0, errors.Wrap(err, "list join requests")
	}
	var next uint64
	if len(rows) > limit {
		next = rows[limit-1].ID
		rows = rows[:limit]
	}
	return rows, next, nil
}

// Join OPEN 社区直接加入（LEFT 记录重新激活），APPROVAL 社区写入申请与 PENDING 成员记录
func (r *CommunityMemberRepository) Join(ctx context.Context, communityID, userID uint64, message string) (JoinOutcome, error) {
	var out JoinOutcome
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockCommunity(tx, communityID)
		if err != nil {
			return err
		}
		m, err := findMember(tx, communityID, userID, true)
		if err != nil {
			return err
		}
		if m.Active() {
			return pkg.Conflict("already a member of community %d", communityID)
		}

		if c.JoinPolicy == model.JoinPolicyApproval {
			var pending int64
			if err := tx.Model(&model.JoinRequest{}).
				Where("community_id = ? AND user_id = ?", communityID, userID).
				Count(&pending).Error; err != nil {
				return err
			}
			if pending > 0 {
				return pkg.Conflict("join request already pending")
			}
			if err := tx.Create(&model.JoinRequest{CommunityID: communityID, UserID: userID, Message: message}).Error; err != nil {
				return err
			}
			if out.Member, err = setMemberStatus(tx, m, communityID, userID, model.MemberPending); err != nil {
				return err
			}
			out.Requested = true
			return nil
		}

		if out.Member, err = setMemberStatus(tx, m, communityID, userID, model.MemberAccepted); err != nil {
			return err
		}
		// 策略从审核改为开放后遗留的申请
		if err := tx.Where("community_id = ? AND user_id = ?", communityID, userID).Delete(&model.JoinRequest{}).Error; err != nil {
			return err
		}
		out.Joined = true
		return r.Counter.AdjustMemberCount(tx, communityID, +1)
	})
	return out, wrapTx(err, "join community")
}

// WithdrawJoinRequest 申请人撤回自己的申请
func (r *CommunityMemberRepository) WithdrawJoinRequest(ctx context.Context, communityID, userID uint64) error {
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("community_id = ? AND user_id = ?", communityID, userID).Delete(&model.JoinRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pkg.NotFound("no pending join request")
		}
		return deletePendingMember(tx, communityID, userID)
	})
	return wrapTx(err, "withdraw join request")
}

// RespondToJoinRequest 通过或拒绝申请，申请记录随之删除
func (r *CommunityMemberRepository) RespondToJoinRequest(ctx context.Context, communityID, userID uint64, accept bool) (*model.CommunityMember, error) {
	var member *model.CommunityMember
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockCommunity(tx, communityID); err != nil {
			return err
		}
		res := tx.Where("community_id = ? AND user_id = ?", communityID, userID).Delete(&model.JoinRequest{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return pkg.NotFound("no pending join request")
		}
		if !accept {
			return deletePendingMember(tx, communityID, userID)
		}
		m, err := findMember(tx, communityID, userID, true)
		if err != nil {
			return err
		}
		if m.Active() {
			member = m
			return nil
		}
		if member, err = setMemberStatus(tx, m, communityID, userID, model.MemberAccepted); err != nil {
			return err
		}
		return r.Counter.AdjustMemberCount(tx, communityID, +1)
	})
	return member, wrapTx(err, "respond to join request")
}

// Leave 成员主动退出；创建者不能退出
func (r *CommunityMemberRepository) Leave(ctx context.Context, communityID, userID uint64) error {
	return wrapTx(r.deactivate(ctx, communityID, userID), "leave community")
}

// Remove 管理员移除成员；创建者不能被移除
func (r *CommunityMemberRepository) Remove(ctx context.Context, communityID, userID uint64) error {
	return wrapTx(r.deactivate(ctx, communityID, userID), "remove member")
}

func (r *CommunityMemberRepository) deactivate(ctx context.Context, communityID, userID uint64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockCommunity(tx, communityID)
		if err != nil {
			return err
		}
		if c.CreatorID == userID {
			return pkg.Forbidden("the community creator cannot leave")
		}
		m, err := findMember(tx, communityID, userID, true)
		if err != nil {
			return err
		}
		if !m.Active() {
			return pkg.NotFound("user %d is not a member of community %d", userID, communityID)
		}
		if err := tx.Model(&model.CommunityMember{}).
			Where("id = ? AND status = ?", m.ID, model.MemberAccepted).
			Update("status", model.MemberLeft).Error; err != nil {
			return err
		}
		return r.Counter.AdjustMemberCount(tx, communityID, -1)
	})
}

// SetRole 修改成员角色
func (r *CommunityMemberRepository) SetRole(ctx context.Context, communityID, userID uint64, role model.Role) error {
	res := r.DB.WithContext(ctx).Model(&model.CommunityMember{}).
		Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberAccepted).
		Update("role", role)
	if res.Error != nil {
		return errors.Wrap(res.Error, "set role")
	}
	if res.RowsAffected == 0 {
		return pkg.NotFound("user %d is not a member of community %d", userID, communityID)
	}
	return nil
}

func findMember(tx *gorm.DB, communityID, userID uint64, lock bool) (*model.CommunityMember, error) {
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []model.CommunityMember
	if err := q.Where("community_id = ? AND user_id = ?", communityID, userID).
		Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "find membership")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// setMemberStatus 存在则更新状态（重新加入的角色重置为 USER），否则新建
func setMemberStatus(tx *gorm.DB, m *model.CommunityMember, communityID, userID uint64, status model.MemberStatus) (*model.CommunityMember, error) {
	if m == nil {
		m = &model.CommunityMember{CommunityID: communityID, UserID: userID, Role: model.RoleUser, Status: status}
		return m, tx.Create(m).Error
	}
	updates := map[string]any{"status": status}
	if m.Status == model.MemberLeft {
		updates["role"] = model.RoleUser
		m.Role = model.RoleUser
	}
	m.Status = status
	return m, tx.Model(&model.CommunityMember{}).Where("id = ?", m.ID).Updates(updates).Error
}

func deletePendingMember(tx *gorm.DB, communityID, userID uint64) error {
	return tx.Where("community_id = ? AND user_id = ? AND status = ?", communityID, userID, model.MemberPending).
		Delete(&model.CommunityMember{}).Error
}

func lockCommunity(tx *gorm.DB, communityID uint64) (*model.Community, error) {
	var c model.Community
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, communityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkg.NotFound("community %d not found", communityID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock community")
	}
	return &c, nil
}

// wrapTx 已带类别的错误原样返回，其余记为内部错误
func wrapTx(err error, msg string) error {
	return pkg.Internal(err, msg)
}
