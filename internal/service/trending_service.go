package service

import (
	"context"

	"github.com/lkzdsb-lab/community-feed/internal/model"
	"github.com/lkzdsb-lab/community-feed/internal/pkg"
	"github.com/lkzdsb-lab/community-feed/internal/repository/mysql"
	"github.com/lkzdsb-lab/community-feed/internal/trending"
)

// TrendingService 每次调用都重新计算排名，不持久化热门标记
type TrendingService struct {
	base
	repo *mysql.CommunityRepository
}

func NewTrendingService(d Deps) *TrendingService {
	return &TrendingService{
		base: newBase(d),
		repo: &mysql.CommunityRepository{DB: d.DB},
	}
}

// Config 租户未配置时使用全部指标与默认长度
func (s *TrendingService) Config(ctx context.Context, entityID uint64) (trending.Config, error) {
	tc, err := s.repo.GetTrendingConfig(ctx, entityID)
	if err != nil {
		return trending.Config{}, pkg.Internal(err, "load trending config")
	}
	if tc == nil {
		cfg := trending.DefaultConfig()
		if s.cfg.DefaultTrendingLength > 0 {
			cfg.Length = s.cfg.DefaultTrendingLength
		}
		return cfg, nil
	}
	return trending.FromModel(tc), nil
}

// Rank 对租户内所有可参与排名的社区打分
func (s *TrendingService) Rank(ctx context.Context, entityID uint64) (trending.Ranking, error) {
	cfg, err := s.Config(ctx, entityID)
	if err != nil {
		return trending.Ranking{}, err
	}
	list, err := s.repo.Candidates(ctx, entityID)
	if err != nil {
		return trending.Ranking{}, pkg.Internal(err, "load trending candidates")
	}
	metrics := make([]trending.Metrics, len(list))
	for i := range list {
		metrics[i] = trending.MetricsOf(&list[i])
	}
	return trending.Rank(metrics, cfg), nil
}

func (s *TrendingService) GetTrendingConfig(ctx context.Context, a Actor) (trending.Config, error) {
	return s.Config(ctx, a.EntityID)
}

// UpdateTrendingConfig 租户管理员操作，鉴权由调用方负责
func (s *TrendingService) UpdateTrendingConfig(ctx context.Context, a Actor, cfg trending.Config) (trending.Config, error) {
	if cfg.Length < 1 || cfg.Length > maxLimit {
		return trending.Config{}, pkg.Validation("length must be between 1 and %d", maxLimit)
	}
	tc := &model.TrendingConfig{
		EntityID:       a.EntityID,
		UseMemberCount: cfg.UseMemberCount,
		UseLikeCount:   cfg.UseLikeCount,
		UsePostCount:   cfg.UsePostCount,
		UseViewCount:   cfg.UseViewCount,
		Length:         cfg.Length,
	}
	if err := s.repo.UpsertTrendingConfig(ctx, tc); err != nil {
		return trending.Config{}, err
	}
	return trending.FromModel(tc), nil
}
