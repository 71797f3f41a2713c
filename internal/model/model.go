package model

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&Community{},
		&CommunityMember{},
		&JoinRequest{},
		&Feed{},
		&FeedJob{},
		&FeedOffer{},
		&FeedPoll{},
		&FeedEvent{},
		&FeedCommunity{},
		&FeedInteraction{},
		&FeedReport{},
		&TrendingConfig{},
		&CommunityView{},
		&CommunityReport{},
		&SavedCommunity{},
		&CommunityLike{},
		&CommunityActivity{},
	}
}
