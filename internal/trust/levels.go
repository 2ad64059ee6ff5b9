package trust

import "github.com/loopline-social/guardpost/internal/models"

// ActivityKind names a guarded action outcome reported by the surrounding
// application.
type ActivityKind string

const (
	ActivityPostCreated    ActivityKind = "post_created"
	ActivityCommentCreated ActivityKind = "comment_created"
	ActivityLikeReceived   ActivityKind = "like_received"
	ActivityFollowerGained ActivityKind = "follower_gained"
	ActivityFollowerLost   ActivityKind = "follower_lost"
	ActivityFlagReceived   ActivityKind = "flag_received"
	ActivityContentRemoved ActivityKind = "content_removed"
)

// activityEffect describes the point delta and the activity counter bumped
// by one reported activity.
type activityEffect struct {
	points  int
	counter string
}

var activityEffects = map[ActivityKind]activityEffect{
	ActivityPostCreated:    {points: 5, counter: "posts_count"},
	ActivityCommentCreated: {points: 2, counter: "comments_count"},
	ActivityLikeReceived:   {points: 1, counter: "likes_received_count"},
	ActivityFollowerGained: {points: 3, counter: "followers_count"},
	ActivityFollowerLost:   {points: -1},
	ActivityFlagReceived:   {points: -10},
	ActivityContentRemoved: {points: -25},
}

// Promotion thresholds. Demotion overrides promotion: three strikes force
// the lowest tier regardless of other metrics.
const (
	trustedMinAgeDays = 90
	trustedMinPosts   = 50
	trustedMinPoints  = 200
	trustedMaxFlags   = 3

	basicMinAgeDays = 7
	basicMinPosts   = 5
	basicMinPoints  = 20
	basicMaxFlags   = 5

	demotionStrikes = 3
)

// LevelFor computes the trust level from profile metrics. It is the single
// source of promotion/demotion logic; every mutation path calls it. Verified
// is never returned here, only set by a manual promotion.
func LevelFor(ageDays, posts, points, flags, strikes int) models.TrustLevel {
	switch {
	case strikes >= demotionStrikes:
		return models.TrustLevelNew
	case ageDays >= trustedMinAgeDays && posts >= trustedMinPosts &&
		points >= trustedMinPoints && flags < trustedMaxFlags:
		return models.TrustLevelTrusted
	case ageDays >= basicMinAgeDays && posts >= basicMinPosts &&
		points >= basicMinPoints && flags < basicMaxFlags:
		return models.TrustLevelBasic
	default:
		return models.TrustLevelNew
	}
}

// NextLevel applies LevelFor while preserving a manual Verified promotion.
// Strikes still demote verified accounts.
func NextLevel(current models.TrustLevel, ageDays, posts, points, flags, strikes int) models.TrustLevel {
	if current == models.TrustLevelVerified && strikes < demotionStrikes {
		return models.TrustLevelVerified
	}
	return LevelFor(ageDays, posts, points, flags, strikes)
}
