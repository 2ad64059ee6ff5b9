package quota

import "github.com/loopline-social/guardpost/internal/models"

// Action names a guarded write-like action.
type Action string

const (
	ActionPost     Action = "post"
	ActionFollow   Action = "follow"
	ActionUnfollow Action = "unfollow"
	ActionLike     Action = "like"
	ActionComment  Action = "comment"
	ActionLogin    Action = "login"
)

// Window is a fixed time bucket over which an action count is capped.
type Window int

const (
	WindowHour Window = iota
	WindowDay
)

// Seconds returns the window length in seconds.
func (w Window) Seconds() int64 {
	if w == WindowDay {
		return 86400
	}
	return 3600
}

func (w Window) String() string {
	if w == WindowDay {
		return "day"
	}
	return "hour"
}

// Limits is the per-tier policy row. Each tier is strictly more permissive
// than the one below it; policy_test.go enforces that.
type Limits struct {
	PostsPerHour    int
	PostsPerDay     int
	FollowsPerHour  int
	FollowsPerDay   int
	UnfollowsPerDay int
	LikesPerHour    int
	CommentsPerHour int
	LoginsPerHour   int
}

// LimitsFor returns the static policy row for a trust level.
func LimitsFor(level models.TrustLevel) Limits {
	switch level {
	case models.TrustLevelBasic:
		return Limits{
			PostsPerHour:    5,
			PostsPerDay:     20,
			FollowsPerHour:  20,
			FollowsPerDay:   100,
			UnfollowsPerDay: 50,
			LikesPerHour:    100,
			CommentsPerHour: 30,
			LoginsPerHour:   10,
		}
	case models.TrustLevelTrusted:
		return Limits{
			PostsPerHour:    20,
			PostsPerDay:     100,
			FollowsPerHour:  100,
			FollowsPerDay:   500,
			UnfollowsPerDay: 200,
			LikesPerHour:    500,
			CommentsPerHour: 100,
			LoginsPerHour:   20,
		}
	case models.TrustLevelVerified:
		return Limits{
			PostsPerHour:    50,
			PostsPerDay:     200,
			FollowsPerHour:  200,
			FollowsPerDay:   1000,
			UnfollowsPerDay: 500,
			LikesPerHour:    1000,
			CommentsPerHour: 200,
			LoginsPerHour:   30,
		}
	default:
		return Limits{
			PostsPerHour:    1,
			PostsPerDay:     5,
			FollowsPerHour:  5,
			FollowsPerDay:   20,
			UnfollowsPerDay: 10,
			LikesPerHour:    30,
			CommentsPerHour: 10,
			LoginsPerHour:   5,
		}
	}
}

// check binds one limit to its window.
type check struct {
	limit  int
	window Window
}

// checksFor returns every window bound to an action. Posts and follows are
// capped both hourly and daily. Unknown actions are not limited.
func checksFor(action Action, limits Limits) []check {
	switch action {
	case ActionPost:
		return []check{
			{limit: limits.PostsPerHour, window: WindowHour},
			{limit: limits.PostsPerDay, window: WindowDay},
		}
	case ActionFollow:
		return []check{
			{limit: limits.FollowsPerHour, window: WindowHour},
			{limit: limits.FollowsPerDay, window: WindowDay},
		}
	case ActionUnfollow:
		return []check{{limit: limits.UnfollowsPerDay, window: WindowDay}}
	case ActionLike:
		return []check{{limit: limits.LikesPerHour, window: WindowHour}}
	case ActionComment:
		return []check{{limit: limits.CommentsPerHour, window: WindowHour}}
	case ActionLogin:
		return []check{{limit: limits.LoginsPerHour, window: WindowHour}}
	default:
		return nil
	}
}

// primaryCheck is the client-facing window used for remaining-quota reads.
func primaryCheck(action Action, limits Limits) (check, bool) {
	checks := checksFor(action, limits)
	if len(checks) == 0 {
		return check{}, false
	}
	return checks[0], true
}
