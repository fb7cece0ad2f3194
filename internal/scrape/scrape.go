// Package scrape holds the per-work-type batch functions: fetch via the
// account session, build deferred records, ingest, and keep per-profile
// scrape bookkeeping current.
package scrape

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"talon/internal/item"
	"talon/internal/store"
	"talon/internal/twapi"
)

// Deps is what every scrape function works against. Merge and Enqueue are
// optional; nil disables merge reporting and mention re-enqueueing.
type Deps struct {
	Store   *store.Store
	Session *twapi.Session
	Merge   *MergeClient
	Enqueue func(ctx context.Context, fields map[string]any) error
}

// Func executes one batch of same-work-type items. Items that fail
// individually are logged and skipped; an error return means the whole batch
// could not run (the worker still acknowledges the batch either way).
type Func func(ctx context.Context, d *Deps, items []item.Item) error

// Tuning is the per-work-type batching and pagination profile. The numbers
// trade API quota against freshness and were settled empirically.
type Tuning struct {
	BatchSize  int
	BatchDelay time.Duration
	MaxPages   int
	PageDelay  time.Duration
	Replicas   int
}

var Tunings = map[item.WorkType]Tuning{
	item.WorkUserInfo:           {BatchSize: 100, BatchDelay: 1500 * time.Millisecond, MaxPages: 130, PageDelay: time.Second, Replicas: 1},
	item.WorkUserTimeline:       {BatchSize: 4, BatchDelay: 0, MaxPages: 6, PageDelay: time.Second, Replicas: 2},
	item.WorkUserLikes:          {BatchSize: 3, BatchDelay: time.Second, MaxPages: 4, PageDelay: time.Second, Replicas: 1},
	item.WorkFriendIDs:          {BatchSize: 1, BatchDelay: 0, MaxPages: 3, PageDelay: time.Second, Replicas: 1},
	item.WorkFollowerIDs:        {BatchSize: 1, BatchDelay: 0, MaxPages: 3, PageDelay: time.Second, Replicas: 1},
	item.WorkConversationTweets: {BatchSize: 2, BatchDelay: 0, MaxPages: 5, PageDelay: time.Second, Replicas: 1},
}

// Registry maps every work type to its batch function.
func Registry() map[item.WorkType]Func {
	return map[item.WorkType]Func{
		item.WorkUserInfo:           UserInfo,
		item.WorkUserTimeline:       UserTimeline,
		item.WorkUserLikes:          UserLikes,
		item.WorkFriendIDs:          FriendIDs,
		item.WorkFollowerIDs:        FollowerIDs,
		item.WorkConversationTweets: ConversationTweets,
	}
}

// scrapeState picks the bookkeeping block for a work type.
func scrapeState(p *store.Profile, wt item.WorkType) *store.ScrapeState {
	switch wt {
	case item.WorkUserInfo:
		return &p.UserInfoState
	case item.WorkUserTimeline:
		return &p.TimelineState
	case item.WorkUserLikes:
		return &p.LikesState
	case item.WorkFriendIDs:
		return &p.FriendIDsState
	case item.WorkFollowerIDs:
		return &p.FollowerIDsState
	}
	return nil
}

func markAttempt(p *store.Profile, wt item.WorkType, now time.Time) {
	if st := scrapeState(p, wt); st != nil {
		st.PrevAttempt = &now
	}
}

func markResult(p *store.Profile, wt item.WorkType, status int, now time.Time) {
	st := scrapeState(p, wt)
	if st == nil {
		return
	}
	code := int64(status)
	st.PrevStatusCode = &code
	if status == 200 {
		st.PrevSuccess = &now
	}
}

// profileItems filters a batch down to profile items, logging anything else.
func profileItems(items []item.Item) []*item.ProfileItem {
	out := make([]*item.ProfileItem, 0, len(items))
	for _, it := range items {
		p, ok := it.(*item.ProfileItem)
		if !ok {
			log.Warn().Str("line_id", it.LineID()).Str("work_type", string(it.Type())).Msg("non-profile item in profile batch, dropping")
			continue
		}
		out = append(out, p)
	}
	return out
}
