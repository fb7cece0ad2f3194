package scrape

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"talon/internal/deferred"
	"talon/internal/ingest"
	"talon/internal/item"
	"talon/internal/metrics"
	"talon/internal/store"
	"talon/internal/twapi"
)

// UserTimeline scrapes each item's own tweets, newest first, resuming above
// the profile's since_id fast path when one is recorded.
func UserTimeline(ctx context.Context, d *Deps, items []item.Item) error {
	return statusScrape(ctx, d, items, item.WorkUserTimeline)
}

// UserLikes scrapes tweets each item's user has liked.
func UserLikes(ctx context.Context, d *Deps, items []item.Item) error {
	return statusScrape(ctx, d, items, item.WorkUserLikes)
}

func statusScrape(ctx context.Context, d *Deps, items []item.Item, wt item.WorkType) error {
	batch := profileItems(items)
	if len(batch) == 0 {
		return nil
	}
	tuning := Tunings[wt]

	objIDs := make([]int64, 0, len(batch))
	for _, it := range batch {
		objIDs = append(objIDs, it.ObjID)
	}
	rows, err := d.Store.ProfilesByIDs(ctx, objIDs)
	if err != nil {
		return err
	}

	for _, it := range batch {
		p := rows[it.ObjID]
		if p == nil {
			log.Warn().Int64("obj_id", it.ObjID).Str("work_type", string(wt)).Msg("item references missing profile row")
			continue
		}
		now := time.Now().UTC()
		markAttempt(p, wt, now)

		sinceID := it.SinceID
		if sinceID == "" {
			sinceID = sinceIDFor(p, wt)
		}
		fetch := func(ctx context.Context, cursor string) ([]deferred.StatusV1, string, int, error) {
			if wt == item.WorkUserLikes {
				return d.Session.UserLikesPage(ctx, it.UserID, cursor, sinceID)
			}
			return d.Session.UserTimelinePage(ctx, it.UserID, cursor, sinceID)
		}
		maxPages := tuning.MaxPages
		if sinceID != "" {
			// Resuming above since_id only needs whatever arrived since the
			// last scrape, which one page covers.
			maxPages = 1
		}
		statuses, _, status, err := twapi.GetCursored(ctx, d.Session, fetch, "", maxPages, tuning.PageDelay)
		if err != nil {
			return err
		}
		markResult(p, wt, status, now)
		if status != 200 {
			avail := false
			if status == 401 || status == 404 {
				p.IsAvailable = &avail
			}
			if err := d.Store.UpdateProfile(ctx, p); err != nil {
				return err
			}
			continue
		}

		scenario := ""
		if wt == item.WorkUserLikes {
			scenario = deferred.ScenarioUserLike
		}
		var records []deferred.Record
		for i := range statuses {
			records = append(records, deferred.BuildTimelineTweet(it.UserID, &statuses[i], scenario)...)
		}
		metrics.IngestRecords.Add(float64(len(records)))
		if err := ingest.Ingest(ctx, d.Store, records, it.UserID); err != nil {
			log.Error().Err(err).Int64("obj_id", it.ObjID).Str("work_type", string(wt)).Msg("ingest failed, dropping batch items")
			continue
		}

		advanceSinceID(p, wt, statuses)
		if err := d.Store.UpdateProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func sinceIDFor(p *store.Profile, wt item.WorkType) string {
	switch wt {
	case item.WorkUserTimeline:
		if p.TimelineSinceID != nil {
			return *p.TimelineSinceID
		}
	case item.WorkUserLikes:
		if p.LikesSinceID != nil {
			return *p.LikesSinceID
		}
	}
	return ""
}

// advanceSinceID records the newest id seen so the next scrape only fetches
// above it. Timeline scrapes also track the newest publish time. An empty
// scrape clears the timeline since_id so the next pass refetches from the
// top rather than pinning to an id the API may no longer accept.
func advanceSinceID(p *store.Profile, wt item.WorkType, statuses []deferred.StatusV1) {
	var max int64
	var latest *time.Time
	for i := range statuses {
		id, err := strconv.ParseInt(statuses[i].IDStr, 10, 64)
		if err == nil && id > max {
			max = id
		}
		if ts := deferred.ParseCreatedAt(statuses[i].CreatedAt); ts != nil {
			if latest == nil || ts.After(*latest) {
				latest = ts
			}
		}
	}
	if max == 0 {
		if wt == item.WorkUserTimeline {
			p.TimelineSinceID = nil
		}
		return
	}
	sinceID := strconv.FormatInt(max, 10)
	switch wt {
	case item.WorkUserTimeline:
		p.TimelineSinceID = &sinceID
		if latest != nil {
			p.TimelineLatestTweet = latest
		}
	case item.WorkUserLikes:
		p.LikesSinceID = &sinceID
	}
}
