package scrape

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"talon/internal/item"
	"talon/internal/store"
	"talon/internal/twapi"
)

// FriendIDs scrapes who each item's user follows.
func FriendIDs(ctx context.Context, d *Deps, items []item.Item) error {
	return relIDs(ctx, d, items, item.WorkFriendIDs)
}

// FollowerIDs scrapes who follows each item's user.
func FollowerIDs(ctx context.Context, d *Deps, items []item.Item) error {
	return relIDs(ctx, d, items, item.WorkFollowerIDs)
}

func relIDs(ctx context.Context, d *Deps, items []item.Item, wt item.WorkType) error {
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
		if p.IsAvailable != nil && !*p.IsAvailable {
			log.Debug().Int64("obj_id", it.ObjID).Str("work_type", string(wt)).Msg("profile unavailable, skipping")
			continue
		}
		now := time.Now().UTC()
		markAttempt(p, wt, now)

		cursor := "-1"
		stored := relCursor(p, wt)
		if stored != nil {
			cursor = *stored
		}
		fetch := func(ctx context.Context, cursor string) ([]string, string, int, error) {
			if wt == item.WorkFollowerIDs {
				return d.Session.FollowerIDsPage(ctx, it.UserID, cursor)
			}
			return d.Session.FriendIDsPage(ctx, it.UserID, cursor)
		}
		ids, last, status, err := twapi.GetCursored(ctx, d.Session, fetch, cursor, tuning.MaxPages, tuning.PageDelay)
		if err != nil {
			return err
		}
		markResult(p, wt, status, now)
		if status != 200 {
			if err := d.Store.UpdateProfile(ctx, p); err != nil {
				return err
			}
			continue
		}
		if stored != nil && len(ids) == 0 {
			// A resumed cursor that yields nothing has gone stale server
			// side. Restart the listing from the top next time instead of
			// wrongly marking it complete.
			log.Warn().Int64("obj_id", it.ObjID).Str("work_type", string(wt)).Str("cursor", *stored).Msg("stored cursor returned no ids, restarting listing")
			clearRelCursor(p, wt)
			if err := d.Store.UpdateProfile(ctx, p); err != nil {
				return err
			}
			continue
		}

		others, _, err := d.Store.GetOrCreateProfilesByUserID(ctx, ids)
		if err != nil {
			return err
		}
		edges := make([]store.Pair, 0, len(ids))
		for _, id := range ids {
			other, ok := others[id]
			if !ok {
				continue
			}
			if wt == item.WorkFriendIDs {
				edges = append(edges, store.Pair{A: p.ID, B: other.ID})
			} else {
				edges = append(edges, store.Pair{A: other.ID, B: p.ID})
			}
		}
		if err := d.Store.UpsertFollowRels(ctx, edges); err != nil {
			return err
		}

		setRelCursor(p, wt, last)
		if err := d.Store.UpdateProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func relCursor(p *store.Profile, wt item.WorkType) *string {
	if wt == item.WorkFollowerIDs {
		return p.FollowerIDsCursor
	}
	return p.FriendIDsCursor
}

// setRelCursor records where pagination stopped. Hitting the exhausted
// sentinel clears the cursor and marks the listing fully scraped; otherwise
// the next scrape resumes mid-listing.
func setRelCursor(p *store.Profile, wt item.WorkType, last string) {
	exhausted := last == twapi.ExhaustedCursor || last == ""
	var cursor *string
	if !exhausted {
		cursor = &last
	}
	done := exhausted
	if wt == item.WorkFollowerIDs {
		p.FollowerIDsCursor = cursor
		p.FollowerIDsFullyScraped = &done
	} else {
		p.FriendIDsCursor = cursor
		p.FriendIDsFullyScraped = &done
	}
}

// clearRelCursor drops a stale resume cursor without marking the listing
// fully scraped.
func clearRelCursor(p *store.Profile, wt item.WorkType) {
	notDone := false
	if wt == item.WorkFollowerIDs {
		p.FollowerIDsCursor = nil
		p.FollowerIDsFullyScraped = &notDone
	} else {
		p.FriendIDsCursor = nil
		p.FriendIDsFullyScraped = &notDone
	}
}
