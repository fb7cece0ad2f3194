package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"talon/internal/deferred"
	"talon/internal/item"
	"talon/internal/metrics"
	"talon/internal/store"
)

const lookupChunkSize = 100

// userInfoBatch is the mutable state threaded through one UserInfo batch:
// the item-to-row index (re-pointed when duplicates merge), the rows touched,
// and the side effects to flush after commit.
type userInfoBatch struct {
	rows       map[*item.ProfileItem]*store.Profile
	touched    map[int64]*store.Profile
	mergePairs []MergePair
	mentions   []store.Pair
}

// UserInfo resolves user ids / screen names to full user objects and updates
// their profile rows, detecting duplicate rows along the way.
func UserInfo(ctx context.Context, d *Deps, items []item.Item) error {
	batch := profileItems(items)
	if len(batch) == 0 {
		return nil
	}
	now := time.Now().UTC()

	state := &userInfoBatch{
		rows:    make(map[*item.ProfileItem]*store.Profile, len(batch)),
		touched: make(map[int64]*store.Profile, len(batch)),
	}
	if err := resolveItemRows(ctx, d, batch, state); err != nil {
		return err
	}
	for _, p := range state.rows {
		markAttempt(p, item.WorkUserInfo, now)
	}

	for start := 0; start < len(batch); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := lookupChunk(ctx, d, batch[start:end], state, now); err != nil {
			return err
		}
	}

	for _, p := range state.touched {
		if err := d.Store.UpdateProfile(ctx, p); err != nil {
			return fmt.Errorf("commit profile %d: %w", p.ID, err)
		}
	}
	if err := d.Store.UpsertProfileMentions(ctx, state.mentions); err != nil {
		return fmt.Errorf("profile mentions: %w", err)
	}

	if len(state.mergePairs) > 0 {
		metrics.MergePairs.Add(float64(len(state.mergePairs)))
		if d.Merge != nil {
			if err := d.Merge.Report(ctx, state.mergePairs); err != nil {
				log.Warn().Err(err).Int("pairs", len(state.mergePairs)).Msg("merge report failed")
			}
		}
	}
	return nil
}

// resolveItemRows maps every item to a profile row, creating rows for items
// that arrived with only a platform id or screen name (mention-driven work).
func resolveItemRows(ctx context.Context, d *Deps, batch []*item.ProfileItem, state *userInfoBatch) error {
	var objIDs []int64
	var wantUserIDs []string
	var wantScreenNames []string
	for _, it := range batch {
		switch {
		case it.ObjID != 0:
			objIDs = append(objIDs, it.ObjID)
		case it.UserID != "":
			wantUserIDs = append(wantUserIDs, it.UserID)
		default:
			wantScreenNames = append(wantScreenNames, it.ScreenName)
		}
	}

	byID, err := d.Store.ProfilesByIDs(ctx, objIDs)
	if err != nil {
		return err
	}
	byUserID, _, err := d.Store.GetOrCreateProfilesByUserID(ctx, wantUserIDs)
	if err != nil {
		return err
	}
	bySN := make(map[string]*store.Profile)
	snRows, err := d.Store.ProfilesByScreenNames(ctx, wantScreenNames)
	if err != nil {
		return err
	}
	for _, p := range snRows {
		if p.ScreenName != nil {
			bySN[strings.ToLower(*p.ScreenName)] = p
		}
	}

	for _, it := range batch {
		var p *store.Profile
		switch {
		case it.ObjID != 0:
			p = byID[it.ObjID]
			if p == nil {
				log.Warn().Int64("obj_id", it.ObjID).Msg("user_info item references missing profile row")
				continue
			}
		case it.UserID != "":
			p = byUserID[it.UserID]
		default:
			p = bySN[it.ScreenName]
			if p == nil {
				sn := it.ScreenName
				p = &store.Profile{ScreenName: &sn}
				if err := d.Store.CreateProfiles(ctx, []*store.Profile{p}); err != nil {
					return err
				}
				bySN[sn] = p
			}
		}
		state.rows[it] = p
		state.touched[p.ID] = p
	}
	return nil
}

// lookupChunk fetches one users/lookup page and applies it. A 404 on a
// multi-item chunk is bisected, since the endpoint reports "none found"
// rather than which ids were bad.
func lookupChunk(ctx context.Context, d *Deps, chunk []*item.ProfileItem, state *userInfoBatch, now time.Time) error {
	var userIDs, screenNames []string
	for _, it := range chunk {
		if state.rows[it] == nil {
			continue
		}
		if it.UserID != "" {
			userIDs = append(userIDs, it.UserID)
		} else {
			screenNames = append(screenNames, it.ScreenName)
		}
	}
	if len(userIDs) == 0 && len(screenNames) == 0 {
		return nil
	}

	users, status, err := d.Session.UsersLookup(ctx, userIDs, screenNames)
	if err != nil {
		return err
	}
	if status == 404 {
		if len(chunk) > 1 {
			mid := len(chunk) / 2
			if err := lookupChunk(ctx, d, chunk[:mid], state, now); err != nil {
				return err
			}
			return lookupChunk(ctx, d, chunk[mid:], state, now)
		}
		markChunkFailed(chunk, state, status, now)
		return nil
	}
	if status != 200 {
		markChunkFailed(chunk, state, status, now)
		return nil
	}
	return applyUsers(ctx, d, chunk, users, state, now)
}

func markChunkFailed(chunk []*item.ProfileItem, state *userInfoBatch, status int, now time.Time) {
	for _, it := range chunk {
		p := state.rows[it]
		if p == nil {
			continue
		}
		avail := false
		p.IsAvailable = &avail
		markResult(p, item.WorkUserInfo, status, now)
	}
}

func applyUsers(ctx context.Context, d *Deps, chunk []*item.ProfileItem, users []deferred.UserInfoV1, state *userInfoBatch, now time.Time) error {
	itemByUserID := make(map[string]*item.ProfileItem, len(chunk))
	itemBySN := make(map[string]*item.ProfileItem, len(chunk))
	for _, it := range chunk {
		if it.UserID != "" {
			itemByUserID[it.UserID] = it
		} else {
			itemBySN[it.ScreenName] = it
		}
	}

	// one duplicate lookup for the whole chunk
	var lookupIDs []string
	var exclude []int64
	for _, u := range users {
		lookupIDs = append(lookupIDs, u.IDStr)
	}
	for _, p := range state.rows {
		if p != nil {
			exclude = append(exclude, p.ID)
		}
	}
	dups, err := d.Store.DuplicateProfiles(ctx, exclude, lookupIDs)
	if err != nil {
		return err
	}

	matched := make(map[*item.ProfileItem]bool, len(chunk))
	for _, u := range users {
		it := itemByUserID[u.IDStr]
		if it == nil {
			it = itemBySN[strings.ToLower(u.ScreenName)]
		}
		if it == nil {
			log.Warn().Str("user_id", u.IDStr).Str("screen_name", u.ScreenName).Msg("lookup returned unrequested user")
			continue
		}
		p := state.rows[it]
		if p == nil {
			continue
		}
		matched[it] = true

		// The row has no platform id yet but the id maps to another row:
		// that other row wins and this one is reported for merging.
		if p.UserID == nil {
			if winner, ok := dups[u.IDStr]; ok && winner.ID != p.ID {
				state.mergePairs = append(state.mergePairs, MergePair{WinningID: winner.ID, LosingID: p.ID})
				state.rows[it] = winner
				state.touched[winner.ID] = winner
				delete(state.touched, p.ID)
				p = winner
			}
		}

		applyUser(p, u, now)
		if it.MentionedBy != 0 {
			state.mentions = append(state.mentions, store.Pair{A: p.ID, B: it.MentionedBy})
		}
		enqueueDescriptionMentions(ctx, d, p, u.Description)
	}

	for _, it := range chunk {
		if matched[it] {
			continue
		}
		p := state.rows[it]
		if p == nil {
			continue
		}
		avail := false
		p.IsAvailable = &avail
		markResult(p, item.WorkUserInfo, 404, now)
		// mention-driven placeholders still get their edge recorded
		if it.MentionedBy != 0 {
			state.mentions = append(state.mentions, store.Pair{A: p.ID, B: it.MentionedBy})
		}
	}
	return nil
}

func applyUser(p *store.Profile, u deferred.UserInfoV1, now time.Time) {
	id := u.IDStr
	sn := strings.ToLower(u.ScreenName)
	info := string(u.Raw)
	avail := true
	p.UserID = &id
	p.ScreenName = &sn
	p.UserInfo = &info
	p.IsAvailable = &avail
	markResult(p, item.WorkUserInfo, 200, now)
}

// enqueueDescriptionMentions turns @-mentions in a user's bio into low
// priority user_info work, so the mention graph fills in over time.
func enqueueDescriptionMentions(ctx context.Context, d *Deps, p *store.Profile, description string) {
	if d.Enqueue == nil {
		return
	}
	for _, sn := range deferred.MentionsFromString(description) {
		fields := map[string]any{
			"work_type":         string(item.WorkUserInfo),
			"screen_name":       sn,
			"mentioned_by_user": p.ID,
			"priority":          3,
		}
		if err := d.Enqueue(ctx, fields); err != nil {
			log.Warn().Err(err).Str("screen_name", sn).Msg("mention enqueue failed")
		}
	}
}
