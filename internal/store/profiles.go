package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ScrapeState is the per-work-type bookkeeping block on a profile.
type ScrapeState struct {
	PrevAttempt    *time.Time
	PrevSuccess    *time.Time
	PrevStatusCode *int64
}

// Profile is a profiles row. user_id is the natural key, unique when set;
// screen_name is a secondary lookup key. A nil cursor with FullyScraped true
// means the paged scrape is exhausted; nil with false means never started or
// invalidated.
type Profile struct {
	ID            int64
	UserID        *string
	ScreenName    *string
	UserInfo      *string
	IsAvailable   *bool
	ManuallyAdded bool

	UserInfoState    ScrapeState
	TimelineState    ScrapeState
	LikesState       ScrapeState
	FriendIDsState   ScrapeState
	FollowerIDsState ScrapeState

	TimelineSinceID     *string
	TimelineLatestTweet *time.Time
	LikesSinceID        *string

	FriendIDsCursor         *string
	FriendIDsFullyScraped   *bool
	FollowerIDsCursor       *string
	FollowerIDsFullyScraped *bool
}

const profileColumns = `id, user_id, screen_name, user_info, is_available, manually_added,
	user_info_prev_scrape_attempt, user_info_prev_scrape_success, user_info_prev_status_code,
	user_timeline_since_id, user_timeline_latest_tweet_datetime,
	user_timeline_prev_scrape_attempt, user_timeline_prev_scrape_success, user_timeline_prev_status_code,
	user_likes_since_id, user_likes_prev_scrape_attempt, user_likes_prev_scrape_success, user_likes_prev_status_code,
	friend_ids_cursor, friend_ids_fully_scraped,
	friend_ids_prev_scrape_attempt, friend_ids_prev_scrape_success, friend_ids_prev_status_code,
	follower_ids_cursor, follower_ids_fully_scraped,
	follower_ids_prev_scrape_attempt, follower_ids_prev_scrape_success, follower_ids_prev_status_code`

func scanProfile(rows *sql.Rows) (*Profile, error) {
	var p Profile
	var userID, screenName, userInfo, tlSinceID, likesSinceID, friendCursor, followerCursor sql.NullString
	var isAvailable, friendFully, followerFully sql.NullInt64
	var uiAtt, uiSuc, uiCode, tlLatest, tlAtt, tlSuc, tlCode sql.NullInt64
	var lkAtt, lkSuc, lkCode, frAtt, frSuc, frCode, foAtt, foSuc, foCode sql.NullInt64

	err := rows.Scan(
		&p.ID, &userID, &screenName, &userInfo, &isAvailable, &p.ManuallyAdded,
		&uiAtt, &uiSuc, &uiCode,
		&tlSinceID, &tlLatest, &tlAtt, &tlSuc, &tlCode,
		&likesSinceID, &lkAtt, &lkSuc, &lkCode,
		&friendCursor, &friendFully, &frAtt, &frSuc, &frCode,
		&followerCursor, &followerFully, &foAtt, &foSuc, &foCode,
	)
	if err != nil {
		return nil, err
	}
	p.UserID = colToStr(userID)
	p.ScreenName = colToStr(screenName)
	p.UserInfo = colToStr(userInfo)
	p.IsAvailable = colToBool(isAvailable)
	p.UserInfoState = ScrapeState{colToTime(uiAtt), colToTime(uiSuc), colToInt(uiCode)}
	p.TimelineSinceID = colToStr(tlSinceID)
	p.TimelineLatestTweet = colToTime(tlLatest)
	p.TimelineState = ScrapeState{colToTime(tlAtt), colToTime(tlSuc), colToInt(tlCode)}
	p.LikesSinceID = colToStr(likesSinceID)
	p.LikesState = ScrapeState{colToTime(lkAtt), colToTime(lkSuc), colToInt(lkCode)}
	p.FriendIDsCursor = colToStr(friendCursor)
	p.FriendIDsFullyScraped = colToBool(friendFully)
	p.FriendIDsState = ScrapeState{colToTime(frAtt), colToTime(frSuc), colToInt(frCode)}
	p.FollowerIDsCursor = colToStr(followerCursor)
	p.FollowerIDsFullyScraped = colToBool(followerFully)
	p.FollowerIDsState = ScrapeState{colToTime(foAtt), colToTime(foSuc), colToInt(foCode)}
	return &p, nil
}

func (s *Store) queryProfiles(ctx context.Context, where string, args ...any) ([]*Profile, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProfilesByIDs returns profiles keyed by row id.
func (s *Store) ProfilesByIDs(ctx context.Context, ids []int64) (map[int64]*Profile, error) {
	if len(ids) == 0 {
		return map[int64]*Profile{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	profiles, err := s.queryProfiles(ctx, `id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*Profile, len(profiles))
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}

// ProfilesByUserIDs returns profiles with the given api user ids.
func (s *Store) ProfilesByUserIDs(ctx context.Context, userIDs []string) ([]*Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(userIDs))
	for i, v := range userIDs {
		args[i] = v
	}
	return s.queryProfiles(ctx, `user_id IN (`+placeholders(len(userIDs))+`)`, args...)
}

// ProfilesByScreenNames returns profiles with the given screen names.
func (s *Store) ProfilesByScreenNames(ctx context.Context, screenNames []string) ([]*Profile, error) {
	if len(screenNames) == 0 {
		return nil, nil
	}
	args := make([]any, len(screenNames))
	for i, v := range screenNames {
		args[i] = v
	}
	return s.queryProfiles(ctx, `screen_name IN (`+placeholders(len(screenNames))+`)`, args...)
}

// DuplicateProfiles finds rows holding one of userIDs but outside
// excludeIDs. Used by the user_info merge protocol to detect that a platform
// id already maps to a different row.
func (s *Store) DuplicateProfiles(ctx context.Context, excludeIDs []int64, userIDs []string) (map[string]*Profile, error) {
	if len(userIDs) == 0 {
		return map[string]*Profile{}, nil
	}
	args := make([]any, 0, len(userIDs)+len(excludeIDs))
	for _, v := range userIDs {
		args = append(args, v)
	}
	where := `user_id IN (` + placeholders(len(userIDs)) + `)`
	if len(excludeIDs) > 0 {
		for _, id := range excludeIDs {
			args = append(args, id)
		}
		where += ` AND id NOT IN (` + placeholders(len(excludeIDs)) + `)`
	}
	profiles, err := s.queryProfiles(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Profile, len(profiles))
	for _, p := range profiles {
		if p.UserID != nil {
			out[*p.UserID] = p
		}
	}
	return out, nil
}

// CreateProfiles bulk-inserts new profiles and fills in their row ids.
func (s *Store) CreateProfiles(ctx context.Context, profiles []*Profile) error {
	for _, p := range profiles {
		res, err := s.sql.ExecContext(ctx, `INSERT INTO profiles (user_id, screen_name, user_info, is_available, manually_added,
			user_info_prev_scrape_attempt, user_info_prev_scrape_success, user_info_prev_status_code)
			VALUES (?,?,?,?,?,?,?,?)`,
			strToCol(p.UserID), strToCol(p.ScreenName), strToCol(p.UserInfo), boolToCol(p.IsAvailable), p.ManuallyAdded,
			timeToCol(p.UserInfoState.PrevAttempt), timeToCol(p.UserInfoState.PrevSuccess), intToCol(p.UserInfoState.PrevStatusCode),
		)
		if err != nil {
			return fmt.Errorf("insert profile: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		p.ID = id
	}
	return nil
}

// UpdateProfile writes every mutable column of the row back.
func (s *Store) UpdateProfile(ctx context.Context, p *Profile) error {
	_, err := s.sql.ExecContext(ctx, `UPDATE profiles SET
		user_id=?, screen_name=?, user_info=?, is_available=?, manually_added=?,
		user_info_prev_scrape_attempt=?, user_info_prev_scrape_success=?, user_info_prev_status_code=?,
		user_timeline_since_id=?, user_timeline_latest_tweet_datetime=?,
		user_timeline_prev_scrape_attempt=?, user_timeline_prev_scrape_success=?, user_timeline_prev_status_code=?,
		user_likes_since_id=?, user_likes_prev_scrape_attempt=?, user_likes_prev_scrape_success=?, user_likes_prev_status_code=?,
		friend_ids_cursor=?, friend_ids_fully_scraped=?,
		friend_ids_prev_scrape_attempt=?, friend_ids_prev_scrape_success=?, friend_ids_prev_status_code=?,
		follower_ids_cursor=?, follower_ids_fully_scraped=?,
		follower_ids_prev_scrape_attempt=?, follower_ids_prev_scrape_success=?, follower_ids_prev_status_code=?
		WHERE id=?`,
		strToCol(p.UserID), strToCol(p.ScreenName), strToCol(p.UserInfo), boolToCol(p.IsAvailable), p.ManuallyAdded,
		timeToCol(p.UserInfoState.PrevAttempt), timeToCol(p.UserInfoState.PrevSuccess), intToCol(p.UserInfoState.PrevStatusCode),
		strToCol(p.TimelineSinceID), timeToCol(p.TimelineLatestTweet),
		timeToCol(p.TimelineState.PrevAttempt), timeToCol(p.TimelineState.PrevSuccess), intToCol(p.TimelineState.PrevStatusCode),
		strToCol(p.LikesSinceID), timeToCol(p.LikesState.PrevAttempt), timeToCol(p.LikesState.PrevSuccess), intToCol(p.LikesState.PrevStatusCode),
		strToCol(p.FriendIDsCursor), boolToCol(p.FriendIDsFullyScraped),
		timeToCol(p.FriendIDsState.PrevAttempt), timeToCol(p.FriendIDsState.PrevSuccess), intToCol(p.FriendIDsState.PrevStatusCode),
		strToCol(p.FollowerIDsCursor), boolToCol(p.FollowerIDsFullyScraped),
		timeToCol(p.FollowerIDsState.PrevAttempt), timeToCol(p.FollowerIDsState.PrevSuccess), intToCol(p.FollowerIDsState.PrevStatusCode),
		p.ID,
	)
	return err
}

// UpdateProfiles writes a set of modified rows back, one by one; mutation
// commits are the unit of consistency here, there are no long transactions.
func (s *Store) UpdateProfiles(ctx context.Context, profiles []*Profile) error {
	for _, p := range profiles {
		if err := s.UpdateProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// GetOrCreateProfilesByUserID resolves every user id to a row, creating
// missing rows with defaults, and returns a lookup by user id covering both
// pre-existing and new rows. Calling it twice with the same ids creates
// nothing the second time.
func (s *Store) GetOrCreateProfilesByUserID(ctx context.Context, userIDs []string) (map[string]*Profile, []int64, error) {
	// drop empties and duplicates, preserve first-seen order
	seen := make(map[string]struct{}, len(userIDs))
	distinct := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	existing, err := s.ProfilesByUserIDs(ctx, distinct)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]*Profile, len(distinct))
	for _, p := range existing {
		out[*p.UserID] = p
	}

	var created []*Profile
	for _, id := range distinct {
		if _, ok := out[id]; ok {
			continue
		}
		created = append(created, &Profile{UserID: ptrStr(id)})
	}
	if err := s.CreateProfiles(ctx, created); err != nil {
		return nil, nil, err
	}
	newIDs := make([]int64, 0, len(created))
	for _, p := range created {
		out[*p.UserID] = p
		newIDs = append(newIDs, p.ID)
	}
	return out, newIDs, nil
}

func ptrStr(s string) *string { return &s }
