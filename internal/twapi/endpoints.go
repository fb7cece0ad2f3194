package twapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"talon/internal/deferred"
)

// idsPage fetches one page of a v1.1 id-cursor endpoint.
func (s *Session) idsPage(ctx context.Context, path, userID, cursor string) ([]string, string, int, error) {
	q := url.Values{
		"user_id":       {userID},
		"count":         {"5000"},
		"stringify_ids": {"true"},
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	body, status, err := s.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, "", 0, err
	}
	if status != http.StatusOK {
		return nil, "", status, nil
	}
	var out struct {
		IDs        []string `json:"ids"`
		NextCursor string   `json:"next_cursor_str"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, "", status, fmt.Errorf("decode ids page: %w", err)
	}
	return out.IDs, out.NextCursor, status, nil
}

// FollowerIDsPage fetches one page of follower ids for userID.
func (s *Session) FollowerIDsPage(ctx context.Context, userID, cursor string) ([]string, string, int, error) {
	return s.idsPage(ctx, "/1.1/followers/ids.json", userID, cursor)
}

// FriendIDsPage fetches one page of friend (followed) ids for userID.
func (s *Session) FriendIDsPage(ctx context.Context, userID, cursor string) ([]string, string, int, error) {
	return s.idsPage(ctx, "/1.1/friends/ids.json", userID, cursor)
}

// statusesPage fetches one page of a v1.1 statuses endpoint paginated by
// max_id. The next cursor is min(id)-1 over the page, so the following page
// starts strictly below everything already seen.
func (s *Session) statusesPage(ctx context.Context, path, userID, maxID, sinceID string) ([]deferred.StatusV1, string, int, error) {
	q := url.Values{
		"user_id":          {userID},
		"count":            {"200"},
		"tweet_mode":       {"extended"},
		"include_entities": {"true"},
	}
	if maxID != "" {
		q.Set("max_id", maxID)
	}
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	body, status, err := s.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, "", 0, err
	}
	if status != http.StatusOK {
		return nil, "", status, nil
	}
	statuses, err := deferred.DecodeStatusesV1(body)
	if err != nil {
		return nil, "", status, fmt.Errorf("decode statuses page: %w", err)
	}
	return statuses, nextMaxID(statuses), status, nil
}

// nextMaxID computes the max_id cursor for the page after these statuses.
// Empty when no id parses, which ends the cursored loop at the caller.
func nextMaxID(statuses []deferred.StatusV1) string {
	var min int64
	for _, st := range statuses {
		id, err := strconv.ParseInt(st.IDStr, 10, 64)
		if err != nil {
			continue
		}
		if min == 0 || id < min {
			min = id
		}
	}
	if min == 0 {
		return ""
	}
	return strconv.FormatInt(min-1, 10)
}

// UserTimelinePage fetches one page of a user's own tweets.
func (s *Session) UserTimelinePage(ctx context.Context, userID, maxID, sinceID string) ([]deferred.StatusV1, string, int, error) {
	return s.statusesPage(ctx, "/1.1/statuses/user_timeline.json", userID, maxID, sinceID)
}

// UserLikesPage fetches one page of tweets the user liked.
func (s *Session) UserLikesPage(ctx context.Context, userID, maxID, sinceID string) ([]deferred.StatusV1, string, int, error) {
	return s.statusesPage(ctx, "/1.1/favorites/list.json", userID, maxID, sinceID)
}

// UsersLookup resolves up to 100 users by id and/or screen name in one call.
// 404 means none of the requested users exist.
func (s *Session) UsersLookup(ctx context.Context, userIDs, screenNames []string) ([]deferred.UserInfoV1, int, error) {
	form := url.Values{"include_entities": {"false"}}
	if len(userIDs) > 0 {
		form.Set("user_id", strings.Join(userIDs, ","))
	}
	if len(screenNames) > 0 {
		form.Set("screen_name", strings.Join(screenNames, ","))
	}
	body, status, err := s.do(ctx, http.MethodPost, "/1.1/users/lookup.json", nil, form)
	if err != nil {
		return nil, 0, err
	}
	if status != http.StatusOK {
		return nil, status, nil
	}
	users, err := deferred.DecodeUsersV1(body)
	if err != nil {
		return nil, status, fmt.Errorf("decode users lookup: %w", err)
	}
	return users, status, nil
}

// ConversationPage is one page of v2 search results plus its expansions.
type ConversationPage struct {
	Tweets         []deferred.TweetV2
	IncludedTweets []deferred.TweetV2
	Users          []deferred.UserV2
	Errors         []deferred.APIErrorV2
}

const v2TweetFields = "id,text,author_id,conversation_id,created_at,entities,referenced_tweets,in_reply_to_user_id,attachments"

// ConversationSearchPage fetches one page of replies in a conversation.
func (s *Session) ConversationSearchPage(ctx context.Context, conversationID, nextToken string) (ConversationPage, string, int, error) {
	q := url.Values{
		"query":        {"conversation_id:" + conversationID},
		"max_results":  {"100"},
		"tweet.fields": {v2TweetFields},
		"expansions":   {"author_id,referenced_tweets.id,in_reply_to_user_id"},
		"user.fields":  {"id,username"},
	}
	if nextToken != "" {
		q.Set("next_token", nextToken)
	}
	body, status, err := s.do(ctx, http.MethodGet, "/2/tweets/search/recent", q, nil)
	if err != nil {
		return ConversationPage{}, "", 0, err
	}
	if status != http.StatusOK {
		return ConversationPage{}, "", status, nil
	}
	var out struct {
		Data     []deferred.TweetV2 `json:"data"`
		Includes struct {
			Tweets []deferred.TweetV2 `json:"tweets"`
			Users  []deferred.UserV2  `json:"users"`
		} `json:"includes"`
		Errors []deferred.APIErrorV2 `json:"errors"`
		Meta   struct {
			NextToken string `json:"next_token"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ConversationPage{}, "", status, fmt.Errorf("decode conversation page: %w", err)
	}
	page := ConversationPage{
		Tweets:         out.Data,
		IncludedTweets: out.Includes.Tweets,
		Users:          out.Includes.Users,
		Errors:         out.Errors,
	}
	return page, out.Meta.NextToken, status, nil
}

// TweetsLookupV2 resolves up to 100 tweets by id, including their authors.
// Missing or protected tweets come back in Errors rather than Tweets.
func (s *Session) TweetsLookupV2(ctx context.Context, ids []string) (ConversationPage, int, error) {
	q := url.Values{
		"ids":          {strings.Join(ids, ",")},
		"tweet.fields": {v2TweetFields},
		"expansions":   {"author_id,referenced_tweets.id,in_reply_to_user_id"},
		"user.fields":  {"id,username"},
	}
	body, status, err := s.do(ctx, http.MethodGet, "/2/tweets", q, nil)
	if err != nil {
		return ConversationPage{}, 0, err
	}
	if status != http.StatusOK {
		return ConversationPage{}, status, nil
	}
	var out struct {
		Data     []deferred.TweetV2 `json:"data"`
		Includes struct {
			Tweets []deferred.TweetV2 `json:"tweets"`
			Users  []deferred.UserV2  `json:"users"`
		} `json:"includes"`
		Errors []deferred.APIErrorV2 `json:"errors"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ConversationPage{}, status, fmt.Errorf("decode tweets lookup: %w", err)
	}
	return ConversationPage{
		Tweets:         out.Data,
		IncludedTweets: out.Includes.Tweets,
		Users:          out.Includes.Users,
		Errors:         out.Errors,
	}, status, nil
}
