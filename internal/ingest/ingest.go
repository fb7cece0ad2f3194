// Package ingest resolves deferred records against the store and commits
// them in dependency order: profiles, then tweets, then relationship edges.
package ingest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"talon/internal/deferred"
	"talon/internal/store"
)

// Ingest is the single entry point for a batch of deferred records.
// parentAuthorUserID, when non-empty, is resolved alongside the referenced
// profiles so the batch's owning profile exists even if no record names it.
// The call is idempotent: running the same batch twice creates nothing new.
func Ingest(ctx context.Context, st *store.Store, records []deferred.Record, parentAuthorUserID string) error {
	records = deferred.Dedup(records)

	var (
		profiles []*deferred.Profile
		tweets   []*deferred.Tweet
		retweets []*deferred.RetweetRel
		replies  []*deferred.ReplyRel
		likes    []*deferred.LikeRel
		mentions []*deferred.MentionRel
	)
	for _, rec := range records {
		switch r := rec.(type) {
		case *deferred.Profile:
			if r.UserID == nil {
				log.Warn().Str("screen_name", stringOr(r.ScreenName)).Msg("dropping profile record without user id")
				continue
			}
			profiles = append(profiles, r)
		case *deferred.Tweet:
			tweets = append(tweets, r)
		case *deferred.RetweetRel:
			retweets = append(retweets, r)
		case *deferred.ReplyRel:
			replies = append(replies, r)
		case *deferred.LikeRel:
			likes = append(likes, r)
		case *deferred.MentionRel:
			mentions = append(mentions, r)
		}
	}

	// Every user id the batch references, whatever its role.
	var userIDs []string
	for _, p := range profiles {
		userIDs = append(userIDs, *p.UserID)
	}
	for _, t := range tweets {
		if t.AuthorUserID != nil {
			userIDs = append(userIDs, *t.AuthorUserID)
		}
	}
	for _, r := range retweets {
		userIDs = append(userIDs, r.RetweetedByUserID)
	}
	for _, r := range likes {
		userIDs = append(userIDs, r.LikedByUserID)
	}
	for _, r := range mentions {
		userIDs = append(userIDs, r.MentionedUserID)
	}
	if parentAuthorUserID != "" {
		userIDs = append(userIDs, parentAuthorUserID)
	}

	profileRows, _, err := st.GetOrCreateProfilesByUserID(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("resolve profiles: %w", err)
	}
	for _, p := range profiles {
		row := profileRows[*p.UserID]
		if p.ScreenName != nil && (row.ScreenName == nil || *row.ScreenName != *p.ScreenName) {
			row.ScreenName = p.ScreenName
			if err := st.UpdateProfile(ctx, row); err != nil {
				return fmt.Errorf("update profile %s: %w", *p.UserID, err)
			}
		}
	}

	apiIDs := make([]string, len(tweets))
	for i, t := range tweets {
		apiIDs[i] = t.APIID
	}
	tweetRows, err := st.GetOrCreateTweetsByAPIID(ctx, apiIDs)
	if err != nil {
		return fmt.Errorf("resolve tweets: %w", err)
	}
	for _, t := range tweets {
		row := tweetRows[t.APIID]
		if applyTweet(row, t, profileRows) {
			if err := st.UpdateTweet(ctx, row); err != nil {
				return fmt.Errorf("update tweet %s: %w", t.APIID, err)
			}
		}
	}

	if err := st.UpsertRetweetRels(ctx, resolveRetweets(retweets, tweetRows, profileRows)); err != nil {
		return fmt.Errorf("retweet rels: %w", err)
	}
	if err := st.UpsertReplyRels(ctx, resolveReplies(replies, tweetRows)); err != nil {
		return fmt.Errorf("reply rels: %w", err)
	}
	if err := st.UpsertLikeRels(ctx, resolveLikes(likes, tweetRows, profileRows)); err != nil {
		return fmt.Errorf("like rels: %w", err)
	}
	if err := st.UpsertTweetMentions(ctx, resolveMentions(mentions, tweetRows, profileRows)); err != nil {
		return fmt.Errorf("tweet mentions: %w", err)
	}
	return nil
}

// applyTweet copies the record's non-nil fields onto the row and reports
// whether anything changed.
func applyTweet(row *store.Tweet, t *deferred.Tweet, profileRows map[string]*store.Profile) bool {
	changed := false
	if t.AuthorUserID != nil {
		if p, ok := profileRows[*t.AuthorUserID]; ok {
			if row.AuthorID == nil || *row.AuthorID != p.ID {
				id := p.ID
				row.AuthorID = &id
				changed = true
			}
		}
	}
	if t.JSONData != nil {
		row.JSONData = t.JSONData
		changed = true
	}
	if t.ScrapeSource != nil {
		row.ScrapeSource = t.ScrapeSource
		changed = true
	}
	if t.TweetType != nil {
		row.TweetType = t.TweetType
		changed = true
	}
	if t.HasLink != nil {
		row.HasLink = t.HasLink
		changed = true
	}
	if t.HasText != nil {
		row.HasText = t.HasText
		changed = true
	}
	if t.ConversationID != nil {
		row.ConversationID = t.ConversationID
		changed = true
	}
	if t.PublishedAt != nil {
		row.PublishedAt = t.PublishedAt
		changed = true
	}
	return changed
}

func resolveRetweets(rels []*deferred.RetweetRel, tweets map[string]*store.Tweet, profiles map[string]*store.Profile) []store.RetweetRel {
	byPair := make(map[store.Pair]store.RetweetRel, len(rels))
	var order []store.Pair
	for _, r := range rels {
		t, okT := tweets[r.TweetAPIID]
		p, okP := profiles[r.RetweetedByUserID]
		if !okT || !okP {
			log.Warn().Str("tweet_api_id", r.TweetAPIID).Str("user_id", r.RetweetedByUserID).Msg("dropping retweet rel with unresolved endpoint")
			continue
		}
		key := store.Pair{A: t.ID, B: p.ID}
		if _, seen := byPair[key]; !seen {
			order = append(order, key)
		}
		byPair[key] = store.RetweetRel{
			TweetID:       t.ID,
			RetweetedByID: p.ID,
			IsQuote:       r.IsQuote,
			RetweetAPIID:  r.RetweetAPIID,
			RetweetedAt:   r.RetweetedAt,
		}
	}
	out := make([]store.RetweetRel, 0, len(order))
	for _, key := range order {
		out = append(out, byPair[key])
	}
	return out
}

func resolveReplies(rels []*deferred.ReplyRel, tweets map[string]*store.Tweet) []store.ReplyRel {
	byPair := make(map[store.Pair]store.ReplyRel, len(rels))
	var order []store.Pair
	for _, r := range rels {
		reply, okA := tweets[r.ReplyAPIID]
		target, okB := tweets[r.ReplyToAPIID]
		if !okA || !okB {
			log.Warn().Str("reply_api_id", r.ReplyAPIID).Str("reply_to_api_id", r.ReplyToAPIID).Msg("dropping reply rel with unresolved endpoint")
			continue
		}
		key := store.Pair{A: reply.ID, B: target.ID}
		if _, seen := byPair[key]; !seen {
			order = append(order, key)
		}
		byPair[key] = store.ReplyRel{ReplyID: reply.ID, ReplyToID: target.ID, RepliedAt: r.RepliedAt}
	}
	out := make([]store.ReplyRel, 0, len(order))
	for _, key := range order {
		out = append(out, byPair[key])
	}
	return out
}

func resolveLikes(rels []*deferred.LikeRel, tweets map[string]*store.Tweet, profiles map[string]*store.Profile) []store.LikeRel {
	byPair := make(map[store.Pair]store.LikeRel, len(rels))
	var order []store.Pair
	for _, r := range rels {
		t, okT := tweets[r.TweetAPIID]
		p, okP := profiles[r.LikedByUserID]
		if !okT || !okP {
			log.Warn().Str("tweet_api_id", r.TweetAPIID).Str("user_id", r.LikedByUserID).Msg("dropping like rel with unresolved endpoint")
			continue
		}
		key := store.Pair{A: t.ID, B: p.ID}
		if _, seen := byPair[key]; !seen {
			order = append(order, key)
		}
		byPair[key] = store.LikeRel{TweetID: t.ID, LikedByID: p.ID, LikeAPIID: r.LikeAPIID, LikedAt: r.LikedAt}
	}
	out := make([]store.LikeRel, 0, len(order))
	for _, key := range order {
		out = append(out, byPair[key])
	}
	return out
}

func resolveMentions(rels []*deferred.MentionRel, tweets map[string]*store.Tweet, profiles map[string]*store.Profile) []store.Pair {
	seen := make(map[store.Pair]bool, len(rels))
	var out []store.Pair
	for _, r := range rels {
		t, okT := tweets[r.TweetAPIID]
		p, okP := profiles[r.MentionedUserID]
		if !okT || !okP {
			log.Warn().Str("tweet_api_id", r.TweetAPIID).Str("user_id", r.MentionedUserID).Msg("dropping mention rel with unresolved endpoint")
			continue
		}
		key := store.Pair{A: t.ID, B: p.ID}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func stringOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
