package deferred

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvariant marks a "should never happen" branch. The caller logs it and
// skips the offending item or fails the batch; it never blocks the process.
var ErrInvariant = errors.New("internal invariant violation")

const conversationScrapeSource = "recent-search-conversation"

// conversationIndex is the lookup state shared while expanding one
// conversation payload.
type conversationIndex struct {
	conversationID string
	authorUserID   string
	tweets         map[string]*TweetV2
	// tweet ids in payload order: replies first, then includes, no repeats
	order []string
	// users indexed by both id and lowercased username
	users   map[string]*UserV2
	missing map[string]struct{}
}

func (idx *conversationIndex) addTweet(tw *TweetV2) {
	if _, ok := idx.tweets[tw.ID]; ok {
		return
	}
	idx.tweets[tw.ID] = tw
	idx.order = append(idx.order, tw.ID)
}

// BuildConversation expands a v2 conversation-search payload (the reply
// tweets, the referenced tweets from includes, the referenced users and any
// partial errors) into deduplicated deferred records.
func BuildConversation(
	conversationID string,
	replyTweets, tweetsIncluded []TweetV2,
	users []UserV2,
	apiErrors []APIErrorV2,
) ([]Record, error) {

	idx := &conversationIndex{
		conversationID: conversationID,
		tweets:         make(map[string]*TweetV2, len(replyTweets)+len(tweetsIncluded)),
		users:          make(map[string]*UserV2, len(users)*2),
		missing:        make(map[string]struct{}),
	}
	for i := range replyTweets {
		idx.addTweet(&replyTweets[i])
	}
	for i := range tweetsIncluded {
		idx.addTweet(&tweetsIncluded[i])
	}

	for _, e := range apiErrors {
		if e.ResourceType == "tweet" && strings.Contains(e.Type, "not-found") {
			idx.missing[e.ResourceID] = struct{}{}
		}
	}
	for _, tw := range idx.tweets {
		for _, ref := range tw.ReferencedTweets {
			if _, ok := idx.tweets[ref.ID]; !ok {
				// usually a reply past the page limit
				idx.missing[ref.ID] = struct{}{}
			}
		}
	}

	for i := range users {
		u := &users[i]
		u.Username = strings.ToLower(u.Username)
		idx.users[u.ID] = u
		idx.users[u.Username] = u
	}

	top, ok := idx.tweets[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s has no top-level tweet", ErrInvariant, conversationID)
	}
	idx.authorUserID = top.AuthorID

	var records []Record
	if u, ok := idx.users[idx.authorUserID]; ok {
		records = append(records, profileFromUserV2(u))
	}
	for _, id := range idx.order {
		if _, gone := idx.missing[id]; gone {
			continue
		}
		records = append(records, buildConversationTweet(idx, idx.tweets[id], id != conversationID)...)
	}
	return Dedup(records), nil
}

func buildConversationTweet(idx *conversationIndex, tw *TweetV2, isReply bool) []Record {
	records := buildMentionsV2(idx, tw)

	if isReply {
		if rel := buildReplyRelV2(idx, tw); rel != nil {
			records = append(records, rel)
		}
	}

	var quotedID string
	for _, ref := range tw.ReferencedTweets {
		if ref.Type == "quoted" {
			quotedID = ref.ID
			break
		}
	}

	outerType := ""
	if quotedID == "" {
		if isReply {
			outerType = "reply"
		} else {
			outerType = statusTypeV2(tw)
		}
	} else {
		if isReply {
			outerType = "reply-with-quote"
		} else {
			outerType = "retweet-with-quote"
		}
	}

	records = append(records, buildTweetV2(tw, idx.conversationID, outerType))
	if tw.AuthorID != idx.authorUserID {
		if u, ok := idx.users[tw.AuthorID]; ok {
			records = append(records, profileFromUserV2(u))
		}
	}

	if quotedID == "" {
		return records
	}
	inner, ok := idx.tweets[quotedID]
	if !ok {
		// inner tweet unavailable, e.g. removed by its author
		return records
	}
	records = append(records, buildTweetV2(inner, idx.conversationID, statusTypeV2(inner)))
	if inner.AuthorID != idx.authorUserID {
		if u, ok := idx.users[inner.AuthorID]; ok {
			records = append(records, profileFromUserV2(u))
		}
	}
	// a quoted tweet inside a reply is modelled as a retweet edge
	records = append(records, &RetweetRel{
		TweetAPIID:        inner.ID,
		RetweetedByUserID: tw.AuthorID,
		IsQuote:           ptr(true),
		RetweetAPIID:      ptr(tw.ID),
		RetweetedAt:       ParseCreatedAt(tw.CreatedAt),
	})
	return records
}

func buildReplyRelV2(idx *conversationIndex, tw *TweetV2) Record {
	for _, ref := range tw.ReferencedTweets {
		if ref.Type != "replied_to" {
			continue
		}
		if _, gone := idx.missing[ref.ID]; gone {
			// the reply target was never fetched, so the edge is lost
			return nil
		}
		return &ReplyRel{
			ReplyToAPIID: ref.ID,
			ReplyAPIID:   tw.ID,
			RepliedAt:    ParseCreatedAt(tw.CreatedAt),
		}
	}
	if tw.InReplyToUserID == nil {
		// not a reply, could be a quoted tweet within a reply
		return nil
	}
	if *tw.InReplyToUserID == idx.authorUserID {
		return &ReplyRel{
			ReplyToAPIID: idx.conversationID,
			ReplyAPIID:   tw.ID,
			RepliedAt:    ParseCreatedAt(tw.CreatedAt),
		}
	}
	log.Warn().Str("tweet", tw.ID).Str("in_reply_to", *tw.InReplyToUserID).
		Msg("reply target outside conversation, dropping reply edge")
	return nil
}

func buildTweetV2(tw *TweetV2, conversationID, tweetType string) *Tweet {
	return &Tweet{
		APIID:          tw.ID,
		JSONData:       ptr(string(tw.Raw)),
		ScrapeSource:   ptr(conversationScrapeSource),
		TweetType:      ptr(tweetType),
		HasLink:        ptr(len(tw.Entities.URLs) > 0),
		HasText:        ptr(StripLinksAndMentions(tw.Text, tw.Entities.URLs) != ""),
		ConversationID: ptr(conversationID),
		AuthorUserID:   ptr(tw.AuthorID),
		PublishedAt:    ParseCreatedAt(tw.CreatedAt),
	}
}

func statusTypeV2(tw *TweetV2) string {
	urls := tw.Entities.URLs
	if len(urls) == 1 && urls[0].URL == tw.Text {
		return "link-only-status"
	}
	if len(urls) == 0 {
		return "text-only-status"
	}
	if StripLinksAndMentions(tw.Text, urls) == "" {
		return "link-only-status"
	}
	return "text-with-link"
}

func profileFromUserV2(u *UserV2) *Profile {
	return &Profile{UserID: ptr(u.ID), ScreenName: ptr(u.Username)}
}

func buildMentionsV2(idx *conversationIndex, tw *TweetV2) []Record {
	var records []Record
	for _, m := range tw.Entities.Mentions {
		u, ok := idx.users[strings.ToLower(m.Username)]
		if !ok {
			continue
		}
		records = append(records,
			&Profile{UserID: ptr(u.ID), ScreenName: ptr(u.Username)},
			&MentionRel{MentionedUserID: u.ID, TweetAPIID: tw.ID},
		)
	}
	return records
}
