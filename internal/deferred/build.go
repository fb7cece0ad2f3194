package deferred

// Builder for v1.1 timeline and likes payloads. Each raw tweet is classified
// into a scenario and expanded into a fixed set of deferred records: the
// tweet itself (plus any inner quoted/replied-to tweet), the profiles it
// references, and at most one relationship record linking them.

// Scenario names for timeline classification.
const (
	ScenarioUserLike         = "user-like"
	ScenarioRetweet          = "retweet"
	ScenarioRetweetWithQuote = "retweet-with-quote"
	ScenarioReply            = "reply"
)

// Classify determines the scenario for one v1.1 tweet using structural
// signals, falling back to a link/media/text heuristic for plain statuses.
func Classify(st *StatusV1) string {
	if st.IsQuoteStatus {
		return ScenarioRetweetWithQuote
	}
	if st.RetweetedStatus != nil {
		return ScenarioRetweet
	}
	if st.InReplyToStatusIDStr != nil {
		// in_reply_to_user_id also gets set when a status merely begins
		// with an @-mention, so key off the status id instead.
		return ScenarioReply
	}
	return statusType(st)
}

// statusType distinguishes plain statuses by their content shape.
func statusType(st *StatusV1) string {
	urls := st.Entities.URLs
	if len(urls) == 1 && urls[0].URL == st.Text {
		return "link-only-status"
	}
	for _, m := range st.Entities.Media {
		if m.URL == st.Text {
			return "media-object-status"
		}
	}
	if len(urls) == 0 {
		return "text-only-status"
	}
	if StripLinksAndMentions(st.Text, urls) == "" {
		return "link-only-status"
	}
	return "text-with-link"
}

// BuildTimelineTweet expands one v1.1 tweet scraped for userID into deferred
// records. Pass ScenarioUserLike for likes payloads; otherwise the scenario
// is classified from the tweet itself.
func BuildTimelineTweet(userID string, st *StatusV1, scenario string) []Record {
	if scenario == "" {
		scenario = Classify(st)
	}

	profiles, mentionRels := buildMentionsV1(st)
	records := append([]Record{}, profiles...)

	switch scenario {
	case ScenarioUserLike:
		tw := buildTweetV1(st, "user-like")
		records = append(records, tw, &LikeRel{
			TweetAPIID:    tw.APIID,
			LikedByUserID: userID,
			LikeAPIID:     ptr(st.IDStr),
			LikedAt:       ParseCreatedAt(st.CreatedAt),
		})

	case ScenarioRetweet:
		tw := buildTweetV1(st.RetweetedStatus, "user-timeline-retweet")
		records = append(records, tw, &RetweetRel{
			TweetAPIID:        tw.APIID,
			RetweetedByUserID: userID,
			IsQuote:           ptr(st.IsQuoteStatus),
			RetweetAPIID:      ptr(st.IDStr),
			RetweetedAt:       ParseCreatedAt(st.CreatedAt),
		})

	case ScenarioRetweetWithQuote:
		outer := buildTweetV1(st, "user-timeline")
		var inner *Tweet
		switch {
		case st.QuotedStatus != nil:
			inner = buildTweetV1(st.QuotedStatus, "user-timeline-quote")
		case st.QuotedStatusIDStr != nil:
			// The quoted status is unavailable (removed, or the user
			// quoting themselves); a blank tweet merges away during
			// deduplication if the real one shows up.
			inner = &Tweet{APIID: *st.QuotedStatusIDStr}
		default:
			// No quoted reference at all; just keep the outer tweet.
			records = append(records, outer)
			return append(records, mentionRels...)
		}
		records = append(records, outer, inner, &RetweetRel{
			TweetAPIID:        inner.APIID,
			RetweetedByUserID: userID,
			IsQuote:           ptr(st.IsQuoteStatus),
			RetweetAPIID:      ptr(st.IDStr),
			RetweetedAt:       ParseCreatedAt(st.CreatedAt),
		})

	case ScenarioReply:
		target := &Tweet{
			APIID:        *st.InReplyToStatusIDStr,
			AuthorUserID: st.InReplyToUserIDStr,
		}
		reply := buildTweetV1(st, "user-timeline")
		records = append(records, target, reply, &ReplyRel{
			ReplyToAPIID: target.APIID,
			ReplyAPIID:   st.IDStr,
			RepliedAt:    ParseCreatedAt(st.CreatedAt),
		})

	default:
		// Standalone status: no relationship record.
		records = append(records, buildTweetV1(st, "user-timeline"))
	}

	return append(records, mentionRels...)
}

func buildTweetV1(st *StatusV1, scrapeSource string) *Tweet {
	tweetType := "status"
	if st.InReplyToStatusIDStr != nil {
		tweetType = "reply"
	} else if st.IsQuoteStatus {
		tweetType = "quote"
	}
	return &Tweet{
		APIID:        st.IDStr,
		JSONData:     ptr(string(st.Raw)),
		ScrapeSource: ptr(scrapeSource),
		TweetType:    ptr(tweetType),
		HasLink:      ptr(len(st.Entities.URLs) > 0),
		HasText:      ptr(StripLinksAndMentions(st.Text, st.Entities.URLs) != ""),
		AuthorUserID: authorOf(st),
		PublishedAt:  ParseCreatedAt(st.CreatedAt),
	}
}

func authorOf(st *StatusV1) *string {
	if st.User == nil || st.User.IDStr == "" {
		return nil
	}
	return ptr(st.User.IDStr)
}

// buildMentionsV1 emits a Profile plus MentionRel pair per structured
// user mention.
func buildMentionsV1(st *StatusV1) (profiles, mentionRels []Record) {
	for _, m := range st.Entities.UserMentions {
		profiles = append(profiles, &Profile{UserID: ptr(m.IDStr)})
		mentionRels = append(mentionRels, &MentionRel{
			MentionedUserID: m.IDStr,
			TweetAPIID:      st.IDStr,
		})
	}
	return profiles, mentionRels
}
