package scrape

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"talon/internal/deferred"
	"talon/internal/ingest"
	"talon/internal/item"
	"talon/internal/metrics"
)

// ConversationTweets scrapes every reply in each item's conversation,
// resolves referenced tweets the search pages left out, and ingests the
// whole thread.
func ConversationTweets(ctx context.Context, d *Deps, items []item.Item) error {
	tuning := Tunings[item.WorkConversationTweets]

	for _, raw := range items {
		it, ok := raw.(*item.ConversationItem)
		if !ok {
			log.Warn().Str("line_id", raw.LineID()).Msg("non-conversation item in conversation batch, dropping")
			continue
		}

		var replies []deferred.TweetV2
		var included []deferred.TweetV2
		var users []deferred.UserV2
		var apiErrors []deferred.APIErrorV2

		token := ""
		status := 200
		for page := 0; page < tuning.MaxPages; page++ {
			pageRes, next, st, err := d.Session.ConversationSearchPage(ctx, it.ConversationID, token)
			if err != nil {
				return err
			}
			status = st
			if st != 200 {
				break
			}
			replies = append(replies, pageRes.Tweets...)
			included = append(included, pageRes.IncludedTweets...)
			users = append(users, pageRes.Users...)
			apiErrors = append(apiErrors, pageRes.Errors...)
			if next == "" {
				break
			}
			token = next
			if tuning.PageDelay > 0 {
				if err := d.Session.Sleep(ctx, tuning.PageDelay); err != nil {
					return err
				}
			}
		}
		if status != 200 {
			log.Warn().Str("conversation_id", it.ConversationID).Int("status", status).Msg("conversation search failed, dropping item")
			continue
		}

		if err := lookupMissingTweets(ctx, d, it.ConversationID, replies, &included, &users, &apiErrors); err != nil {
			return err
		}

		records, err := deferred.BuildConversation(it.ConversationID, replies, included, users, apiErrors)
		if err != nil {
			if errors.Is(err, deferred.ErrInvariant) {
				log.Error().Err(err).Str("conversation_id", it.ConversationID).Msg("conversation payload inconsistent, dropping item")
				continue
			}
			return err
		}
		metrics.IngestRecords.Add(float64(len(records)))
		if err := ingest.Ingest(ctx, d.Store, records, ""); err != nil {
			log.Error().Err(err).Str("conversation_id", it.ConversationID).Msg("conversation ingest failed, dropping item")
		}
	}
	return nil
}

// lookupMissingTweets resolves the conversation head and any referenced
// tweets the search pages never included. Results that still don't resolve
// come back as errors, which the builder treats as deleted tweets.
func lookupMissingTweets(ctx context.Context, d *Deps, conversationID string, replies []deferred.TweetV2, included *[]deferred.TweetV2, users *[]deferred.UserV2, apiErrors *[]deferred.APIErrorV2) error {
	have := make(map[string]bool, len(replies)+len(*included))
	for _, t := range replies {
		have[t.ID] = true
	}
	for _, t := range *included {
		have[t.ID] = true
	}
	failed := make(map[string]bool, len(*apiErrors))
	for _, e := range *apiErrors {
		failed[e.ResourceID] = true
	}

	var missing []string
	if !have[conversationID] && !failed[conversationID] {
		missing = append(missing, conversationID)
	}
	for _, t := range replies {
		for _, ref := range t.ReferencedTweets {
			if !have[ref.ID] && !failed[ref.ID] {
				have[ref.ID] = true // dedup the lookup list
				missing = append(missing, ref.ID)
			}
		}
	}

	for start := 0; start < len(missing); start += lookupChunkSize {
		end := start + lookupChunkSize
		if end > len(missing) {
			end = len(missing)
		}
		page, status, err := d.Session.TweetsLookupV2(ctx, missing[start:end])
		if err != nil {
			return err
		}
		if status != 200 {
			log.Warn().Int("status", status).Msg("tweets lookup failed, continuing without referenced tweets")
			continue
		}
		*included = append(*included, page.Tweets...)
		*included = append(*included, page.IncludedTweets...)
		*users = append(*users, page.Users...)
		*apiErrors = append(*apiErrors, page.Errors...)
	}
	return nil
}
