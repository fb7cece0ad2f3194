package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tweet is a tweets row. tweet_api_id is the natural key. author_id points at
// a profiles row, not a platform user id.
type Tweet struct {
	ID             int64
	TweetAPIID     string
	AuthorID       *int64
	TweetType      *string
	ScrapeSource   *string
	JSONData       *string
	ConversationID *string
	HasLink        *bool
	HasText        *bool
	PublishedAt    *time.Time
}

const tweetColumns = `id, tweet_api_id, author_id, tweet_type, scrape_source, json_data,
	conversation_id, has_link, has_text, publish_datetime`

func scanTweet(rows *sql.Rows) (*Tweet, error) {
	var t Tweet
	var authorID, hasLink, hasText, publishedAt sql.NullInt64
	var tweetType, scrapeSource, jsonData, conversationID sql.NullString
	err := rows.Scan(&t.ID, &t.TweetAPIID, &authorID, &tweetType, &scrapeSource, &jsonData,
		&conversationID, &hasLink, &hasText, &publishedAt)
	if err != nil {
		return nil, err
	}
	t.AuthorID = colToInt(authorID)
	t.TweetType = colToStr(tweetType)
	t.ScrapeSource = colToStr(scrapeSource)
	t.JSONData = colToStr(jsonData)
	t.ConversationID = colToStr(conversationID)
	t.HasLink = colToBool(hasLink)
	t.HasText = colToBool(hasText)
	t.PublishedAt = colToTime(publishedAt)
	return &t, nil
}

// TweetsByAPIIDs returns tweets keyed by their api id.
func (s *Store) TweetsByAPIIDs(ctx context.Context, apiIDs []string) (map[string]*Tweet, error) {
	out := make(map[string]*Tweet, len(apiIDs))
	if len(apiIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(apiIDs))
	for i, v := range apiIDs {
		args[i] = v
	}
	rows, err := s.sql.QueryContext(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE tweet_api_id IN (`+placeholders(len(apiIDs))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTweet(rows)
		if err != nil {
			return nil, err
		}
		out[t.TweetAPIID] = t
	}
	return out, rows.Err()
}

// CreateTweets bulk-inserts new tweets and fills in their row ids.
func (s *Store) CreateTweets(ctx context.Context, tweets []*Tweet) error {
	for _, t := range tweets {
		res, err := s.sql.ExecContext(ctx, `INSERT INTO tweets
			(tweet_api_id, author_id, tweet_type, scrape_source, json_data, conversation_id, has_link, has_text, publish_datetime)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			t.TweetAPIID, intToCol(t.AuthorID), strToCol(t.TweetType), strToCol(t.ScrapeSource),
			strToCol(t.JSONData), strToCol(t.ConversationID), boolToCol(t.HasLink), boolToCol(t.HasText),
			timeToCol(t.PublishedAt),
		)
		if err != nil {
			return fmt.Errorf("insert tweet %s: %w", t.TweetAPIID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		t.ID = id
	}
	return nil
}

// UpdateTweet writes every mutable column of the row back.
func (s *Store) UpdateTweet(ctx context.Context, t *Tweet) error {
	_, err := s.sql.ExecContext(ctx, `UPDATE tweets SET
		author_id=?, tweet_type=?, scrape_source=?, json_data=?, conversation_id=?, has_link=?, has_text=?, publish_datetime=?
		WHERE id=?`,
		intToCol(t.AuthorID), strToCol(t.TweetType), strToCol(t.ScrapeSource), strToCol(t.JSONData),
		strToCol(t.ConversationID), boolToCol(t.HasLink), boolToCol(t.HasText), timeToCol(t.PublishedAt),
		t.ID,
	)
	return err
}

// GetOrCreateTweetsByAPIID resolves every api id to a row, creating missing
// rows with just the natural key set, and returns a lookup covering both.
func (s *Store) GetOrCreateTweetsByAPIID(ctx context.Context, apiIDs []string) (map[string]*Tweet, error) {
	seen := make(map[string]struct{}, len(apiIDs))
	distinct := make([]string, 0, len(apiIDs))
	for _, id := range apiIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	out, err := s.TweetsByAPIIDs(ctx, distinct)
	if err != nil {
		return nil, err
	}
	var created []*Tweet
	for _, id := range distinct {
		if _, ok := out[id]; ok {
			continue
		}
		created = append(created, &Tweet{TweetAPIID: id})
	}
	if err := s.CreateTweets(ctx, created); err != nil {
		return nil, err
	}
	for _, t := range created {
		out[t.TweetAPIID] = t
	}
	return out, nil
}
