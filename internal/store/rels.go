package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// pairChunk caps how many (a,b) row values go into one existence query.
const pairChunk = 200

// Pair is an edge between two rows, ordered (subject, object).
type Pair struct{ A, B int64 }

// RetweetRel links an original tweet to the profile that retweeted it.
type RetweetRel struct {
	TweetID       int64
	RetweetedByID int64
	IsQuote       *bool
	RetweetAPIID  *string
	RetweetedAt   *time.Time
}

// ReplyRel links a reply tweet to the tweet it replies to.
type ReplyRel struct {
	ReplyID   int64
	ReplyToID int64
	RepliedAt *time.Time
}

// LikeRel links a tweet to the profile that liked it.
type LikeRel struct {
	TweetID   int64
	LikedByID int64
	LikeAPIID *string
	LikedAt   *time.Time
}

// existingPairs returns which (a,b) pairs already have a row in table.
func (s *Store) existingPairs(ctx context.Context, table, colA, colB string, pairs []Pair) (map[Pair]bool, error) {
	out := make(map[Pair]bool, len(pairs))
	for start := 0; start < len(pairs); start += pairChunk {
		end := start + pairChunk
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[start:end]
		values := strings.TrimSuffix(strings.Repeat("(?,?),", len(chunk)), ",")
		args := make([]any, 0, 2*len(chunk))
		for _, p := range chunk {
			args = append(args, p.A, p.B)
		}
		q := fmt.Sprintf(`SELECT %s, %s FROM %s WHERE (%s, %s) IN (VALUES %s)`,
			colA, colB, table, colA, colB, values)
		rows, err := s.sql.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var p Pair
			if err := rows.Scan(&p.A, &p.B); err != nil {
				rows.Close()
				return nil, err
			}
			out[p] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// UpsertRetweetRels inserts retweet edges that are not present yet. Existing
// edges are left untouched.
func (s *Store) UpsertRetweetRels(ctx context.Context, rels []RetweetRel) error {
	if len(rels) == 0 {
		return nil
	}
	pairs := make([]Pair, len(rels))
	for i, r := range rels {
		pairs[i] = Pair{r.TweetID, r.RetweetedByID}
	}
	have, err := s.existingPairs(ctx, "retweet_rels", "tweet_id", "retweeted_by_id", pairs)
	if err != nil {
		return err
	}
	for i, r := range rels {
		if have[pairs[i]] {
			continue
		}
		_, err := s.sql.ExecContext(ctx,
			`INSERT INTO retweet_rels (tweet_id, retweeted_by_id, is_quote, retweet_api_id, retweet_datetime) VALUES (?,?,?,?,?)`,
			r.TweetID, r.RetweetedByID, boolToCol(r.IsQuote), strToCol(r.RetweetAPIID), timeToCol(r.RetweetedAt))
		if err != nil {
			return fmt.Errorf("insert retweet rel: %w", err)
		}
		have[pairs[i]] = true
	}
	return nil
}

// UpsertReplyRels inserts reply edges that are not present yet.
func (s *Store) UpsertReplyRels(ctx context.Context, rels []ReplyRel) error {
	if len(rels) == 0 {
		return nil
	}
	pairs := make([]Pair, len(rels))
	for i, r := range rels {
		pairs[i] = Pair{r.ReplyID, r.ReplyToID}
	}
	have, err := s.existingPairs(ctx, "reply_rels", "reply_id", "reply_to_id", pairs)
	if err != nil {
		return err
	}
	for i, r := range rels {
		if have[pairs[i]] {
			continue
		}
		_, err := s.sql.ExecContext(ctx,
			`INSERT INTO reply_rels (reply_id, reply_to_id, reply_datetime) VALUES (?,?,?)`,
			r.ReplyID, r.ReplyToID, timeToCol(r.RepliedAt))
		if err != nil {
			return fmt.Errorf("insert reply rel: %w", err)
		}
		have[pairs[i]] = true
	}
	return nil
}

// UpsertLikeRels inserts like edges that are not present yet.
func (s *Store) UpsertLikeRels(ctx context.Context, rels []LikeRel) error {
	if len(rels) == 0 {
		return nil
	}
	pairs := make([]Pair, len(rels))
	for i, r := range rels {
		pairs[i] = Pair{r.TweetID, r.LikedByID}
	}
	have, err := s.existingPairs(ctx, "like_rels", "tweet_id", "liked_by_id", pairs)
	if err != nil {
		return err
	}
	for i, r := range rels {
		if have[pairs[i]] {
			continue
		}
		_, err := s.sql.ExecContext(ctx,
			`INSERT INTO like_rels (tweet_id, liked_by_id, like_api_id, like_datetime) VALUES (?,?,?,?)`,
			r.TweetID, r.LikedByID, strToCol(r.LikeAPIID), timeToCol(r.LikedAt))
		if err != nil {
			return fmt.Errorf("insert like rel: %w", err)
		}
		have[pairs[i]] = true
	}
	return nil
}

// upsertPairTable handles the edge tables whose only payload is the pair.
func (s *Store) upsertPairTable(ctx context.Context, table, colA, colB string, edges []Pair) error {
	if len(edges) == 0 {
		return nil
	}
	have, err := s.existingPairs(ctx, table, colA, colB, edges)
	if err != nil {
		return err
	}
	insert := fmt.Sprintf(`INSERT INTO %s (%s, %s) VALUES (?,?)`, table, colA, colB)
	for _, p := range edges {
		if have[p] {
			continue
		}
		if _, err := s.sql.ExecContext(ctx, insert, p.A, p.B); err != nil {
			return fmt.Errorf("insert %s rel: %w", table, err)
		}
		have[p] = true
	}
	return nil
}

// UpsertTweetMentions inserts (tweet, mentioned profile) edges.
func (s *Store) UpsertTweetMentions(ctx context.Context, edges []Pair) error {
	return s.upsertPairTable(ctx, "tweet_mentions", "tweet_id", "mentioned_profile_id", edges)
}

// UpsertProfileMentions inserts (mentioned profile, mentioning profile) edges.
func (s *Store) UpsertProfileMentions(ctx context.Context, edges []Pair) error {
	return s.upsertPairTable(ctx, "profile_mentions", "profile_id", "mentioned_by_id", edges)
}

// UpsertFollowRels inserts (follower, followed) edges.
func (s *Store) UpsertFollowRels(ctx context.Context, edges []Pair) error {
	return s.upsertPairTable(ctx, "follow_rels", "source_id", "dest_id", edges)
}
