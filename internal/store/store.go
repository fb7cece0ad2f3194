package store

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database that owns profiles, tweets and the
// relationship edge tables. The pipeline only ever upserts; deletes happen
// through the control plane's merge endpoint.
type Store struct{ sql *sql.DB }

func Open(path string) (*Store, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;`); err != nil {
		return nil, err
	}
	s := &Store{sql: d}
	if err := s.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.sql.Close() }

// DB exposes the underlying handle for ad-hoc queries.
func (s *Store) DB() *sql.DB { return s.sql }

func (s *Store) migrate() error {
	_, err := s.sql.Exec(`
	CREATE TABLE IF NOT EXISTS profiles (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  user_id TEXT UNIQUE,
	  screen_name TEXT,
	  user_info TEXT,
	  is_available INTEGER,
	  manually_added INTEGER NOT NULL DEFAULT 0,
	  user_info_prev_scrape_attempt INTEGER,
	  user_info_prev_scrape_success INTEGER,
	  user_info_prev_status_code INTEGER,
	  user_timeline_since_id TEXT,
	  user_timeline_latest_tweet_datetime INTEGER,
	  user_timeline_prev_scrape_attempt INTEGER,
	  user_timeline_prev_scrape_success INTEGER,
	  user_timeline_prev_status_code INTEGER,
	  user_likes_since_id TEXT,
	  user_likes_prev_scrape_attempt INTEGER,
	  user_likes_prev_scrape_success INTEGER,
	  user_likes_prev_status_code INTEGER,
	  friend_ids_cursor TEXT,
	  friend_ids_fully_scraped INTEGER,
	  friend_ids_prev_scrape_attempt INTEGER,
	  friend_ids_prev_scrape_success INTEGER,
	  friend_ids_prev_status_code INTEGER,
	  follower_ids_cursor TEXT,
	  follower_ids_fully_scraped INTEGER,
	  follower_ids_prev_scrape_attempt INTEGER,
	  follower_ids_prev_scrape_success INTEGER,
	  follower_ids_prev_status_code INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_screen_name ON profiles(screen_name);
	CREATE TABLE IF NOT EXISTS tweets (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  tweet_api_id TEXT NOT NULL UNIQUE,
	  author_id INTEGER REFERENCES profiles(id),
	  tweet_type TEXT,
	  scrape_source TEXT,
	  json_data TEXT,
	  conversation_id TEXT,
	  has_link INTEGER,
	  has_text INTEGER,
	  publish_datetime INTEGER
	);
	CREATE TABLE IF NOT EXISTS retweet_rels (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  tweet_id INTEGER NOT NULL REFERENCES tweets(id),
	  retweeted_by_id INTEGER NOT NULL REFERENCES profiles(id),
	  is_quote INTEGER,
	  retweet_api_id TEXT,
	  retweet_datetime INTEGER,
	  UNIQUE(tweet_id, retweeted_by_id)
	);
	CREATE TABLE IF NOT EXISTS reply_rels (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  reply_id INTEGER NOT NULL REFERENCES tweets(id),
	  reply_to_id INTEGER NOT NULL REFERENCES tweets(id),
	  reply_datetime INTEGER,
	  UNIQUE(reply_id, reply_to_id)
	);
	CREATE TABLE IF NOT EXISTS like_rels (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  tweet_id INTEGER NOT NULL REFERENCES tweets(id),
	  liked_by_id INTEGER NOT NULL REFERENCES profiles(id),
	  like_api_id TEXT,
	  like_datetime INTEGER,
	  UNIQUE(tweet_id, liked_by_id)
	);
	CREATE TABLE IF NOT EXISTS tweet_mentions (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  tweet_id INTEGER NOT NULL REFERENCES tweets(id),
	  mentioned_profile_id INTEGER NOT NULL REFERENCES profiles(id),
	  UNIQUE(tweet_id, mentioned_profile_id)
	);
	CREATE TABLE IF NOT EXISTS profile_mentions (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  profile_id INTEGER NOT NULL REFERENCES profiles(id),
	  mentioned_by_id INTEGER NOT NULL REFERENCES profiles(id),
	  UNIQUE(profile_id, mentioned_by_id)
	);
	CREATE TABLE IF NOT EXISTS follow_rels (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  source_id INTEGER NOT NULL REFERENCES profiles(id),
	  dest_id INTEGER NOT NULL REFERENCES profiles(id),
	  UNIQUE(source_id, dest_id)
	);
	`)
	return err
}

// placeholders returns "?,?,...,?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// nullable time <-> unix-seconds column helpers

func timeToCol(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func colToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToCol(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func colToBool(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Int64 != 0
	return &b
}

func colToStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func colToInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func strToCol(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func intToCol(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}
