package deferred

import "time"

// A Record is a partially-populated row produced before its dependencies
// (author row id, tweet row id) are known. Nil fields mean "unknown, do not
// overwrite"; the ingest step resolves the rest.
type Record interface {
	// IdentityKey detects that two records describe the same logical
	// entity and must be merged before upsert.
	IdentityKey() string
	// absorb fills the receiver's nil fields from other. The receiver is
	// the earlier record in input order, so its values win ties.
	absorb(other Record)
}

// Profile references a user by api id and/or screen name.
type Profile struct {
	UserID     *string
	ScreenName *string
}

func (p *Profile) IdentityKey() string {
	if p.UserID != nil {
		return "Profile:" + *p.UserID
	}
	return "Profile:" + deref(p.ScreenName)
}

func (p *Profile) absorb(other Record) {
	o := other.(*Profile)
	p.UserID = coalesce(p.UserID, o.UserID)
	p.ScreenName = coalesce(p.ScreenName, o.ScreenName)
}

// Tweet is a deferred tweets row. APIID is always set; everything else can
// arrive later, e.g. a reply target known only by id.
type Tweet struct {
	APIID          string
	JSONData       *string
	ScrapeSource   *string
	TweetType      *string
	HasLink        *bool
	HasText        *bool
	ConversationID *string
	AuthorUserID   *string
	PublishedAt    *time.Time
}

func (t *Tweet) IdentityKey() string { return "Tweet:" + t.APIID }

func (t *Tweet) absorb(other Record) {
	o := other.(*Tweet)
	t.JSONData = coalesce(t.JSONData, o.JSONData)
	t.ScrapeSource = coalesce(t.ScrapeSource, o.ScrapeSource)
	t.TweetType = coalesce(t.TweetType, o.TweetType)
	t.HasLink = coalesce(t.HasLink, o.HasLink)
	t.HasText = coalesce(t.HasText, o.HasText)
	t.ConversationID = coalesce(t.ConversationID, o.ConversationID)
	t.AuthorUserID = coalesce(t.AuthorUserID, o.AuthorUserID)
	t.PublishedAt = coalesce(t.PublishedAt, o.PublishedAt)
}

// RetweetRel says RetweetedByUserID retweeted (or quote-tweeted, via
// RetweetAPIID) the tweet with TweetAPIID.
type RetweetRel struct {
	TweetAPIID        string
	RetweetedByUserID string
	IsQuote           *bool
	RetweetAPIID      *string
	RetweetedAt       *time.Time
}

func (r *RetweetRel) IdentityKey() string {
	return "RetweetRel:" + r.TweetAPIID + r.RetweetedByUserID + deref(r.RetweetAPIID)
}

func (r *RetweetRel) absorb(other Record) {
	o := other.(*RetweetRel)
	r.IsQuote = coalesce(r.IsQuote, o.IsQuote)
	r.RetweetAPIID = coalesce(r.RetweetAPIID, o.RetweetAPIID)
	r.RetweetedAt = coalesce(r.RetweetedAt, o.RetweetedAt)
}

// ReplyRel links a reply tweet to the tweet it replies to.
type ReplyRel struct {
	ReplyToAPIID string
	ReplyAPIID   string
	RepliedAt    *time.Time
}

func (r *ReplyRel) IdentityKey() string {
	return "ReplyRel:" + r.ReplyToAPIID + r.ReplyAPIID
}

func (r *ReplyRel) absorb(other Record) {
	o := other.(*ReplyRel)
	r.RepliedAt = coalesce(r.RepliedAt, o.RepliedAt)
}

// LikeRel says LikedByUserID liked the tweet with TweetAPIID.
type LikeRel struct {
	TweetAPIID    string
	LikedByUserID string
	LikeAPIID     *string
	LikedAt       *time.Time
}

func (r *LikeRel) IdentityKey() string {
	return "LikeRel:" + r.TweetAPIID + r.LikedByUserID
}

func (r *LikeRel) absorb(other Record) {
	o := other.(*LikeRel)
	r.LikeAPIID = coalesce(r.LikeAPIID, o.LikeAPIID)
	r.LikedAt = coalesce(r.LikedAt, o.LikedAt)
}

// MentionRel says the tweet with TweetAPIID mentions MentionedUserID.
type MentionRel struct {
	MentionedUserID string
	TweetAPIID      string
}

func (r *MentionRel) IdentityKey() string {
	return "MentionRel:" + r.MentionedUserID + r.TweetAPIID
}

func (r *MentionRel) absorb(Record) {}

// Dedup groups records by identity key and merges each group field by field,
// first non-nil value in input order winning. The same tweet routinely shows
// up twice in one batch, e.g. as a reply target and inside another item's
// quoted-tweet list.
func Dedup(records []Record) []Record {
	byKey := make(map[string]Record, len(records))
	order := make([]string, 0, len(records))
	for _, rec := range records {
		key := rec.IdentityKey()
		first, ok := byKey[key]
		if !ok {
			byKey[key] = rec
			order = append(order, key)
			continue
		}
		first.absorb(rec)
	}
	out := make([]Record, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}

func coalesce[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T { return &v }
