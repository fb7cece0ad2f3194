package deferred

import "encoding/json"

// Raw API payload shapes, limited to the fields the pipeline consumes.

// URLEntity is one expanded link inside a tweet's entities.
type URLEntity struct {
	URL string `json:"url"`
}

// MediaEntity is one attached media object (v1.1).
type MediaEntity struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// UserMentionV1 is one structured @-mention (v1.1).
type UserMentionV1 struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

type EntitiesV1 struct {
	URLs         []URLEntity     `json:"urls"`
	Media        []MediaEntity   `json:"media"`
	UserMentions []UserMentionV1 `json:"user_mentions"`
}

// StatusV1 is a v1.1 timeline/likes tweet. Raw keeps the original bytes for
// the json_data column.
type StatusV1 struct {
	IDStr                string     `json:"id_str"`
	Text                 string     `json:"text"`
	FullText             string     `json:"full_text"`
	CreatedAt            string     `json:"created_at"`
	InReplyToStatusIDStr *string    `json:"in_reply_to_status_id_str"`
	InReplyToUserIDStr   *string    `json:"in_reply_to_user_id_str"`
	IsQuoteStatus        bool       `json:"is_quote_status"`
	QuotedStatusIDStr    *string    `json:"quoted_status_id_str"`
	QuotedStatus         *StatusV1  `json:"quoted_status"`
	RetweetedStatus      *StatusV1  `json:"retweeted_status"`
	User                 *UserRefV1 `json:"user"`
	Entities             EntitiesV1 `json:"entities"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the original bytes and folds tweet_mode=extended
// payloads, which carry the untruncated body in full_text with no text
// field, back into Text. Nested quoted/retweeted statuses go through the
// same path.
func (s *StatusV1) UnmarshalJSON(data []byte) error {
	type plain StatusV1
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = StatusV1(p)
	if s.Text == "" {
		s.Text = s.FullText
	}
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type UserRefV1 struct {
	IDStr string `json:"id_str"`
}

// UserInfoV1 is a v1.1 users/lookup result.
type UserInfoV1 struct {
	IDStr       string `json:"id_str"`
	ScreenName  string `json:"screen_name"`
	Description string `json:"description"`
	Protected   bool   `json:"protected"`

	Raw json.RawMessage `json:"-"`
}

// DecodeStatusesV1 decodes a v1.1 array response; per-element raw bytes are
// kept by StatusV1.UnmarshalJSON.
func DecodeStatusesV1(data []byte) ([]StatusV1, error) {
	var out []StatusV1
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeUsersV1 splits a v1.1 users/lookup array, keeping raw bytes per user.
func DecodeUsersV1(data []byte) ([]UserInfoV1, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}
	out := make([]UserInfoV1, 0, len(raws))
	for _, raw := range raws {
		var u UserInfoV1
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, err
		}
		u.Raw = raw
		out = append(out, u)
	}
	return out, nil
}

// v2 shapes (conversation search and tweets lookup).

type RefV2 struct {
	Type string `json:"type"` // replied_to | quoted | retweeted
	ID   string `json:"id"`
}

type MentionV2 struct {
	Username string `json:"username"`
}

type EntitiesV2 struct {
	URLs     []URLEntity `json:"urls"`
	Mentions []MentionV2 `json:"mentions"`
}

type TweetV2 struct {
	ID               string     `json:"id"`
	Text             string     `json:"text"`
	CreatedAt        string     `json:"created_at"`
	AuthorID         string     `json:"author_id"`
	ConversationID   string     `json:"conversation_id"`
	InReplyToUserID  *string    `json:"in_reply_to_user_id"`
	ReferencedTweets []RefV2    `json:"referenced_tweets"`
	Entities         EntitiesV2 `json:"entities"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the original bytes alongside the decoded fields, the
// v2 counterpart of DecodeStatusesV1.
func (t *TweetV2) UnmarshalJSON(data []byte) error {
	type plain TweetV2
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TweetV2(p)
	t.Raw = append(json.RawMessage(nil), data...)
	return nil
}

type UserV2 struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Description string `json:"description"`
	Protected   bool   `json:"protected"`
}

// APIErrorV2 is one entry of a v2 partial-error list.
type APIErrorV2 struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Type         string `json:"type"`
}
