package item

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// WorkType names one scrape endpoint family.
type WorkType string

const (
	WorkUserInfo           WorkType = "user_info"
	WorkUserTimeline       WorkType = "user_timeline"
	WorkUserLikes          WorkType = "user_likes"
	WorkFriendIDs          WorkType = "friend_ids"
	WorkFollowerIDs        WorkType = "follower_ids"
	WorkConversationTweets WorkType = "conversation_tweets"
)

// AllWorkTypes lists every scrape work type in a stable order.
var AllWorkTypes = []WorkType{
	WorkUserInfo, WorkUserTimeline, WorkUserLikes,
	WorkFriendIDs, WorkFollowerIDs, WorkConversationTweets,
}

func IsWorkType(s string) bool {
	for _, wt := range AllWorkTypes {
		if string(wt) == s {
			return true
		}
	}
	return false
}

// ErrInvalid marks a stream entry that cannot become a work item. Callers
// must ack and drop such entries instead of retrying them.
var ErrInvalid = errors.New("invalid work item")

// Item is one unit of work read from the stream.
type Item interface {
	LineID() string
	Type() WorkType
	GetPriority() int
	// RoutingString returns the string the router hashes to pick an
	// account. Empty means the item cannot be delivered.
	RoutingString() string
}

// ProfileItem targets one profile for user_info, user_timeline, user_likes,
// friend_ids or follower_ids work.
type ProfileItem struct {
	Line        string
	ObjID       int64 // profiles row id, 0 when unknown
	WorkType    WorkType
	UserID      string
	ScreenName  string
	SinceID     string
	MentionedBy int64 // profiles row id of the mentioning profile
	AccountKey  string
	Priority    int
}

func (p *ProfileItem) LineID() string   { return p.Line }
func (p *ProfileItem) Type() WorkType   { return p.WorkType }
func (p *ProfileItem) GetPriority() int { return p.Priority }

// RoutingString concatenates every id; longer strings distribute items
// more evenly across accounts.
func (p *ProfileItem) RoutingString() string {
	st := ""
	if p.ObjID != 0 {
		st = strconv.FormatInt(p.ObjID, 10)
	}
	return strings.TrimSpace(st + p.UserID + p.ScreenName)
}

// ConversationItem targets one conversation thread.
type ConversationItem struct {
	Line           string
	ConversationID string
	WorkType       WorkType
	AccountKey     string
	Priority       int
}

func (c *ConversationItem) LineID() string        { return c.Line }
func (c *ConversationItem) Type() WorkType        { return c.WorkType }
func (c *ConversationItem) GetPriority() int      { return c.Priority }
func (c *ConversationItem) RoutingString() string { return c.ConversationID }

// ControlItem is a broadcast flush or exit signal. Broadcast items carry no
// line id; the router acks them at read time.
type ControlItem struct {
	Line       string
	FlushGroup bool
	Exit       bool
	WorkType   WorkType
}

func (c *ControlItem) LineID() string        { return c.Line }
func (c *ControlItem) Type() WorkType        { return c.WorkType }
func (c *ControlItem) GetPriority() int      { return 1 }
func (c *ControlItem) RoutingString() string { return "" }

// Parse validates a decoded stream entry into exactly one item variant.
func Parse(msg map[string]any) (Item, error) {
	if asBool(msg["flush_group"]) || asBool(msg["exit"]) {
		return &ControlItem{
			Line:       asString(msg["line_id"]),
			FlushGroup: asBool(msg["flush_group"]),
			Exit:       asBool(msg["exit"]),
			WorkType:   WorkType(asString(msg["work_type"])),
		}, nil
	}

	workType := asString(msg["work_type"])
	if !IsWorkType(workType) {
		return nil, fmt.Errorf("%w: unknown work_type %q", ErrInvalid, workType)
	}
	lineID := asString(msg["line_id"])
	if lineID == "" {
		return nil, fmt.Errorf("%w: missing line_id", ErrInvalid)
	}
	priority := int(asInt64(msg["priority"]))
	if priority < 1 || priority > 3 {
		priority = 2
	}

	if WorkType(workType) == WorkConversationTweets {
		conversationID := asString(msg["conversation_id"])
		if conversationID == "" {
			return nil, fmt.Errorf("%w: conversation item missing conversation_id", ErrInvalid)
		}
		return &ConversationItem{
			Line:           lineID,
			ConversationID: conversationID,
			WorkType:       WorkConversationTweets,
			AccountKey:     asString(msg["account_key"]),
			Priority:       priority,
		}, nil
	}

	it := &ProfileItem{
		Line:        lineID,
		ObjID:       asInt64(msg["obj_id"]),
		WorkType:    WorkType(workType),
		UserID:      asString(msg["user_id"]),
		ScreenName:  strings.ToLower(asString(msg["screen_name"])),
		SinceID:     asString(msg["since_id"]),
		MentionedBy: asInt64(msg["mentioned_by_user"]),
		AccountKey:  asString(msg["account_key"]),
		Priority:    priority,
	}
	if it.WorkType == WorkUserInfo {
		if it.UserID == "" && it.ScreenName == "" {
			return nil, fmt.Errorf("%w: user_info item needs user_id or screen_name", ErrInvalid)
		}
	} else {
		// obj_id is checked against the profiles table downstream;
		// user_id is what the API endpoints are keyed on.
		if it.ObjID == 0 || it.UserID == "" {
			return nil, fmt.Errorf("%w: %s item needs obj_id and user_id", ErrInvalid, workType)
		}
	}
	return it, nil
}

// msgpack decodes stream fields into a loose mix of int/uint/float/string,
// so coerce rather than type-assert.

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatInt(int64(t), 10)
	}
	return ""
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case uint64:
		return int64(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case uint64:
		return t != 0
	}
	return false
}
