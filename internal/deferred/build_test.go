package deferred

import (
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		st   StatusV1
		want string
	}{
		{"quote", StatusV1{IsQuoteStatus: true}, ScenarioRetweetWithQuote},
		{"retweet", StatusV1{RetweetedStatus: &StatusV1{IDStr: "9"}}, ScenarioRetweet},
		{"reply", StatusV1{InReplyToStatusIDStr: ptr("100")}, ScenarioReply},
		{"text", StatusV1{Text: "hello world"}, "text-only-status"},
		{"link only", StatusV1{Text: "https://t.co/x", Entities: EntitiesV1{URLs: []URLEntity{{URL: "https://t.co/x"}}}}, "link-only-status"},
		{"text with link", StatusV1{Text: "read this https://t.co/x", Entities: EntitiesV1{URLs: []URLEntity{{URL: "https://t.co/x"}}}}, "text-with-link"},
	}
	for _, c := range cases {
		if got := Classify(&c.st); got != c.want {
			t.Errorf("%s: Classify = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestBuildReplyEmitsPlaceholderTarget(t *testing.T) {
	st := &StatusV1{
		IDStr:                "200",
		Text:                 "@alice agreed",
		CreatedAt:            "Mon Jan 02 15:04:05 +0000 2006",
		InReplyToStatusIDStr: ptr("100"),
		InReplyToUserIDStr:   ptr("42"),
		User:                 &UserRefV1{IDStr: "77"},
	}
	records := BuildTimelineTweet("77", st, "")

	var target, reply *Tweet
	var rel *ReplyRel
	for _, r := range records {
		switch v := r.(type) {
		case *Tweet:
			if v.APIID == "100" {
				target = v
			}
			if v.APIID == "200" {
				reply = v
			}
		case *ReplyRel:
			rel = v
		}
	}
	if target == nil {
		t.Fatal("no placeholder record for the reply target")
	}
	if target.AuthorUserID == nil || *target.AuthorUserID != "42" {
		t.Fatalf("placeholder author = %v, want 42", target.AuthorUserID)
	}
	if target.JSONData != nil {
		t.Fatal("placeholder must not carry payload fields")
	}
	if reply == nil || *reply.TweetType != "reply" {
		t.Fatalf("reply tweet wrong: %+v", reply)
	}
	if rel == nil || rel.ReplyToAPIID != "100" || rel.ReplyAPIID != "200" {
		t.Fatalf("reply rel wrong: %+v", rel)
	}
	if rel.RepliedAt == nil {
		t.Fatal("reply rel lost its timestamp")
	}
}

func TestBuildRetweetLinksOriginal(t *testing.T) {
	st := &StatusV1{
		IDStr:     "300",
		CreatedAt: "Mon Jan 02 15:04:05 +0000 2006",
		RetweetedStatus: &StatusV1{
			IDStr: "250",
			Text:  "original",
			User:  &UserRefV1{IDStr: "88"},
		},
		User: &UserRefV1{IDStr: "77"},
	}
	records := BuildTimelineTweet("77", st, "")

	var rel *RetweetRel
	sawOriginal := false
	for _, r := range records {
		switch v := r.(type) {
		case *Tweet:
			if v.APIID == "250" {
				sawOriginal = true
				if v.AuthorUserID == nil || *v.AuthorUserID != "88" {
					t.Fatalf("original author = %v, want 88", v.AuthorUserID)
				}
			}
			if v.APIID == "300" {
				t.Fatal("the retweet wrapper itself must not become a tweet record")
			}
		case *RetweetRel:
			rel = v
		}
	}
	if !sawOriginal {
		t.Fatal("no record for the retweeted original")
	}
	if rel == nil || rel.TweetAPIID != "250" || rel.RetweetedByUserID != "77" {
		t.Fatalf("retweet rel wrong: %+v", rel)
	}
	if rel.RetweetAPIID == nil || *rel.RetweetAPIID != "300" {
		t.Fatalf("retweet api id = %v, want 300", rel.RetweetAPIID)
	}
}

func TestBuildLikeScenario(t *testing.T) {
	st := &StatusV1{
		IDStr:     "400",
		Text:      "liked tweet",
		CreatedAt: "Mon Jan 02 15:04:05 +0000 2006",
		User:      &UserRefV1{IDStr: "88"},
	}
	records := BuildTimelineTweet("77", st, ScenarioUserLike)

	var rel *LikeRel
	for _, r := range records {
		if v, ok := r.(*LikeRel); ok {
			rel = v
		}
	}
	if rel == nil || rel.TweetAPIID != "400" || rel.LikedByUserID != "77" {
		t.Fatalf("like rel wrong: %+v", rel)
	}
}

func TestBuildStatusEmitsNoRelationship(t *testing.T) {
	st := &StatusV1{
		IDStr: "500",
		Text:  "plain status",
		User:  &UserRefV1{IDStr: "77"},
		Entities: EntitiesV1{UserMentions: []UserMentionV1{
			{IDStr: "901", ScreenName: "bob"},
		}},
	}
	records := BuildTimelineTweet("77", st, "")

	sawMention := false
	for _, r := range records {
		switch v := r.(type) {
		case *RetweetRel, *ReplyRel, *LikeRel:
			t.Fatalf("plain status produced relationship %T", r)
		case *MentionRel:
			sawMention = true
			if v.MentionedUserID != "901" || v.TweetAPIID != "500" {
				t.Fatalf("mention rel wrong: %+v", v)
			}
		}
	}
	if !sawMention {
		t.Fatal("structured mention not expanded")
	}
}
