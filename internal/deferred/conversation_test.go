package deferred

import "testing"

func findTweet(t *testing.T, records []Record, apiID string) *Tweet {
	t.Helper()
	for _, r := range records {
		if tw, ok := r.(*Tweet); ok && tw.APIID == apiID {
			return tw
		}
	}
	t.Fatalf("no Tweet record for %s", apiID)
	return nil
}

func TestBuildConversationRequiresTopLevelTweet(t *testing.T) {
	replies := []TweetV2{{ID: "2", AuthorID: "u2", ReferencedTweets: []RefV2{{Type: "replied_to", ID: "1"}}}}
	if _, err := BuildConversation("1", replies, nil, nil, nil); err == nil {
		t.Fatal("expected error when the conversation head is absent")
	}
}

func TestBuildConversationReplyChain(t *testing.T) {
	head := TweetV2{ID: "1", Text: "original", CreatedAt: "2024-05-01T10:00:00.000Z", AuthorID: "u1"}
	reply := TweetV2{
		ID: "2", Text: "a reply", CreatedAt: "2024-05-01T11:00:00.000Z", AuthorID: "u2",
		ReferencedTweets: []RefV2{{Type: "replied_to", ID: "1"}},
	}
	users := []UserV2{{ID: "u1", Username: "Head"}, {ID: "u2", Username: "Replier"}}

	records, err := BuildConversation("1", []TweetV2{reply}, []TweetV2{head}, users, nil)
	if err != nil {
		t.Fatal(err)
	}

	top := findTweet(t, records, "1")
	if top.TweetType == nil || *top.TweetType != "text-only-status" {
		t.Errorf("head type = %v, want text-only-status", top.TweetType)
	}
	if top.ConversationID == nil || *top.ConversationID != "1" {
		t.Errorf("head conversation id = %v, want 1", top.ConversationID)
	}
	rep := findTweet(t, records, "2")
	if rep.TweetType == nil || *rep.TweetType != "reply" {
		t.Errorf("reply type = %v, want reply", rep.TweetType)
	}

	var rel *ReplyRel
	for _, r := range records {
		if rr, ok := r.(*ReplyRel); ok {
			rel = rr
		}
	}
	if rel == nil {
		t.Fatal("no reply relationship emitted")
	}
	if rel.ReplyAPIID != "2" || rel.ReplyToAPIID != "1" {
		t.Errorf("reply rel = %s -> %s, want 2 -> 1", rel.ReplyAPIID, rel.ReplyToAPIID)
	}
	if rel.RepliedAt == nil {
		t.Error("reply rel has no timestamp")
	}

	sawReplier := false
	for _, r := range records {
		if p, ok := r.(*Profile); ok && p.UserID != nil && *p.UserID == "u2" {
			sawReplier = true
			if p.ScreenName == nil || *p.ScreenName != "replier" {
				t.Errorf("replier screen name = %v, want replier", p.ScreenName)
			}
		}
	}
	if !sawReplier {
		t.Error("no profile record for the replier")
	}
}

func TestBuildConversationDropsReplyToMissingTweet(t *testing.T) {
	head := TweetV2{ID: "1", Text: "original", AuthorID: "u1"}
	reply := TweetV2{
		ID: "3", Text: "late reply", AuthorID: "u2",
		ReferencedTweets: []RefV2{{Type: "replied_to", ID: "9"}},
	}
	apiErrs := []APIErrorV2{{ResourceType: "tweet", ResourceID: "9", Type: "https://api.twitter.com/2/problems/resource-not-found"}}

	records, err := BuildConversation("1", []TweetV2{reply}, []TweetV2{head}, nil, apiErrs)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range records {
		if _, ok := r.(*ReplyRel); ok {
			t.Fatal("reply edge emitted for a missing target")
		}
		if tw, ok := r.(*Tweet); ok && tw.APIID == "9" {
			t.Fatal("missing tweet materialized as a record")
		}
	}
	// the reply tweet itself is still kept
	findTweet(t, records, "3")
}

func TestBuildConversationQuoteInsideReply(t *testing.T) {
	head := TweetV2{ID: "1", Text: "original", AuthorID: "u1"}
	quoted := TweetV2{ID: "5", Text: "quoted content", CreatedAt: "2024-05-01T09:00:00.000Z", AuthorID: "u3"}
	reply := TweetV2{
		ID: "2", Text: "look at this", CreatedAt: "2024-05-01T11:00:00.000Z", AuthorID: "u2",
		ReferencedTweets: []RefV2{
			{Type: "replied_to", ID: "1"},
			{Type: "quoted", ID: "5"},
		},
	}
	users := []UserV2{{ID: "u1", Username: "head"}, {ID: "u2", Username: "replier"}, {ID: "u3", Username: "quotee"}}

	records, err := BuildConversation("1", []TweetV2{reply}, []TweetV2{head, quoted}, users, nil)
	if err != nil {
		t.Fatal(err)
	}

	outer := findTweet(t, records, "2")
	if outer.TweetType == nil || *outer.TweetType != "reply-with-quote" {
		t.Errorf("outer type = %v, want reply-with-quote", outer.TweetType)
	}
	findTweet(t, records, "5")

	var rt *RetweetRel
	for _, r := range records {
		if rr, ok := r.(*RetweetRel); ok {
			rt = rr
		}
	}
	if rt == nil {
		t.Fatal("no retweet edge for the quote")
	}
	if rt.TweetAPIID != "5" || rt.RetweetedByUserID != "u2" {
		t.Errorf("quote edge = %s by %s, want 5 by u2", rt.TweetAPIID, rt.RetweetedByUserID)
	}
	if rt.IsQuote == nil || !*rt.IsQuote {
		t.Error("quote edge not flagged as quote")
	}
	if rt.RetweetAPIID == nil || *rt.RetweetAPIID != "2" {
		t.Errorf("quote wrapper id = %v, want 2", rt.RetweetAPIID)
	}
}

func TestBuildConversationMentionEdges(t *testing.T) {
	head := TweetV2{
		ID: "1", Text: "hey @Friend", AuthorID: "u1",
		Entities: EntitiesV2{Mentions: []MentionV2{{Username: "Friend"}}},
	}
	users := []UserV2{{ID: "u1", Username: "head"}, {ID: "u9", Username: "friend"}}

	records, err := BuildConversation("1", nil, []TweetV2{head}, users, nil)
	if err != nil {
		t.Fatal(err)
	}
	var m *MentionRel
	for _, r := range records {
		if mr, ok := r.(*MentionRel); ok {
			m = mr
		}
	}
	if m == nil {
		t.Fatal("no mention edge emitted")
	}
	if m.MentionedUserID != "u9" || m.TweetAPIID != "1" {
		t.Errorf("mention edge = %s on %s, want u9 on 1", m.MentionedUserID, m.TweetAPIID)
	}
}

func TestBuildConversationStableOrder(t *testing.T) {
	// Tweet 2 is both a reply in its own right and quoted by reply 3. The
	// record kept for it after deduplication must not depend on map
	// iteration order: replies are expanded in payload order, so reply 3's
	// inner view of tweet 2 always lands first.
	head := TweetV2{ID: "1", Text: "original", AuthorID: "u1"}
	quoted := TweetV2{
		ID: "2", Text: "a reply", CreatedAt: "2024-05-01T11:00:00.000Z", AuthorID: "u2",
		ReferencedTweets: []RefV2{{Type: "replied_to", ID: "1"}},
	}
	quoting := TweetV2{
		ID: "3", Text: "quoting that reply", CreatedAt: "2024-05-01T12:00:00.000Z", AuthorID: "u3",
		ReferencedTweets: []RefV2{{Type: "replied_to", ID: "1"}, {Type: "quoted", ID: "2"}},
	}
	users := []UserV2{{ID: "u1", Username: "head"}, {ID: "u2", Username: "second"}, {ID: "u3", Username: "third"}}

	for i := 0; i < 20; i++ {
		records, err := BuildConversation("1", []TweetV2{quoting, quoted}, []TweetV2{head}, users, nil)
		if err != nil {
			t.Fatal(err)
		}
		tw := findTweet(t, records, "2")
		if tw.TweetType == nil || *tw.TweetType != "text-only-status" {
			t.Fatalf("run %d: tweet 2 type = %v, want the quoted view (text-only-status)", i, tw.TweetType)
		}
	}
}
