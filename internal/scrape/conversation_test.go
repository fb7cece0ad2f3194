package scrape

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"talon/internal/item"
)

func TestConversationTweetsIngestsThread(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var lookupIDs string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/tweets/search/recent":
			if got := r.URL.Query().Get("query"); got != "conversation_id:1" {
				t.Errorf("query = %q", got)
			}
			io.WriteString(w, `{
				"data": [
					{"id":"2","text":"a reply","created_at":"2024-05-01T11:00:00.000Z","author_id":"u2",
					 "referenced_tweets":[{"type":"replied_to","id":"1"}]}
				],
				"includes": {
					"users": [{"id":"u2","username":"Replier"}]
				},
				"meta": {}
			}`)
		case "/2/tweets":
			lookupIDs = r.URL.Query().Get("ids")
			io.WriteString(w, `{
				"data": [
					{"id":"1","text":"the original","created_at":"2024-05-01T10:00:00.000Z","author_id":"u1"}
				],
				"includes": {
					"users": [{"id":"u1","username":"Author"}]
				}
			}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err := ConversationTweets(ctx, d, []item.Item{
		&item.ConversationItem{WorkType: item.WorkConversationTweets, ConversationID: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(lookupIDs, "1") {
		t.Errorf("missing-tweet lookup ids = %q, want the conversation head", lookupIDs)
	}

	tweets, err := st.TweetsByAPIIDs(ctx, []string{"1", "2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tweets) != 2 {
		t.Fatalf("got %d tweets, want the head and the reply", len(tweets))
	}
	if tweets["2"].TweetType == nil || *tweets["2"].TweetType != "reply" {
		t.Errorf("reply type = %v, want reply", tweets["2"].TweetType)
	}
	if tweets["1"].JSONData == nil || !strings.Contains(*tweets["1"].JSONData, "the original") {
		t.Error("head raw payload not stored")
	}

	profiles, err := st.ProfilesByUserIDs(ctx, []string{"u1", "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want both participants", len(profiles))
	}

	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM reply_rels`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("reply rel count = %d, want 1", n)
	}
}

func TestConversationTweetsDropsFailedSearch(t *testing.T) {
	st := openTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err := ConversationTweets(context.Background(), d, []item.Item{
		&item.ConversationItem{WorkType: item.WorkConversationTweets, ConversationID: "5"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM tweets`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("tweets written for a failed search: %d", n)
	}
}
