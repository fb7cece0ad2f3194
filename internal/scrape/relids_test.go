package scrape

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"talon/internal/item"
)

func TestFriendIDsBuildsFollowEdges(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows, _, err := st.GetOrCreateProfilesByUserID(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	subject := rows["42"]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/friends/ids.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("cursor") {
		case "-1":
			io.WriteString(w, `{"ids":["100","101"],"next_cursor_str":"777"}`)
		case "777":
			io.WriteString(w, `{"ids":["102"],"next_cursor_str":"0"}`)
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err = FriendIDs(ctx, d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkFriendIDs, ObjID: subject.ID, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	friends, err := st.ProfilesByUserIDs(ctx, []string{"100", "101", "102"})
	if err != nil {
		t.Fatal(err)
	}
	if len(friends) != 3 {
		t.Fatalf("got %d friend rows, want 3", len(friends))
	}

	updated, err := st.ProfilesByIDs(ctx, []int64{subject.ID})
	if err != nil {
		t.Fatal(err)
	}
	p := updated[subject.ID]
	if p.FriendIDsFullyScraped == nil || !*p.FriendIDsFullyScraped {
		t.Error("listing not marked fully scraped after the exhausted sentinel")
	}
	if p.FriendIDsCursor != nil {
		t.Errorf("cursor = %v, want cleared", p.FriendIDsCursor)
	}
	if p.FriendIDsState.PrevStatusCode == nil || *p.FriendIDsState.PrevStatusCode != 200 {
		t.Errorf("status = %v, want 200", p.FriendIDsState.PrevStatusCode)
	}
}

func TestFollowerIDsResumesMidListing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows, _, err := st.GetOrCreateProfilesByUserID(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	subject := rows["42"]
	resumeCursor := "888"
	subject.FollowerIDsCursor = &resumeCursor
	if err := st.UpdateProfile(ctx, subject); err != nil {
		t.Fatal(err)
	}

	pages := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		if got := r.URL.Query().Get("cursor"); pages == 1 && got != "888" {
			t.Errorf("first cursor = %q, want the stored one", got)
		}
		// never exhausts; the page cap ends the loop
		io.WriteString(w, `{"ids":["200"],"next_cursor_str":"`+r.URL.Query().Get("cursor")+`9"}`)
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err = FollowerIDs(ctx, d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkFollowerIDs, ObjID: subject.ID, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := Tunings[item.WorkFollowerIDs].MaxPages; pages != want {
		t.Errorf("fetched %d pages, want the %d page cap", pages, want)
	}

	updated, err := st.ProfilesByIDs(ctx, []int64{subject.ID})
	if err != nil {
		t.Fatal(err)
	}
	p := updated[subject.ID]
	if p.FollowerIDsFullyScraped == nil || *p.FollowerIDsFullyScraped {
		t.Error("capped listing marked fully scraped")
	}
	if p.FollowerIDsCursor == nil {
		t.Fatal("resume cursor not stored")
	}
}

func TestRelIDsKeepsBookkeepingOnError(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows, _, err := st.GetOrCreateProfilesByUserID(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	subject := rows["42"]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err = FriendIDs(ctx, d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkFriendIDs, ObjID: subject.ID, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := st.ProfilesByIDs(ctx, []int64{subject.ID})
	if err != nil {
		t.Fatal(err)
	}
	p := updated[subject.ID]
	if p.FriendIDsState.PrevStatusCode == nil || *p.FriendIDsState.PrevStatusCode != 401 {
		t.Errorf("status = %v, want 401", p.FriendIDsState.PrevStatusCode)
	}
	if p.FriendIDsState.PrevSuccess != nil {
		t.Error("success timestamp set on a failed listing")
	}
	if p.FriendIDsFullyScraped != nil && *p.FriendIDsFullyScraped {
		t.Error("failed listing marked fully scraped")
	}
}

func TestFriendIDsRestartsOnStaleCursor(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows, _, err := st.GetOrCreateProfilesByUserID(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	subject := rows["42"]
	stale := "13371337"
	subject.FriendIDsCursor = &stale
	if err := st.UpdateProfile(ctx, subject); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cursor"); got != stale {
			t.Errorf("cursor = %q, want the stored one", got)
		}
		io.WriteString(w, `{"ids":[],"next_cursor_str":"0"}`)
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err = FriendIDs(ctx, d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkFriendIDs, ObjID: subject.ID, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := st.ProfilesByIDs(ctx, []int64{subject.ID})
	if err != nil {
		t.Fatal(err)
	}
	p := updated[subject.ID]
	if p.FriendIDsCursor != nil {
		t.Errorf("stale cursor kept as %q, want cleared", *p.FriendIDsCursor)
	}
	if p.FriendIDsFullyScraped == nil || *p.FriendIDsFullyScraped {
		t.Error("empty resumed listing marked fully scraped")
	}
	if p.FriendIDsState.PrevStatusCode == nil || *p.FriendIDsState.PrevStatusCode != 200 {
		t.Errorf("status = %v, want 200", p.FriendIDsState.PrevStatusCode)
	}
}

func TestRelIDsSkipsUnavailableProfile(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rows, _, err := st.GetOrCreateProfilesByUserID(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	subject := rows["42"]
	unavailable := false
	subject.IsAvailable = &unavailable
	if err := st.UpdateProfile(ctx, subject); err != nil {
		t.Fatal(err)
	}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, `{"ids":[],"next_cursor_str":"0"}`)
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err = FriendIDs(ctx, d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkFriendIDs, ObjID: subject.ID, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("made %d API calls for an unavailable profile, want 0", calls)
	}

	updated, err := st.ProfilesByIDs(ctx, []int64{subject.ID})
	if err != nil {
		t.Fatal(err)
	}
	if updated[subject.ID].FriendIDsState.PrevAttempt != nil {
		t.Error("attempt recorded for a skipped profile")
	}
}
