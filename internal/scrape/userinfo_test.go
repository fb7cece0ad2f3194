package scrape

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"talon/internal/item"
	"talon/internal/store"
	"talon/internal/twapi"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "talon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDeps(t *testing.T, st *store.Store, srv *httptest.Server) *Deps {
	t.Helper()
	session := twapi.NewSession(twapi.Account{BearerToken: "t"}).
		WithBaseURL(srv.URL).
		WithSleep(func(context.Context, time.Duration) error { return nil })
	return &Deps{Store: st, Session: session}
}

func lookupServer(t *testing.T, users string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1.1/users/lookup.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, users)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUserInfoAppliesLookup(t *testing.T) {
	st := openTestStore(t)
	srv := lookupServer(t, `[{"id_str":"42","screen_name":"Alice","description":"hi there"}]`)
	d := testDeps(t, st, srv)

	err := UserInfo(context.Background(), d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkUserInfo, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := st.ProfilesByUserIDs(context.Background(), []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	p := rows[0]
	if p.ScreenName == nil || *p.ScreenName != "alice" {
		t.Errorf("screen name = %v, want alice (lowercased)", p.ScreenName)
	}
	if p.IsAvailable == nil || !*p.IsAvailable {
		t.Error("profile not marked available")
	}
	if p.UserInfo == nil || *p.UserInfo == "" {
		t.Error("raw user info not stored")
	}
	if p.UserInfoState.PrevStatusCode == nil || *p.UserInfoState.PrevStatusCode != 200 {
		t.Errorf("status = %v, want 200", p.UserInfoState.PrevStatusCode)
	}
	if p.UserInfoState.PrevSuccess == nil || p.UserInfoState.PrevAttempt == nil {
		t.Error("success/attempt timestamps not set")
	}
}

func TestUserInfoMarksMissingUserUnavailable(t *testing.T) {
	st := openTestStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"errors":[{"code":17,"message":"No user matches"}]}`)
	}))
	t.Cleanup(srv.Close)
	d := testDeps(t, st, srv)

	err := UserInfo(context.Background(), d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkUserInfo, UserID: "404404"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := st.ProfilesByUserIDs(context.Background(), []string{"404404"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want the placeholder kept", len(rows))
	}
	p := rows[0]
	if p.IsAvailable == nil || *p.IsAvailable {
		t.Error("missing user not marked unavailable")
	}
	if p.UserInfoState.PrevStatusCode == nil || *p.UserInfoState.PrevStatusCode != 404 {
		t.Errorf("status = %v, want 404", p.UserInfoState.PrevStatusCode)
	}
	if p.UserInfoState.PrevSuccess != nil {
		t.Error("success timestamp set on a failed lookup")
	}
}

func TestUserInfoCreatesRowForScreenNameItem(t *testing.T) {
	st := openTestStore(t)
	srv := lookupServer(t, `[{"id_str":"77","screen_name":"newbie","description":""}]`)
	d := testDeps(t, st, srv)

	err := UserInfo(context.Background(), d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkUserInfo, ScreenName: "newbie"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := st.ProfilesByUserIDs(context.Background(), []string{"77"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatal("no row created for the screen-name item")
	}
}

func TestUserInfoReportsDuplicateMerge(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// canonical row carries the platform id already
	canonical, _, err := st.GetOrCreateProfilesByUserID(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	// a second row exists for the same user, known only by screen name
	sn := "alice"
	loser := &store.Profile{ScreenName: &sn}
	if err := st.CreateProfiles(ctx, []*store.Profile{loser}); err != nil {
		t.Fatal(err)
	}

	var reported [][2]int64
	mergeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToMerge [][2]int64 `json:"to_merge"`
			Remove  bool       `json:"remove"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad merge body: %v", err)
		}
		if body.Remove {
			t.Error("remove flag set")
		}
		reported = append(reported, body.ToMerge...)
	}))
	t.Cleanup(mergeSrv.Close)

	srv := lookupServer(t, `[{"id_str":"42","screen_name":"Alice","description":""}]`)
	d := testDeps(t, st, srv)
	d.Merge = &MergeClient{URL: mergeSrv.URL, HTTPClient: mergeSrv.Client()}

	err = UserInfo(ctx, d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkUserInfo, ScreenName: "alice"},
	})
	if err != nil {
		t.Fatal(err)
	}

	winID := canonical["42"].ID
	if len(reported) != 1 || reported[0] != [2]int64{winID, loser.ID} {
		t.Fatalf("merge report = %v, want [[%d %d]]", reported, winID, loser.ID)
	}

	// the winning row absorbed the lookup result
	rows, err := st.ProfilesByUserIDs(ctx, []string{"42"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != winID {
		t.Fatalf("want a single canonical row %d", winID)
	}
	if rows[0].UserInfo == nil {
		t.Error("winner did not absorb the lookup payload")
	}
}

func TestUserInfoEnqueuesDescriptionMentions(t *testing.T) {
	st := openTestStore(t)
	srv := lookupServer(t, `[{"id_str":"42","screen_name":"alice","description":"works with @Bob and @carol"}]`)
	d := testDeps(t, st, srv)

	var enqueued []map[string]any
	d.Enqueue = func(_ context.Context, fields map[string]any) error {
		enqueued = append(enqueued, fields)
		return nil
	}

	err := UserInfo(context.Background(), d, []item.Item{
		&item.ProfileItem{WorkType: item.WorkUserInfo, UserID: "42"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(enqueued) != 2 {
		t.Fatalf("enqueued %d items, want 2", len(enqueued))
	}
	names := map[string]bool{}
	for _, f := range enqueued {
		names[f["screen_name"].(string)] = true
		if f["work_type"] != string(item.WorkUserInfo) {
			t.Errorf("work_type = %v", f["work_type"])
		}
		if f["mentioned_by_user"].(int64) == 0 {
			t.Error("mentioned_by_user not set")
		}
	}
	if !names["bob"] || !names["carol"] {
		t.Errorf("mention names = %v, want bob and carol", names)
	}
}

func TestMergeClientRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	m := &MergeClient{URL: srv.URL, HTTPClient: srv.Client()}
	err := m.Report(context.Background(), []MergePair{{WinningID: 1, LosingID: 2}})
	if err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}
