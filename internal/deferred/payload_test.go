package deferred

import (
	"strings"
	"testing"
)

func TestDecodeStatusesV1ExtendedMode(t *testing.T) {
	// tweet_mode=extended responses carry the untruncated body in
	// full_text and omit text entirely.
	payload := `[{
		"id_str": "900",
		"full_text": "a very long untruncated status body",
		"created_at": "Mon Jan 02 15:04:05 +0000 2006",
		"user": {"id_str": "77"},
		"retweeted_status": {
			"id_str": "800",
			"full_text": "the original status",
			"user": {"id_str": "88"}
		}
	}]`

	statuses, err := DecodeStatusesV1([]byte(payload))
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	st := &statuses[0]
	if st.Text != "a very long untruncated status body" {
		t.Errorf("Text = %q, want the full_text body", st.Text)
	}
	if !strings.Contains(string(st.Raw), "full_text") {
		t.Error("outer raw bytes not preserved")
	}
	if st.RetweetedStatus == nil {
		t.Fatal("retweeted_status not decoded")
	}
	if st.RetweetedStatus.Text != "the original status" {
		t.Errorf("inner Text = %q, want the inner full_text body", st.RetweetedStatus.Text)
	}
	if len(st.RetweetedStatus.Raw) == 0 {
		t.Error("inner raw bytes not preserved")
	}
}

func TestDecodeStatusesV1PrefersTextField(t *testing.T) {
	statuses, err := DecodeStatusesV1([]byte(`[{"id_str":"1","text":"short","full_text":"short but longer"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if statuses[0].Text != "short" {
		t.Errorf("Text = %q, want the explicit text field", statuses[0].Text)
	}
}

func TestBuildRetweetCarriesExtendedPayload(t *testing.T) {
	statuses, err := DecodeStatusesV1([]byte(`[{
		"id_str": "900",
		"full_text": "RT @bob: the original status",
		"created_at": "Mon Jan 02 15:04:05 +0000 2006",
		"user": {"id_str": "77"},
		"retweeted_status": {
			"id_str": "800",
			"full_text": "the original status",
			"user": {"id_str": "88"}
		}
	}]`))
	if err != nil {
		t.Fatal(err)
	}
	records := BuildTimelineTweet("77", &statuses[0], "")

	var original *Tweet
	for _, r := range records {
		if tw, ok := r.(*Tweet); ok && tw.APIID == "800" {
			original = tw
		}
	}
	if original == nil {
		t.Fatal("no record for the retweeted original")
	}
	if original.HasText == nil || !*original.HasText {
		t.Error("extended-mode original not recognized as having text")
	}
	if original.JSONData == nil || !strings.Contains(*original.JSONData, "the original status") {
		t.Error("inner json_data missing the extended payload")
	}
}
