package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MergePair records that losing profile rows should fold into winning ones.
type MergePair struct {
	WinningID int64
	LosingID  int64
}

// MergeClient talks to the control plane's merge endpoint. The control plane
// owns the cross-table reference transfer; the pipeline only reports pairs.
type MergeClient struct {
	URL        string
	HTTPClient *http.Client
}

func NewMergeClient(url string) *MergeClient {
	return &MergeClient{URL: url, HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

// Report posts merge pairs. A non-success response is an error for the
// caller to log; the batch itself has already committed.
func (m *MergeClient) Report(ctx context.Context, pairs []MergePair) error {
	if len(pairs) == 0 {
		return nil
	}
	toMerge := make([][2]int64, len(pairs))
	for i, p := range pairs {
		toMerge[i] = [2]int64{p.WinningID, p.LosingID}
	}
	body, err := json.Marshal(map[string]any{"to_merge": toMerge, "remove": false})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("merge endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("merge endpoint status %d", resp.StatusCode)
	}
	return nil
}
