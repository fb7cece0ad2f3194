package twapi

import (
	"context"
	"net/http"
	"time"
)

// ExhaustedCursor is the sentinel next-cursor value meaning the id-cursor
// endpoints have nothing further.
const ExhaustedCursor = "0"

// PageFunc fetches one page starting at cursor and returns the page's items,
// the cursor for the following page, and the API status code.
type PageFunc[T any] func(ctx context.Context, cursor string) (items []T, next string, status int, err error)

// GetCursored runs fetch until a page comes back empty, the next cursor hits
// the exhausted sentinel (or goes empty), or maxPages pages have been read,
// sleeping delay between pages. It returns everything accumulated, the last
// cursor fetch reported, and the last status code. A non-200 status stops
// the loop immediately; per-request retrying already happened below this
// layer, so a bad status here is final for the whole call.
func GetCursored[T any](ctx context.Context, s *Session, fetch PageFunc[T], initialCursor string, maxPages int, delay time.Duration) ([]T, string, int, error) {
	var all []T
	cursor := initialCursor
	status := http.StatusOK
	for page := 0; page < maxPages; page++ {
		items, next, st, err := fetch(ctx, cursor)
		if err != nil {
			return all, cursor, status, err
		}
		status = st
		if st != http.StatusOK {
			return all, cursor, st, nil
		}
		if len(items) == 0 {
			return all, cursor, st, nil
		}
		all = append(all, items...)
		if next == ExhaustedCursor || next == "" {
			return all, next, st, nil
		}
		cursor = next
		if delay > 0 && page < maxPages-1 {
			if err := s.sleep(ctx, delay); err != nil {
				return all, cursor, status, err
			}
		}
	}
	return all, cursor, status, nil
}
