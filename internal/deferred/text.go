package deferred

import (
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	mentionRe    = regexp.MustCompile(`@(\w{1,15})`)
	bareURLRe    = regexp.MustCompile(`https://\S+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// MentionsFromString extracts the distinct lowercased screen names
// @-mentioned in text, in order of first appearance.
func MentionsFromString(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		sn := strings.ToLower(m[1])
		if _, ok := seen[sn]; ok {
			continue
		}
		seen[sn] = struct{}{}
		out = append(out, sn)
	}
	return out
}

// StripLinksAndMentions reduces tweet text to its organic words: drops the
// leading retweet marker, @-mentions, entity urls and bare links, and
// collapses punctuation and whitespace. An empty result means the tweet had
// no text of its own.
func StripLinksAndMentions(text string, urls []URLEntity) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "RT @") {
		rest := strings.SplitN(strings.TrimPrefix(text, "RT @"), " ", 2)
		if len(rest) < 2 {
			return ""
		}
		text = rest[1]
	}
	text = mentionRe.ReplaceAllString(text, "")
	for _, u := range urls {
		text = strings.ReplaceAll(text, u.URL, "")
	}
	text = bareURLRe.ReplaceAllString(text, " ")
	text = strings.NewReplacer(",", " ", ":", " ", ".", " ", "?", " ", "!", " ").Replace(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// ParseCreatedAt handles both timestamp formats the platform emits: RFC 3339
// from v2 endpoints and the Ruby-style "Mon Jan 02 15:04:05 +0000 2006" from
// v1.1. Unparseable dates return nil rather than failing the batch.
func ParseCreatedAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse(time.RubyDate, s); err == nil {
		t = t.UTC()
		return &t
	}
	log.Warn().Str("created_at", s).Msg("failed to parse created_at")
	return nil
}
