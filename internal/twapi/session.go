// Package twapi is the platform HTTP layer: per-account sessions, the retry
// and cooldown policy, and the paginated endpoints the scrape functions use.
package twapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// StatusConnFailed is the synthetic status reported when the network
	// retry budget is exhausted. Distinct from every real API status.
	StatusConnFailed = 522

	netRetryLimit = 10
	netRetrySleep = 2 * time.Second

	// Cooldowns applied on quota signals. Long also covers 429.
	cooldownShort = 40 * time.Second
	cooldownLong  = 360 * time.Second
)

// Account is a scrape credential set. A non-zero ProxyPort routes requests
// through a local proxy and restricts the account to one in-flight request.
type Account struct {
	BearerToken    string `yaml:"bearer_token"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret_key"`
	ProxyPort      int    `yaml:"proxy_port"`
}

// Session owns the HTTP state for one account.
type Session struct {
	account    Account
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// non-nil only for proxied accounts; serializes requests
	mu *sync.Mutex

	bearerMu sync.Mutex
	bearer   string

	sleep func(context.Context, time.Duration) error
}

// NewSession builds a session for one account. The bearer token is taken
// from the descriptor when present, otherwise fetched lazily via the app
// token endpoint using the consumer key pair.
func NewSession(account Account) *Session {
	s := &Session{
		account:    account,
		baseURL:    "https://api.twitter.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(2.0), 5),
		bearer:     account.BearerToken,
		sleep:      sleepCtx,
	}
	if account.ProxyPort != 0 {
		proxyURL, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", account.ProxyPort))
		s.httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
		s.mu = &sync.Mutex{}
	}
	return s
}

// WithBaseURL points the session at an alternate API host, for gateway
// deployments and for tests against a local server. Returns the session.
func (s *Session) WithBaseURL(u string) *Session {
	s.baseURL = u
	return s
}

// WithSleep replaces the cooldown sleep hook. Tests use it to record
// requested cooldowns instead of waiting them out.
func (s *Session) WithSleep(fn func(context.Context, time.Duration) error) *Session {
	s.sleep = fn
	return s
}

// Sleep waits d or until ctx cancels, through the session's sleep hook so
// tests can stub it out.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ensureBearer returns the cached bearer token, exchanging the consumer key
// pair for an app token on first use.
func (s *Session) ensureBearer(ctx context.Context) (string, error) {
	s.bearerMu.Lock()
	defer s.bearerMu.Unlock()
	if s.bearer != "" {
		return s.bearer, nil
	}
	if s.account.ConsumerKey == "" || s.account.ConsumerSecret == "" {
		return "", fmt.Errorf("account has neither bearer token nor consumer keys")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(url.QueryEscape(s.account.ConsumerKey), url.QueryEscape(s.account.ConsumerSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("app token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("app token status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	s.bearer = out.AccessToken
	return s.bearer, nil
}

// do executes one API request under the retry policy and returns the body
// and status code. 429 responses are retried after a long cooldown without
// bound; network failures are retried netRetryLimit times and then reported
// as StatusConnFailed. Quota-remaining headers trigger a cooldown after the
// response is captured, so the caller still gets the page that spent the
// last request.
func (s *Session) do(ctx context.Context, method, path string, query url.Values, form url.Values) ([]byte, int, error) {
	if s.mu != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	bearer, err := s.ensureBearer(ctx)
	if err != nil {
		return nil, 0, err
	}

	netFailures := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		reqURL := s.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		req.Header.Set("Accept", "application/json")
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			netFailures++
			if netFailures >= netRetryLimit {
				log.Warn().Str("path", path).Int("failures", netFailures).Msg("network retry budget exhausted")
				return nil, StatusConnFailed, nil
			}
			if err := s.sleep(ctx, netRetrySleep); err != nil {
				return nil, 0, err
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			log.Info().Str("path", path).Msg("rate limited, cooling down")
			if err := s.sleep(ctx, cooldownLong); err != nil {
				return nil, 0, err
			}
			continue
		}

		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			netFailures++
			if netFailures >= netRetryLimit {
				return nil, StatusConnFailed, nil
			}
			if err := s.sleep(ctx, netRetrySleep); err != nil {
				return nil, 0, err
			}
			continue
		}

		switch resp.Header.Get("x-rate-limit-remaining") {
		case "1":
			if err := s.sleep(ctx, cooldownShort); err != nil {
				return nil, 0, err
			}
		case "0":
			if err := s.sleep(ctx, cooldownLong); err != nil {
				return nil, 0, err
			}
		}
		return data, resp.StatusCode, nil
	}
}
