// Package github fetches the public repositories shown on the portfolio.
// Results are cached with an explicit TTL; transient failures are retried a
// bounded number of times and then reported as a typed outcome.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com"

// DefaultCacheTTL matches how long a fetched repository list stays fresh.
const DefaultCacheTTL = 5 * time.Minute

var (
	// ErrUserNotFound means the configured account does not exist.
	ErrUserNotFound = errors.New("github user not found")

	// ErrRateLimited means GitHub rejected the request for quota reasons.
	ErrRateLimited = errors.New("github rate limit exceeded")

	// ErrExhaustedRetries means every allowed attempt failed transiently.
	ErrExhaustedRetries = errors.New("github fetch retries exhausted")
)

// Repo is one public repository entry.
type Repo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	HTMLURL     string    `json:"html_url"`
	Homepage    string    `json:"homepage"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Fork        bool      `json:"fork"`
	Topics      []string  `json:"topics"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Doer executes an HTTP request.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Fetcher retrieves an account's public repositories.
type Fetcher struct {
	client     Doer
	baseURL    string
	account    string
	maxRetries int
	retryWait  time.Duration
	cache      *Cache
	logger     *slog.Logger
}

// NewFetcher creates a repository fetcher for the given account.
func NewFetcher(client Doer, account string, cache *Cache, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:     client,
		baseURL:    DefaultBaseURL,
		account:    account,
		maxRetries: 3,
		retryWait:  500 * time.Millisecond,
		cache:      cache,
		logger:     logger,
	}
}

// FetchRepos returns the account's public repositories, forks excluded,
// most recently updated first. Fresh cache entries short-circuit the fetch.
func (f *Fetcher) FetchRepos(ctx context.Context) ([]Repo, error) {
	if repos, ok := f.cache.Get(f.account); ok {
		return repos, nil
	}

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			wait := f.retryWait << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		repos, err := f.fetchOnce(ctx)
		if err == nil {
			f.cache.Put(f.account, repos)
			return repos, nil
		}

		// Definitive outcomes are never retried.
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrRateLimited) {
			return nil, err
		}

		lastErr = err
		f.logger.WarnContext(ctx, "github fetch attempt failed",
			slog.String("account", f.account),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("%w: %w", ErrExhaustedRetries, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]Repo, error) {
	url := fmt.Sprintf("%s/users/%s/repos?sort=updated&per_page=100", f.baseURL, f.account)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("account %s: %w", f.account, ErrUserNotFound)
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("github responded %d", resp.StatusCode)
	}

	var all []Repo
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("decode github response: %w", err)
	}

	repos := make([]Repo, 0, len(all))
	for _, r := range all {
		if r.Fork {
			continue
		}
		repos = append(repos, r)
	}
	sort.Slice(repos, func(i, j int) bool {
		return repos[i].UpdatedAt.After(repos[j].UpdatedAt)
	})

	return repos, nil
}
