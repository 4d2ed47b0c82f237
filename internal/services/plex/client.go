package plex

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the Plex discover API.
	DefaultBaseURL = "https://metadata.provider.plex.tv"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// pageSize is the watchlist pagination window.
	pageSize = 100
)

// avatarUserPattern extracts the sharing user's id from the avatar URL
// embedded in friends-feed media credits.
var avatarUserPattern = regexp.MustCompile(`/users/([a-f0-9]+)/avatar`)

// Client fetches the personal watchlist and friends feed from Plex.
// It implements interfaces.WatchlistSource.
type Client struct {
	baseURL    string
	token      string
	feedURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter

	resolver    interfaces.NameResolver
	defaultName string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithNameResolver sets the resolver used to name friends-feed users.
func WithNameResolver(resolver interfaces.NameResolver) ClientOption {
	return func(c *Client) {
		c.resolver = resolver
	}
}

// NewClient creates a new Plex watchlist client from configuration.
func NewClient(config *common.PlexConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   config.Token,
		feedURL: config.Friends.FeedURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		defaultName: config.Friends.Tagging.DefaultName,
	}

	if config.BaseURL != "" {
		c.baseURL = config.BaseURL
	}
	if config.RequestTimeout > 0 {
		c.httpClient.Timeout = time.Duration(config.RequestTimeout)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchWatchlist returns the personal watchlist, following pagination
// until the server reports no more entries.
func (c *Client) FetchWatchlist(ctx context.Context) ([]interfaces.WatchlistEntry, error) {
	var entries []interfaces.WatchlistEntry

	for start := 0; ; start += pageSize {
		params := url.Values{}
		params.Set("X-Plex-Container-Start", fmt.Sprintf("%d", start))
		params.Set("X-Plex-Container-Size", fmt.Sprintf("%d", pageSize))

		var page MediaContainer
		if err := c.get(ctx, "/library/sections/watchlist/all", params, &page); err != nil {
			return nil, err
		}

		for _, m := range page.Container.Metadata {
			if m.Type != "" && m.Type != "movie" {
				continue
			}
			tmdbID := m.TmdbID()
			if tmdbID == 0 {
				if c.logger != nil {
					c.logger.Debug().Str("title", m.Title).Msg("Skipping watchlist entry without TMDB id")
				}
				continue
			}
			entries = append(entries, interfaces.WatchlistEntry{
				TmdbID: tmdbID,
				ImdbID: m.ImdbID(),
				Title:  m.Title,
				Year:   m.Year,
				Origin: models.OriginSelf(),
			})
		}

		if len(page.Container.Metadata) < pageSize {
			break
		}
	}

	return entries, nil
}

// FetchFriendsFeed returns movies from friends' watchlists. Each entry's
// origin names the friend, resolved from the feed credit; unresolvable
// users fall back to the configured default name.
func (c *Client) FetchFriendsFeed(ctx context.Context) ([]interfaces.WatchlistEntry, error) {
	if c.feedURL == "" {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   "friends feed",
		})
	}

	var feed rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode friends feed: %w", err)
	}

	var entries []interfaces.WatchlistEntry
	for _, item := range feed.Channel.Items {
		if item.Category != "" && item.Category != "movie" {
			continue
		}
		tmdbID := item.tmdbID()
		if tmdbID == 0 {
			continue
		}

		title, year := item.titleAndYear()
		entries = append(entries, interfaces.WatchlistEntry{
			TmdbID: tmdbID,
			ImdbID: item.imdbID(),
			Title:  title,
			Year:   year,
			Origin: models.OriginFriend(c.friendName(ctx, &item)),
		})
	}

	return entries, nil
}

// friendName resolves the feed item's credit to a display name.
func (c *Client) friendName(ctx context.Context, item *rssItem) string {
	if c.resolver == nil {
		return c.defaultName
	}

	for _, credit := range item.Credits {
		match := avatarUserPattern.FindStringSubmatch(credit)
		if match == nil {
			continue
		}
		name, err := c.resolver.ResolveName(ctx, match[1])
		if err == nil {
			return name
		}
		if !errors.Is(err, interfaces.ErrUnknownUser) && c.logger != nil {
			c.logger.Warn().Err(err).Str("user_id", match[1]).Msg("Friend name lookup failed")
		}
	}

	return c.defaultName
}

// get performs a GET request against the discover API.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("url", c.baseURL+path).
			Msg("Plex API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %v", interfaces.ErrSourceUnavailable, apiErr)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
