package jellyseerr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// userPageSize is the page size for the user listing endpoint.
	userPageSize = 100

	// cacheTTL bounds how long the user map is reused before refetching.
	cacheTTL = 15 * time.Minute
)

// avatarUserPattern extracts the Plex user id from a Jellyseerr avatar URL.
var avatarUserPattern = regexp.MustCompile(`/users/([a-f0-9]+)/avatar`)

// APIError represents an error from the Jellyseerr API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Jellyseerr API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Client resolves Plex user ids to display names using Jellyseerr's user
// directory. It implements interfaces.NameResolver. Manual mappings from
// configuration take precedence over directory lookups.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger

	manual map[string]string

	mu        sync.Mutex
	users     map[string]string
	fetchedAt time.Time
}

// ClientOption configures the Client.
type ClientOption func(*Client)

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

// NewClient creates a new Jellyseerr name resolver from configuration.
func NewClient(config *common.TaggingConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(config.JellyseerrURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		manual: config.ManualMappings,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ResolveName returns the display name for a Plex user id. Manual
// mappings win; otherwise the Jellyseerr user directory is consulted.
func (c *Client) ResolveName(ctx context.Context, userID string) (string, error) {
	if name, ok := c.manual[userID]; ok {
		return name, nil
	}

	users, err := c.userMap(ctx)
	if err != nil {
		return "", err
	}

	if name, ok := users[userID]; ok {
		return name, nil
	}
	return "", interfaces.ErrUnknownUser
}

// userMap returns the cached id-to-name map, refetching when stale.
func (c *Client) userMap(ctx context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.users != nil && time.Since(c.fetchedAt) < cacheTTL {
		return c.users, nil
	}

	users, err := c.fetchUsers(ctx)
	if err != nil {
		// Serve the stale map rather than failing a sync run
		if c.users != nil {
			if c.logger != nil {
				c.logger.Warn().Err(err).Msg("User directory refresh failed, using cached map")
			}
			return c.users, nil
		}
		return nil, err
	}

	c.users = users
	c.fetchedAt = time.Now()
	return c.users, nil
}

type userPage struct {
	PageInfo struct {
		Pages   int `json:"pages"`
		Results int `json:"results"`
	} `json:"pageInfo"`
	Results []struct {
		ID           int64  `json:"id"`
		DisplayName  string `json:"displayName"`
		PlexUsername string `json:"plexUsername"`
		Avatar       string `json:"avatar"`
	} `json:"results"`
}

// fetchUsers pages through the user directory and keys each user by the
// Plex id embedded in their avatar URL.
func (c *Client) fetchUsers(ctx context.Context) (map[string]string, error) {
	users := make(map[string]string)

	for skip := 0; ; skip += userPageSize {
		reqURL := fmt.Sprintf("%s/api/v1/user?take=%d&skip=%d", c.baseURL, userPageSize, skip)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("X-Api-Key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    string(body),
				Endpoint:   "/api/v1/user",
			}
		}

		var page userPage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}

		for _, u := range page.Results {
			match := avatarUserPattern.FindStringSubmatch(u.Avatar)
			if match == nil {
				continue
			}
			name := u.DisplayName
			if name == "" {
				name = u.PlexUsername
			}
			if name == "" {
				continue
			}
			users[match[1]] = name
		}

		if len(page.Results) < userPageSize {
			break
		}
	}

	if c.logger != nil {
		c.logger.Debug().Int("users", len(users)).Msg("Loaded Jellyseerr user directory")
	}
	return users, nil
}
