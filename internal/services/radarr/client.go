package radarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10

	// apiPrefix is the Radarr v3 API base path.
	apiPrefix = "/api/v3"
)

// Client is a Radarr v3 API client implementing interfaces.MovieManager.
type Client struct {
	baseURL             string
	apiKey              string
	rootFolder          string
	qualityProfileID    int64
	minimumAvailability string
	httpClient          *http.Client
	logger              arbor.ILogger
	limiter             *rate.Limiter
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

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new Radarr API client from configuration.
func NewClient(config *common.RadarrConfig, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:             strings.TrimRight(config.URL, "/"),
		apiKey:              config.APIKey,
		rootFolder:          config.RootFolder,
		qualityProfileID:    config.QualityProfileID,
		minimumAvailability: config.MinimumAvailability,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	if config.RequestTimeout > 0 {
		c.httpClient.Timeout = time.Duration(config.RequestTimeout)
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Ping verifies connectivity and credentials via the system status endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var status map[string]interface{}
	return c.do(ctx, http.MethodGet, "/system/status", nil, nil, &status)
}

// GetMovies returns all managed movies.
func (c *Client) GetMovies(ctx context.Context) ([]interfaces.ManagedMovie, error) {
	var movies []Movie
	if err := c.do(ctx, http.MethodGet, "/movie", nil, nil, &movies); err != nil {
		return nil, err
	}

	result := make([]interfaces.ManagedMovie, 0, len(movies))
	for i := range movies {
		result = append(result, toManagedMovie(&movies[i]))
	}
	return result, nil
}

// GetMovieByTmdbID looks up a single movie by TMDB id.
func (c *Client) GetMovieByTmdbID(ctx context.Context, tmdbID int64) (*interfaces.ManagedMovie, error) {
	params := url.Values{}
	params.Set("tmdbId", fmt.Sprintf("%d", tmdbID))

	var movies []Movie
	if err := c.do(ctx, http.MethodGet, "/movie", params, nil, &movies); err != nil {
		return nil, err
	}
	if len(movies) == 0 {
		return nil, interfaces.ErrItemNotFound
	}

	managed := toManagedMovie(&movies[0])
	return &managed, nil
}

// AddMovie registers a movie without triggering an automatic search.
func (c *Client) AddMovie(ctx context.Context, req interfaces.AddMovieRequest) (*interfaces.ManagedMovie, error) {
	payload := addMovieRequest{
		TmdbID:              req.TmdbID,
		Title:               req.Title,
		Year:                req.Year,
		QualityProfileID:    c.qualityProfileID,
		RootFolderPath:      c.rootFolder,
		Monitored:           true,
		MinimumAvailability: c.minimumAvailability,
		Tags:                req.TagIDs,
		AddOptions:          addOptions{SearchForMovie: false},
	}
	if payload.Tags == nil {
		payload.Tags = []int64{}
	}

	var movie Movie
	if err := c.do(ctx, http.MethodPost, "/movie", nil, payload, &movie); err != nil {
		return nil, err
	}

	managed := toManagedMovie(&movie)
	return &managed, nil
}

// EnsureTag returns the id of the named tag, creating it if needed.
func (c *Client) EnsureTag(ctx context.Context, label string) (int64, error) {
	var tags []Tag
	if err := c.do(ctx, http.MethodGet, "/tag", nil, nil, &tags); err != nil {
		return 0, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Label, label) {
			return t.ID, nil
		}
	}

	var created Tag
	if err := c.do(ctx, http.MethodPost, "/tag", nil, Tag{Label: label}, &created); err != nil {
		return 0, err
	}

	if c.logger != nil {
		c.logger.Info().Str("label", label).Int64("tag_id", created.ID).Msg("Created Radarr tag")
	}
	return created.ID, nil
}

// SetMovieTags replaces the movie's tag set via the bulk editor endpoint.
func (c *Client) SetMovieTags(ctx context.Context, movieID int64, tagIDs []int64) error {
	if tagIDs == nil {
		tagIDs = []int64{}
	}
	payload := editMoviesRequest{
		MovieIDs:  []int64{movieID},
		Tags:      tagIDs,
		ApplyTags: "replace",
	}
	return c.do(ctx, http.MethodPut, "/movie/editor", nil, payload, nil)
}

// TriggerSearch issues a MoviesSearch command for the given movie ids.
func (c *Client) TriggerSearch(ctx context.Context, movieIDs []int64) error {
	if len(movieIDs) == 0 {
		return nil
	}
	payload := searchCommand{
		Name:     "MoviesSearch",
		MovieIDs: movieIDs,
	}
	return c.do(ctx, http.MethodPost, "/command", nil, payload, nil)
}

func toManagedMovie(m *Movie) interfaces.ManagedMovie {
	managed := interfaces.ManagedMovie{
		ID:      m.ID,
		TmdbID:  m.TmdbID,
		Title:   m.Title,
		Year:    m.Year,
		HasFile: m.HasFile,
		TagIDs:  m.Tags,
	}
	if m.HasFile && m.File != nil {
		managed.File = &interfaces.MovieFile{
			SizeBytes: m.File.Size,
			Quality:   m.File.Quality.Quality.Name,
		}
	}
	return managed
}

// do performs an API request with the key header, decoding the JSON
// response into result when non-nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + apiPrefix + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("url", c.baseURL+apiPrefix+path).
			Msg("Radarr API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return c.apiError(resp, path)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// apiError maps a failed response to a sentinel or APIError. Radarr
// reports an already-managed movie as 400 with a message naming the
// conflict.
func (c *Client) apiError(resp *http.Response, path string) error {
	data, _ := io.ReadAll(resp.Body)

	message := string(data)
	var errBody errorResponse
	if json.Unmarshal(data, &errBody) == nil && errBody.Message != "" {
		message = errBody.Message
	} else {
		// Validation failures come back as an array of failures
		var failures []errorResponse
		if json.Unmarshal(data, &failures) == nil && len(failures) > 0 && failures[0].Message != "" {
			message = failures[0].Message
		}
	}

	lower := strings.ToLower(message)
	switch {
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(lower, "already"):
		return fmt.Errorf("%w: %s", interfaces.ErrAlreadyExists, message)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", interfaces.ErrAlreadyExists, message)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", interfaces.ErrRejected, message)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Endpoint:   path,
	}
}
