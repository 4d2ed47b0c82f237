package radarr

import (
	"fmt"
)

// APIError represents an error from the Radarr API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Radarr API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Movie is the Radarr v3 movie resource, reduced to the fields we read.
type Movie struct {
	ID      int64      `json:"id"`
	Title   string     `json:"title"`
	Year    int        `json:"year"`
	TmdbID  int64      `json:"tmdbId"`
	HasFile bool       `json:"hasFile"`
	Tags    []int64    `json:"tags"`
	File    *MovieFile `json:"movieFile,omitempty"`
}

// MovieFile is the downloaded file Radarr reports for a movie.
type MovieFile struct {
	Size    int64 `json:"size"`
	Quality struct {
		Quality struct {
			Name string `json:"name"`
		} `json:"quality"`
	} `json:"quality"`
}

// Tag is a Radarr tag resource.
type Tag struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// addMovieRequest is the POST /movie payload. Automatic search on add is
// always disabled; searches are issued only through the budgeted command
// path.
type addMovieRequest struct {
	TmdbID              int64      `json:"tmdbId"`
	Title               string     `json:"title"`
	Year                int        `json:"year,omitempty"`
	QualityProfileID    int64      `json:"qualityProfileId"`
	RootFolderPath      string     `json:"rootFolderPath"`
	Monitored           bool       `json:"monitored"`
	MinimumAvailability string     `json:"minimumAvailability"`
	Tags                []int64    `json:"tags"`
	AddOptions          addOptions `json:"addOptions"`
}

type addOptions struct {
	SearchForMovie bool `json:"searchForMovie"`
}

// editMoviesRequest is the PUT /movie/editor payload for bulk tag updates.
type editMoviesRequest struct {
	MovieIDs  []int64 `json:"movieIds"`
	Tags      []int64 `json:"tags"`
	ApplyTags string  `json:"applyTags"`
}

// searchCommand is the POST /command payload triggering a movie search.
type searchCommand struct {
	Name     string  `json:"name"`
	MovieIDs []int64 `json:"movieIds"`
}

// errorResponse is Radarr's JSON error body shape.
type errorResponse struct {
	Message string `json:"message"`
}
