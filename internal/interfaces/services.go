package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/listarr/internal/models"
)

var (
	// ErrSourceUnavailable indicates the watchlist source cannot be reached;
	// sync runs treat it as fatal for the fetch phase
	ErrSourceUnavailable = errors.New("watchlist source unavailable")
	// ErrAlreadyExists indicates the movie is already managed downstream
	ErrAlreadyExists = errors.New("movie already exists")
	// ErrRejected indicates the downstream manager refused the request
	ErrRejected = errors.New("request rejected")
	// ErrUnknownUser indicates a watchlist user could not be resolved to a name
	ErrUnknownUser = errors.New("unknown user")
)

// WatchlistEntry is a movie discovered on a watchlist feed
type WatchlistEntry struct {
	TmdbID int64
	ImdbID string
	Title  string
	Year   int
	Origin models.Origin
}

// WatchlistSource fetches the personal watchlist and friend feeds
type WatchlistSource interface {
	// FetchWatchlist returns the personal watchlist entries
	FetchWatchlist(ctx context.Context) ([]WatchlistEntry, error)

	// FetchFriendsFeed returns entries from friends' watchlists with
	// each entry's origin naming the friend
	FetchFriendsFeed(ctx context.Context) ([]WatchlistEntry, error)
}

// MovieFile describes the downloaded file Radarr reports for a movie
type MovieFile struct {
	SizeBytes int64
	Quality   string
}

// ManagedMovie is the downstream manager's view of a movie
type ManagedMovie struct {
	ID      int64
	TmdbID  int64
	Title   string
	Year    int
	HasFile bool
	File    *MovieFile
	TagIDs  []int64
}

// AddMovieRequest carries the fields needed to register a movie downstream
type AddMovieRequest struct {
	TmdbID int64
	Title  string
	Year   int
	TagIDs []int64
}

// MovieManager is the Radarr-shaped contract for managing movies,
// their tags, and search commands
type MovieManager interface {
	// Ping verifies connectivity and credentials
	Ping(ctx context.Context) error

	// GetMovies returns all managed movies
	GetMovies(ctx context.Context) ([]ManagedMovie, error)

	// GetMovieByTmdbID looks up a single movie, or ErrItemNotFound
	GetMovieByTmdbID(ctx context.Context, tmdbID int64) (*ManagedMovie, error)

	// AddMovie registers a movie without triggering an automatic search.
	// Returns ErrAlreadyExists if the movie is already managed.
	AddMovie(ctx context.Context, req AddMovieRequest) (*ManagedMovie, error)

	// EnsureTag returns the id of the named tag, creating it if needed
	EnsureTag(ctx context.Context, label string) (int64, error)

	// SetMovieTags replaces the movie's tag set
	SetMovieTags(ctx context.Context, movieID int64, tagIDs []int64) error

	// TriggerSearch issues a search command for the given movie ids
	TriggerSearch(ctx context.Context, movieIDs []int64) error
}

// NameResolver maps watchlist user identities to display names for tagging
type NameResolver interface {
	// ResolveName returns the display name for a feed user id,
	// or ErrUnknownUser when no mapping exists
	ResolveName(ctx context.Context, userID string) (string, error)
}
