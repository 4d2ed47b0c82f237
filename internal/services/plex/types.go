package plex

import (
	"fmt"
	"strconv"
	"strings"
)

// APIError represents an error from the Plex API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Plex API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// MediaContainer is the envelope of every Plex discover response.
type MediaContainer struct {
	Container struct {
		Size      int        `json:"size"`
		TotalSize int        `json:"totalSize"`
		Metadata  []Metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

// Metadata is one watchlist entry in a discover response.
type Metadata struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	Type  string `json:"type"`
	Guids []Guid `json:"Guid"`
}

// Guid carries a provider-scoped id such as "tmdb://603" or "imdb://tt0133093".
type Guid struct {
	ID string `json:"id"`
}

// TmdbID extracts the TMDB id from the guid list, or 0 when absent.
func (m *Metadata) TmdbID() int64 {
	for _, g := range m.Guids {
		if raw, ok := strings.CutPrefix(g.ID, "tmdb://"); ok {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return id
			}
		}
	}
	return 0
}

// ImdbID extracts the IMDB id from the guid list, or "" when absent.
func (m *Metadata) ImdbID() string {
	for _, g := range m.Guids {
		if raw, ok := strings.CutPrefix(g.ID, "imdb://"); ok {
			return raw
		}
	}
	return ""
}

// rssFeed is the friends-watchlist RSS envelope.
type rssFeed struct {
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

// rssItem is one movie on a friend's watchlist. The guid carries the
// provider id ("tmdb://603" or "imdb://tt0133093") and the media credit
// carries the sharing user's avatar URL.
type rssItem struct {
	Title    string   `xml:"title"`
	GUID     string   `xml:"guid"`
	PubDate  string   `xml:"pubDate"`
	Category string   `xml:"category"`
	Credits  []string `xml:"credit"`
}

// tmdbID extracts a TMDB id from the item guid, or 0.
func (i *rssItem) tmdbID() int64 {
	if raw, ok := strings.CutPrefix(i.GUID, "tmdb://"); ok {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// imdbID extracts an IMDB id from the item guid, or "".
func (i *rssItem) imdbID() string {
	if raw, ok := strings.CutPrefix(i.GUID, "imdb://"); ok {
		return raw
	}
	return ""
}

// titleAndYear splits an RSS title of the form "Name (2021)".
func (i *rssItem) titleAndYear() (string, int) {
	title := strings.TrimSpace(i.Title)
	if idx := strings.LastIndex(title, " ("); idx > 0 && strings.HasSuffix(title, ")") {
		if year, err := strconv.Atoi(title[idx+2 : len(title)-1]); err == nil {
			return title[:idx], year
		}
	}
	return title, 0
}
