package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/listarr/internal/common"
	"github.com/ternarybob/listarr/internal/interfaces"
)

func plexConfig(baseURL, feedURL string) *common.PlexConfig {
	cfg := common.NewDefaultConfig().Plex
	cfg.BaseURL = baseURL
	cfg.Token = "test-token"
	cfg.Friends.FeedURL = feedURL
	cfg.Friends.Tagging.DefaultName = "unknown"
	return &cfg
}

func TestClient_FetchWatchlist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Plex-Token"))
		assert.Equal(t, "/library/sections/watchlist/all", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"MediaContainer":{"size":2,"totalSize":2,"Metadata":[
			{"title":"The Matrix","year":1999,"type":"movie","Guid":[{"id":"imdb://tt0133093"},{"id":"tmdb://603"}]},
			{"title":"No Ids","year":2000,"type":"movie","Guid":[]}
		]}}`)
	}))
	defer server.Close()

	client := NewClient(plexConfig(server.URL, ""))
	entries, err := client.FetchWatchlist(context.Background())
	require.NoError(t, err)

	// The entry without a TMDB id is dropped
	require.Len(t, entries, 1)
	assert.Equal(t, int64(603), entries[0].TmdbID)
	assert.Equal(t, "tt0133093", entries[0].ImdbID)
	assert.Equal(t, "The Matrix", entries[0].Title)
	assert.Equal(t, 1999, entries[0].Year)
	assert.False(t, entries[0].Origin.IsFriend())
}

func TestClient_FetchWatchlistPagination(t *testing.T) {
	pages := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		start := r.URL.Query().Get("X-Plex-Container-Start")
		w.Header().Set("Content-Type", "application/json")

		if start == "0" {
			// Full page forces a second request
			fmt.Fprint(w, `{"MediaContainer":{"size":100,"totalSize":101,"Metadata":[`)
			for i := 0; i < 100; i++ {
				if i > 0 {
					fmt.Fprint(w, ",")
				}
				fmt.Fprintf(w, `{"title":"m%d","type":"movie","Guid":[{"id":"tmdb://%d"}]}`, i, i+1)
			}
			fmt.Fprint(w, `]}}`)
			return
		}
		fmt.Fprint(w, `{"MediaContainer":{"size":1,"totalSize":101,"Metadata":[{"title":"last","type":"movie","Guid":[{"id":"tmdb://999"}]}]}}`)
	}))
	defer server.Close()

	client := NewClient(plexConfig(server.URL, ""))
	entries, err := client.FetchWatchlist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Len(t, entries, 101)
}

func TestClient_FetchWatchlistServerErrorIsSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(plexConfig(server.URL, ""))
	_, err := client.FetchWatchlist(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrSourceUnavailable)
}

type staticResolver map[string]string

func (r staticResolver) ResolveName(ctx context.Context, userID string) (string, error) {
	if name, ok := r[userID]; ok {
		return name, nil
	}
	return "", interfaces.ErrUnknownUser
}

func TestClient_FetchFriendsFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Friends Watchlist</title>
<item>
  <title>Inception (2010)</title>
  <guid>tmdb://27205</guid>
  <category>movie</category>
  <credit>https://plex.tv/users/ab12cd34/avatar?c=123</credit>
</item>
<item>
  <title>Mystery Pick (2021)</title>
  <guid>tmdb://777</guid>
  <category>movie</category>
  <credit>https://plex.tv/users/ffff0000/avatar</credit>
</item>
<item>
  <title>Some Show</title>
  <guid>tvdb://42</guid>
  <category>show</category>
</item>
</channel>
</rss>`)
	}))
	defer server.Close()

	cfg := plexConfig(server.URL, server.URL+"/feed")
	client := NewClient(cfg, WithNameResolver(staticResolver{"ab12cd34": "alice"}))

	entries, err := client.FetchFriendsFeed(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, int64(27205), entries[0].TmdbID)
	assert.Equal(t, "Inception", entries[0].Title)
	assert.Equal(t, 2010, entries[0].Year)
	assert.Equal(t, "friend:alice", entries[0].Origin.String())

	// Unresolvable user falls back to the default name
	assert.Equal(t, "friend:unknown", entries[1].Origin.String())
}

func TestClient_FetchFriendsFeedNoURL(t *testing.T) {
	client := NewClient(plexConfig("http://unused", ""))
	entries, err := client.FetchFriendsFeed(context.Background())
	require.NoError(t, err)
	assert.Nil(t, entries)
}
