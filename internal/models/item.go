package models

import (
	"strings"
	"time"
)

// SearchState tracks where a movie sits in the search lifecycle
type SearchState string

const (
	// SearchStateNew indicates the item is tracked but no search has been requested yet
	SearchStateNew SearchState = "new"
	// SearchStateRequested indicates a search was triggered and results are pending
	SearchStateRequested SearchState = "search_requested"
	// SearchStateBelowThreshold indicates the downloaded file is below the quality threshold
	SearchStateBelowThreshold SearchState = "below_threshold"
	// SearchStateSatisfied indicates the file meets the threshold; terminal state
	SearchStateSatisfied SearchState = "satisfied"
)

// Origin records where a tracked item came from: the personal watchlist
// or a named friend's feed. The zero value means the personal watchlist.
type Origin struct {
	Friend string
}

// OriginSelf is the personal-watchlist origin.
func OriginSelf() Origin { return Origin{} }

// OriginFriend is a friend's-watchlist origin carrying the friend identifier.
func OriginFriend(name string) Origin { return Origin{Friend: name} }

// IsFriend reports whether the item came from a friend's watchlist.
func (o Origin) IsFriend() bool { return o.Friend != "" }

// String renders the origin as "self" or "friend:<name>" for storage and logs.
func (o Origin) String() string {
	if o.Friend == "" {
		return "self"
	}
	return "friend:" + o.Friend
}

// ParseOrigin parses the stored origin representation.
func ParseOrigin(s string) Origin {
	if name, ok := strings.CutPrefix(s, "friend:"); ok {
		return Origin{Friend: name}
	}
	return Origin{}
}

// TrackedItem is one row per movie under management, keyed by TMDB id.
// Rows are never deleted; satisfied items remain as an audit trail.
type TrackedItem struct {
	TmdbID         int64       `json:"tmdb_id"` // Stable catalog id, unique key
	RadarrID       int64       `json:"radarr_id"`
	ImdbID         string      `json:"imdb_id,omitempty"`
	Title          string      `json:"title"`
	Year           int         `json:"year,omitempty"`
	Origin         Origin      `json:"origin"`
	SearchState    SearchState `json:"search_state"`
	LastSearchedAt *time.Time  `json:"last_searched_at,omitempty"`
	FileSizeBytes  *int64      `json:"file_size_bytes,omitempty"` // nil until Radarr reports a file
	AddedAt        time.Time   `json:"added_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// InRadarr reports whether the download manager has assigned this item an id.
func (t *TrackedItem) InRadarr() bool { return t.RadarrID != 0 }

// MeetsThreshold reports whether the observed file satisfies the quality
// threshold. An item with no observed file never satisfies any threshold.
func (t *TrackedItem) MeetsThreshold(minBytes int64) bool {
	return t.FileSizeBytes != nil && *t.FileSizeBytes >= minBytes
}

// BudgetCounter is the process-wide daily search counter, a singleton row.
type BudgetCounter struct {
	Date        string `json:"date"` // Calendar day (2006-01-02) the counter applies to
	IssuedToday int    `json:"issued_today"`
}

// RunLock is the per-job mutual-exclusion marker. A lock older than TTL
// is considered abandoned and may be reclaimed by the next acquire.
type RunLock struct {
	Job        string        `json:"job"`
	Owner      string        `json:"owner"`
	AcquiredAt time.Time     `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the lock is past its staleness timeout.
func (l *RunLock) Expired(now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= l.TTL
}
