package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/listarr/internal/interfaces"
	"github.com/ternarybob/listarr/internal/models"
)

// memStorage is an in-memory StorageManager mirroring the SQLite
// backend's ordering and atomicity semantics for job tests.
type memStorage struct {
	mu       sync.Mutex
	items    map[int64]*models.TrackedItem
	order    []int64 // insertion order, stands in for added_at ordering
	maxDaily int
	budget   models.BudgetCounter
	locks    map[string]*models.RunLock
	now      func() time.Time
}

func newMemStorage(maxDaily int) *memStorage {
	return &memStorage{
		items:    make(map[int64]*models.TrackedItem),
		maxDaily: maxDaily,
		locks:    make(map[string]*models.RunLock),
		now:      time.Now,
	}
}

func (s *memStorage) Items() interfaces.ItemStorage    { return (*memItems)(s) }
func (s *memStorage) Budget() interfaces.BudgetStorage { return (*memBudget)(s) }
func (s *memStorage) Locks() interfaces.LockStorage    { return (*memLocks)(s) }
func (s *memStorage) Close() error                     { return nil }

// snapshot captures persisted state for dry-run comparisons.
func (s *memStorage) snapshot() (map[int64]models.TrackedItem, models.BudgetCounter, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make(map[int64]models.TrackedItem, len(s.items))
	for id, item := range s.items {
		items[id] = *item
	}
	return items, s.budget, len(s.locks)
}

type memItems memStorage

func (s *memItems) Get(ctx context.Context, tmdbID int64) (*models.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[tmdbID]
	if !ok {
		return nil, interfaces.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *memItems) Upsert(ctx context.Context, item *models.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	if existing, ok := s.items[item.TmdbID]; ok {
		cp.AddedAt = existing.AddedAt
	} else {
		if cp.AddedAt.IsZero() {
			cp.AddedAt = s.now()
		}
		s.order = append(s.order, item.TmdbID)
	}
	cp.UpdatedAt = s.now()
	s.items[item.TmdbID] = &cp
	return nil
}

func (s *memItems) List(ctx context.Context) ([]*models.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.TrackedItem, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.items[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memItems) ListByState(ctx context.Context, state models.SearchState) ([]*models.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TrackedItem
	for _, id := range s.order {
		if s.items[id].SearchState == state {
			cp := *s.items[id]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		ta, tb := out[a].LastSearchedAt, out[b].LastSearchedAt
		if (ta == nil) != (tb == nil) {
			return ta == nil
		}
		if ta != nil && !ta.Equal(*tb) {
			return ta.Before(*tb)
		}
		sa, sb := out[a].FileSizeBytes, out[b].FileSizeBytes
		if (sa == nil) != (sb == nil) {
			return sa == nil
		}
		if sa != nil && *sa != *sb {
			return *sa < *sb
		}
		return out[a].TmdbID < out[b].TmdbID
	})
	return out, nil
}

func (s *memItems) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

type memBudget memStorage

func (s *memBudget) Reserve(ctx context.Context, requested, perRunCap int) (int, error) {
	if requested <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	today := s.now().Format("2006-01-02")
	if s.budget.Date != today {
		s.budget = models.BudgetCounter{Date: today}
	}
	remaining := s.maxDaily - s.budget.IssuedToday
	if remaining < 0 {
		remaining = 0
	}
	granted := requested
	if granted > remaining {
		granted = remaining
	}
	if perRunCap > 0 && granted > perRunCap {
		granted = perRunCap
	}
	s.budget.IssuedToday += granted
	return granted, nil
}

func (s *memBudget) Remaining(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issued := s.budget.IssuedToday
	if s.budget.Date != s.now().Format("2006-01-02") {
		issued = 0
	}
	remaining := s.maxDaily - issued
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (s *memBudget) Counter(ctx context.Context) (*models.BudgetCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.budget
	return &cp, nil
}

type memLocks memStorage

func (s *memLocks) Acquire(ctx context.Context, job, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[job]; ok && held.Owner != owner && !held.Expired(s.now()) {
		return interfaces.ErrBusy
	}
	s.locks[job] = &models.RunLock{Job: job, Owner: owner, AcquiredAt: s.now(), TTL: ttl}
	return nil
}

func (s *memLocks) Release(ctx context.Context, job, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[job]; ok && held.Owner == owner {
		delete(s.locks, job)
	}
	return nil
}

func (s *memLocks) Holder(ctx context.Context, job string) (*models.RunLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if held, ok := s.locks[job]; ok {
		cp := *held
		return &cp, nil
	}
	return nil, nil
}

// fakeSource is a canned WatchlistSource.
type fakeSource struct {
	personal    []interfaces.WatchlistEntry
	friends     []interfaces.WatchlistEntry
	personalErr error
	friendsErr  error
}

func (f *fakeSource) FetchWatchlist(ctx context.Context) ([]interfaces.WatchlistEntry, error) {
	return f.personal, f.personalErr
}

func (f *fakeSource) FetchFriendsFeed(ctx context.Context) ([]interfaces.WatchlistEntry, error) {
	return f.friends, f.friendsErr
}

// fakeManager is an in-memory MovieManager recording mutations.
type fakeManager struct {
	mu         sync.Mutex
	movies     map[int64]*interfaces.ManagedMovie // keyed by tmdb id
	tags       map[string]int64
	nextMovie  int64
	nextTag    int64
	addErr     error
	searchErr  error
	searches   [][]int64
	tagUpdates map[int64][]int64 // movie id -> last tag set
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		movies:     make(map[int64]*interfaces.ManagedMovie),
		tags:       make(map[string]int64),
		tagUpdates: make(map[int64][]int64),
	}
}

// addManaged seeds a movie as already present in the manager.
func (f *fakeManager) addManaged(tmdbID int64, sizeBytes *int64, tagIDs ...int64) *interfaces.ManagedMovie {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextMovie++
	m := &interfaces.ManagedMovie{
		ID:     f.nextMovie,
		TmdbID: tmdbID,
		TagIDs: tagIDs,
	}
	if sizeBytes != nil {
		m.HasFile = true
		m.File = &interfaces.MovieFile{SizeBytes: *sizeBytes}
	}
	f.movies[tmdbID] = m
	return m
}

func (f *fakeManager) Ping(ctx context.Context) error { return nil }

func (f *fakeManager) GetMovies(ctx context.Context) ([]interfaces.ManagedMovie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interfaces.ManagedMovie, 0, len(f.movies))
	for _, m := range f.movies {
		out = append(out, *m)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (f *fakeManager) GetMovieByTmdbID(ctx context.Context, tmdbID int64) (*interfaces.ManagedMovie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.movies[tmdbID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, interfaces.ErrItemNotFound
}

func (f *fakeManager) AddMovie(ctx context.Context, req interfaces.AddMovieRequest) (*interfaces.ManagedMovie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	if _, ok := f.movies[req.TmdbID]; ok {
		return nil, interfaces.ErrAlreadyExists
	}
	f.nextMovie++
	m := &interfaces.ManagedMovie{
		ID:     f.nextMovie,
		TmdbID: req.TmdbID,
		Title:  req.Title,
		Year:   req.Year,
		TagIDs: req.TagIDs,
	}
	f.movies[req.TmdbID] = m
	cp := *m
	return &cp, nil
}

func (f *fakeManager) EnsureTag(ctx context.Context, label string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.tags[label]; ok {
		return id, nil
	}
	f.nextTag++
	f.tags[label] = f.nextTag
	return f.nextTag, nil
}

func (f *fakeManager) SetMovieTags(ctx context.Context, movieID int64, tagIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagUpdates[movieID] = tagIDs
	for _, m := range f.movies {
		if m.ID == movieID {
			m.TagIDs = tagIDs
		}
	}
	return nil
}

func (f *fakeManager) TriggerSearch(ctx context.Context, movieIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return f.searchErr
	}
	f.searches = append(f.searches, movieIDs)
	return nil
}

func (f *fakeManager) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ids := range f.searches {
		n += len(ids)
	}
	return n
}
