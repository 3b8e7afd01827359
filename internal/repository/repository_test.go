package repository

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/campusync/internal/cache"
	"github.com/charlesng35/campusync/internal/models"
	"github.com/charlesng35/campusync/internal/queue"
	"github.com/charlesng35/campusync/internal/store"
	apperrors "github.com/charlesng35/campusync/pkg/errors"
	"github.com/charlesng35/campusync/pkg/validator"
)

type lesson struct {
	models.Record

	Title    string     `json:"title" validate:"required"`
	Status   string     `json:"status"`
	Level    int        `json:"level"`
	Score    float64    `json:"score"`
	StartsAt time.Time  `json:"startsAt"`
	DueAt    *time.Time `json:"dueAt,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

type countingStore struct {
	store.Store
	writes    atomic.Int32
	quotaHits atomic.Int32
}

func (s *countingStore) SetItem(ctx context.Context, key, value string) error {
	if key == "lessons" {
		s.writes.Add(1)
		if s.quotaHits.Load() > 0 {
			s.quotaHits.Add(-1)
			return store.ErrQuotaExceeded
		}
	}
	return s.Store.SetItem(ctx, key, value)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	repo  *Repository[lesson, *lesson]
	store *countingStore
	cache *cache.Layer
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)}
	s := &countingStore{Store: store.NewMemoryStore()}
	layer, err := cache.New(ctx, s, cache.WithClock(clock.Now))
	require.NoError(t, err)

	return &fixture{
		repo:  New[lesson]("lessons", s, layer, WithClock(clock.Now)),
		store: s,
		cache: layer,
		clock: clock,
	}
}

func (f *fixture) seed(t *testing.T, lessons ...lesson) []lesson {
	t.Helper()
	created, err := f.repo.BulkCreate(context.Background(), lessons)
	require.NoError(t, err)
	return created
}

func titles(items []lesson) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Title
	}
	return out
}

func TestCreateStampsRecord(t *testing.T) {
	f := newFixture(t)

	created, err := f.repo.Create(context.Background(), lesson{Record: models.Record{ID: "client-id"}, Title: "Algebra"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEqual(t, "client-id", created.ID)
	require.Equal(t, f.clock.Now(), created.CreatedAt)
	require.Equal(t, f.clock.Now(), created.UpdatedAt)

	found, err := f.repo.GetByID(context.Background(), created.ID, true)
	require.NoError(t, err)
	require.True(t, found.OK)
	require.Equal(t, "Algebra", found.Entity.Title)
}

func TestCreateValidationFailure(t *testing.T) {
	f := newFixture(t)

	_, err := f.repo.Create(context.Background(), lesson{Status: "draft"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	appErr := apperrors.FromError(err)
	failures, ok := appErr.Details.(validator.ValidationErrors)
	require.True(t, ok)
	require.Equal(t, "title", failures[0].Field)
	require.Zero(t, f.store.writes.Load())
}

func TestGetAllCachesFilteredResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t,
		lesson{Title: "Algebra", Status: "active"},
		lesson{Title: "Biology", Status: "archived"},
		lesson{Title: "Chemistry", Status: "draft"},
	)
	opts := ListOptions{Filters: map[string]any{"status": "active"}}

	first, err := f.repo.GetAll(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"Algebra"}, titles(first))

	_, ok, err := f.store.GetItem(ctx, `lessons_all_{"filters":{"status":"active"}}`)
	require.NoError(t, err)
	require.True(t, ok)

	// Rewrite the collection behind the repository's back: a cached answer ignores it.
	require.NoError(t, f.store.Store.SetItem(ctx, "lessons", "[]"))
	second, err := f.repo.GetAll(ctx, opts)
	require.NoError(t, err)
	require.Equal(t, first, second)

	noCache := false
	fresh, err := f.repo.GetAll(ctx, ListOptions{Filters: opts.Filters, UseCache: &noCache})
	require.NoError(t, err)
	require.Empty(t, fresh)

	f.clock.Advance(DefaultTTL)
	expired, err := f.repo.GetAll(ctx, opts)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func TestMutationsInvalidateListCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.seed(t, lesson{Title: "Algebra", Status: "active"}, lesson{Title: "Biology"})

	assertNoListCache := func() {
		t.Helper()
		keys, err := store.KeysWithPrefix(ctx, f.store, "lessons_all_")
		require.NoError(t, err)
		require.Empty(t, keys)
	}
	warm := func() {
		t.Helper()
		_, err := f.repo.GetAll(ctx, ListOptions{})
		require.NoError(t, err)
		_, err = f.repo.GetAll(ctx, ListOptions{Filters: map[string]any{"status": "active"}})
		require.NoError(t, err)
		keys, err := store.KeysWithPrefix(ctx, f.store, "lessons_all_")
		require.NoError(t, err)
		require.Len(t, keys, 2)
	}

	warm()
	_, err := f.repo.Create(ctx, lesson{Title: "Chemistry"})
	require.NoError(t, err)
	assertNoListCache()

	warm()
	_, err = f.repo.Update(ctx, created[0].ID, map[string]any{"status": "archived"})
	require.NoError(t, err)
	assertNoListCache()

	warm()
	_, err = f.repo.Delete(ctx, created[1].ID)
	require.NoError(t, err)
	assertNoListCache()

	all, err := f.repo.GetAll(ctx, ListOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"Algebra", "Chemistry"}, titles(all))
	require.Equal(t, "archived", all[0].Status)
}

func TestFilterOperators(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	base := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	f.seed(t,
		lesson{Title: "A", Level: 1, Score: 10.5, StartsAt: base, Tags: []string{"math"}},
		lesson{Title: "B", Level: 2, Score: 20, StartsAt: base.Add(24 * time.Hour), Tags: []string{"science", "lab"}},
		lesson{Title: "C", Level: 3, Score: 30, StartsAt: base.Add(48 * time.Hour)},
	)

	cases := []struct {
		name    string
		filters map[string]any
		want    []string
	}{
		{"membership", map[string]any{"title": []any{"A", "C"}}, []string{"A", "C"}},
		{"gt", map[string]any{"level": map[string]any{"gt": 1}}, []string{"B", "C"}},
		{"gte lte", map[string]any{"score": map[string]any{"gte": 20.0, "lte": 30}}, []string{"B", "C"}},
		{"lt", map[string]any{"level": map[string]any{"lt": 2}}, []string{"A"}},
		{"ne", map[string]any{"title": map[string]any{"ne": "B"}}, []string{"A", "C"}},
		{"in", map[string]any{"level": map[string]any{"in": []int{2, 3}}}, []string{"B", "C"}},
		{"contains string", map[string]any{"title": map[string]any{"contains": "B"}}, []string{"B"}},
		{"contains list", map[string]any{"tags": map[string]any{"contains": "lab"}}, []string{"B"}},
		{"time string", map[string]any{"startsAt": map[string]any{"gt": "2024-09-01T12:00:00Z"}}, []string{"B", "C"}},
		{"combined", map[string]any{"level": map[string]any{"gte": 2}, "title": "C"}, []string{"C"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := f.repo.GetAll(ctx, ListOptions{Filters: tc.filters})
			require.NoError(t, err)
			require.Equal(t, tc.want, titles(items))
		})
	}
}

func TestUnknownFilterOperatorFallsBackToEquality(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, lesson{Title: "A"})

	items, err := f.repo.GetAll(ctx, ListOptions{Filters: map[string]any{"title": map[string]any{"like": "A"}}})
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = f.repo.GetAll(ctx, ListOptions{Filters: map[string]any{"title": map[string]any{"in": "A"}}})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t,
		lesson{Title: "Intro to Algebra", Status: "active"},
		lesson{Title: "Geometry", Status: "algebra-track"},
		lesson{Title: "History"},
	)

	items, err := f.repo.GetAll(ctx, ListOptions{Search: &Search{Query: "ALGEBRA"}})
	require.NoError(t, err)
	require.Equal(t, []string{"Intro to Algebra", "Geometry"}, titles(items))

	items, err = f.repo.GetAll(ctx, ListOptions{Search: &Search{Query: "ALGEBRA", CaseSensitive: true}})
	require.NoError(t, err)
	require.Empty(t, items)

	items, err = f.repo.GetAll(ctx, ListOptions{Search: &Search{Query: "algebra", Fields: []string{"title"}}})
	require.NoError(t, err)
	require.Equal(t, []string{"Intro to Algebra"}, titles(items))
}

func TestSortAndPaginate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t,
		lesson{Title: "B", Level: 2},
		lesson{Title: "D", Level: 4},
		lesson{Title: "A", Level: 1},
		lesson{Title: "C", Level: 3},
	)

	items, err := f.repo.GetAll(ctx, ListOptions{Pagination: &Pagination{OrderBy: "level", Order: OrderDesc, Offset: 1, Limit: 2}})
	require.NoError(t, err)
	require.Equal(t, []string{"C", "B"}, titles(items))

	items, err = f.repo.GetAll(ctx, ListOptions{Pagination: &Pagination{OrderBy: "title"}})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "D"}, titles(items))

	items, err = f.repo.GetAll(ctx, ListOptions{Pagination: &Pagination{Offset: 10}})
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)

	// Filters apply before pagination.
	items, err = f.repo.GetAll(ctx, ListOptions{
		Filters:    map[string]any{"level": map[string]any{"gt": 1}},
		Pagination: &Pagination{OrderBy: "level", Limit: 1},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"B"}, titles(items))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.seed(t, lesson{Title: "Algebra", Tags: []string{"a"}})[0]

	// Warm the item cache so the update has to invalidate it.
	_, err := f.repo.GetByID(ctx, created.ID, true)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	found, err := f.repo.Update(ctx, created.ID, map[string]any{
		"id":        "hijack",
		"createdAt": "2000-01-01T00:00:00Z",
		"title":     "Linear Algebra",
		"level":     float64(3),
		"dueAt":     "2024-09-10T08:00:00Z",
		"tags":      []any{"b", "c"},
	})
	require.NoError(t, err)
	require.True(t, found.OK)
	require.Equal(t, created.ID, found.Entity.ID)
	require.Equal(t, created.CreatedAt, found.Entity.CreatedAt)
	require.Equal(t, f.clock.Now(), found.Entity.UpdatedAt)
	require.Equal(t, "Linear Algebra", found.Entity.Title)
	require.Equal(t, 3, found.Entity.Level)
	require.Equal(t, []string{"b", "c"}, found.Entity.Tags)
	require.NotNil(t, found.Entity.DueAt)
	require.Equal(t, time.Date(2024, 9, 10, 8, 0, 0, 0, time.UTC), found.Entity.DueAt.UTC())

	cached, err := f.repo.GetByID(ctx, created.ID, true)
	require.NoError(t, err)
	require.Equal(t, "Linear Algebra", cached.Entity.Title)
}

func TestUpdateMissingAndInvalid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.seed(t, lesson{Title: "Algebra"})[0]

	found, err := f.repo.Update(ctx, "missing", map[string]any{"title": "x"})
	require.NoError(t, err)
	require.False(t, found.OK)

	_, err = f.repo.Update(ctx, created.ID, map[string]any{"title": ""})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	_, err = f.repo.Update(ctx, created.ID, map[string]any{"level": "high"})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	current, err := f.repo.GetByID(ctx, created.ID, false)
	require.NoError(t, err)
	require.Equal(t, "Algebra", current.Entity.Title)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.seed(t, lesson{Title: "Algebra"})[0]

	_, err := f.repo.GetByID(ctx, created.ID, true)
	require.NoError(t, err)

	deleted, err := f.repo.Delete(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	for _, id := range []string{created.ID, "never-existed", ""} {
		deleted, err = f.repo.Delete(ctx, id)
		require.NoError(t, err)
		require.False(t, deleted)
	}

	found, err := f.repo.GetByID(ctx, created.ID, true)
	require.NoError(t, err)
	require.False(t, found.OK)
}

func TestBulkOperationsWriteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created := f.seed(t, lesson{Title: "A"}, lesson{Title: "B"}, lesson{Title: "C"})
	require.EqualValues(t, 1, f.store.writes.Load())

	updated, err := f.repo.BulkUpdate(ctx, []Patch{
		{ID: created[0].ID, Changes: map[string]any{"status": "x"}},
		{ID: "unknown", Changes: map[string]any{"status": "x"}},
		{ID: created[2].ID, Changes: map[string]any{"status": "y"}},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	require.EqualValues(t, 2, f.store.writes.Load())

	removed, err := f.repo.BulkDelete(ctx, []string{created[0].ID, created[1].ID, "unknown"})
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	require.EqualValues(t, 3, f.store.writes.Load())

	all, err := f.repo.GetAll(ctx, ListOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"C"}, titles(all))
	require.Equal(t, "y", all[0].Status)
}

func TestBulkCreateRejectsWholeBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.repo.BulkCreate(ctx, []lesson{{Title: "A"}, {}})
	require.ErrorIs(t, err, apperrors.ErrValidationFailed)

	all, err := f.repo.GetAll(ctx, ListOptions{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	created := f.seed(t, lesson{Title: "A"}, lesson{Title: "B"})

	f.clock.Advance(24 * time.Hour)
	f.seed(t, lesson{Title: "C"})
	_, err := f.repo.Update(ctx, created[0].ID, map[string]any{"status": "done"})
	require.NoError(t, err)

	stats, err := f.repo.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Total)
	require.Equal(t, 1, stats.CreatedToday)
	require.Equal(t, 2, stats.UpdatedToday)

	raw, _, err := f.store.GetItem(ctx, "lessons")
	require.NoError(t, err)
	require.EqualValues(t, len(raw), stats.StorageSize)
}

func TestPersistFailureEvictsCacheAndRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, lesson{Title: "A"})
	require.NoError(t, cache.Set(ctx, f.cache, "other", "other_1", "x"))
	f.clock.Advance(time.Minute)
	_, err := f.repo.GetAll(ctx, ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, f.cache.Len())

	f.store.quotaHits.Store(1)
	_, err = f.repo.Create(ctx, lesson{Title: "B"})
	require.NoError(t, err)
	// The quota retry evicted other_1; the write itself invalidated the list.
	require.Zero(t, f.cache.Len())

	f.store.quotaHits.Store(2)
	_, err = f.repo.Create(ctx, lesson{Title: "C"})
	require.ErrorIs(t, err, apperrors.ErrPersistFailed)

	all, err := f.repo.GetAll(ctx, ListOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, titles(all))
}

type enqueued struct {
	mu       sync.Mutex
	requests []queue.Request
}

func (e *enqueued) Enqueue(_ context.Context, req queue.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	return "q-" + req.Method, nil
}

func TestRemoteMirror(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sink := &enqueued{}
	f.repo.WithRemote(sink, RemoteSpec[lesson]{
		Type:         "lesson",
		Method:       "POST",
		UpdateMethod: "PUT",
		URL:          func(l lesson) string { return "/lessons/" + l.ID },
	})

	created, err := f.repo.Create(ctx, lesson{Title: "A"})
	require.NoError(t, err)
	_, err = f.repo.Update(ctx, created.ID, map[string]any{"title": "B"})
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, lesson{})
	require.Error(t, err)

	require.Len(t, sink.requests, 2)
	require.Equal(t, "POST", sink.requests[0].Method)
	require.Equal(t, "PUT", sink.requests[1].Method)
	require.True(t, strings.HasSuffix(sink.requests[1].URL, created.ID))
	require.Equal(t, "B", sink.requests[1].Data.(lesson).Title)
}
