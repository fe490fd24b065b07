package gormstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/repository"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := New(db)
	require.NoError(t, s.Migrate())
	return s
}

func seed(t *testing.T, s *Store, p models.Post) models.Post {
	t.Helper()
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.ImageFit == "" {
		p.ImageFit = models.ImageFitContain
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = epoch
	}
	p.UpdatedAt = p.CreatedAt
	require.NoError(t, s.InsertPost(context.Background(), &p))
	return p
}

func postIDs(posts []models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestListPostsPinOrder(t *testing.T) {
	s := newTestStore(t)
	t1, t2, t3 := epoch.Add(time.Hour), epoch.Add(2*time.Hour), epoch.Add(3*time.Hour)
	// creation order deliberately differs from the expected listing
	seed(t, s, models.Post{ID: "C", Title: "c", CreatedAt: t3})
	seed(t, s, models.Post{ID: "B", Title: "b", IsPinned: true, PinnedAt: &t1, CreatedAt: t2})
	seed(t, s, models.Post{ID: "A", Title: "a", IsPinned: true, PinnedAt: &t2, CreatedAt: t1})
	seed(t, s, models.Post{ID: "D", Title: "d", CreatedAt: epoch})

	posts, err := s.ListPosts(context.Background(), repository.PostQuery{Order: repository.OrderPinned})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, postIDs(posts))
}

func TestListPostsOmitsContent(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, models.Post{ID: "1", Title: "t", Content: "body"})

	posts, err := s.ListPosts(context.Background(), repository.PostQuery{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Empty(t, posts[0].Content)

	full, err := s.GetPost(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "body", full.Content)
}

func TestRoundTripsJSONColumns(t *testing.T) {
	s := newTestStore(t)
	crop := &models.CropRect{X: 1, Y: 2, Width: 300, Height: 200}
	seed(t, s, models.Post{ID: "j", Title: "t", Tags: []string{"go", "sql"}, CropData: crop, ImageFit: models.ImageFitCover})

	got, err := s.GetPost(context.Background(), "j")
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "sql"}, []string(got.Tags))
	assert.Equal(t, crop, got.CropData)
	assert.Equal(t, models.ImageFitCover, got.ImageFit)
}

func TestConcurrentViewIncrementsAreNotLost(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, models.Post{ID: "hot", Title: "hot", ViewCount: 5})
	repo := repository.NewPostRepository(s)

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.IncrementView(context.Background(), "hot")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetPost(context.Background(), "hot")
	require.NoError(t, err)
	assert.EqualValues(t, 5+n, got.ViewCount)
}

func TestIncrementCounterReturnsNewValue(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, models.Post{ID: "p", Title: "p", Likes: 2})

	n, err := s.IncrementCounter(context.Background(), "p", repository.CounterLikes)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	_, err = s.IncrementCounter(context.Background(), "missing", repository.CounterLikes)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSavePostKeepsCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	stale := seed(t, s, models.Post{ID: "p", Title: "before"})

	_, err := s.IncrementCounter(ctx, "p", repository.CounterViews)
	require.NoError(t, err)

	stale.Title = "after"
	stale.CreatedAt = epoch.Add(48 * time.Hour)
	require.NoError(t, s.SavePost(ctx, &stale))

	got, err := s.GetPost(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
	assert.EqualValues(t, 1, got.ViewCount)
	assert.True(t, got.CreatedAt.Equal(epoch))
}

func TestSavePostMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.SavePost(context.Background(), &models.Post{ID: "ghost", Title: "x", Tags: []string{}})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetPostMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPost(context.Background(), "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeletePostCascadesAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, models.Post{ID: "p", Title: "p"})
	require.NoError(t, s.InsertComment(ctx, &models.Comment{ID: "c1", PostID: "p", AuthorName: "a", AuthorEmail: "e", Content: "x", CreatedAt: epoch}))
	require.NoError(t, s.InsertComment(ctx, &models.Comment{ID: "c2", PostID: "other", AuthorName: "a", AuthorEmail: "e", Content: "y", CreatedAt: epoch}))

	require.NoError(t, s.DeletePost(ctx, "p"))
	require.NoError(t, s.DeletePost(ctx, "p"))

	_, err := s.GetPost(ctx, "p")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	left, err := s.ListComments(ctx, "p")
	require.NoError(t, err)
	assert.Empty(t, left)
	kept, err := s.ListComments(ctx, "other")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestListPostsFilters(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, models.Post{ID: "go1", Title: "Intro to Go", Category: "dev", Tags: []string{"go"}, CreatedAt: epoch.Add(time.Hour)})
	seed(t, s, models.Post{ID: "go2", Title: "More", Content: "GOROUTINES", Category: "dev", Tags: []string{"go", "concurrency"}, CreatedAt: epoch.Add(2 * time.Hour)})
	seed(t, s, models.Post{ID: "draft", Title: "go draft", Category: "dev", Tags: []string{"go"}, IsDraft: true, CreatedAt: epoch.Add(3 * time.Hour)})
	seed(t, s, models.Post{ID: "life", Title: "Life", Category: "misc", Tags: []string{"life"}, CreatedAt: epoch.Add(4 * time.Hour)})
	ctx := context.Background()

	cases := []struct {
		name string
		q    repository.PostQuery
		want []string
	}{
		{"published", repository.PostQuery{PublishedOnly: true, Order: repository.OrderNewest}, []string{"life", "go2", "go1"}},
		{"category", repository.PostQuery{PublishedOnly: true, Category: "dev", Order: repository.OrderNewest}, []string{"go2", "go1"}},
		{"tag", repository.PostQuery{PublishedOnly: true, Tag: "concurrency", Order: repository.OrderNewest}, []string{"go2"}},
		{"related", repository.PostQuery{PublishedOnly: true, ExcludeID: "go2", AnyTags: []string{"go", "life"}, Order: repository.OrderNewest, Limit: 1}, []string{"life"}},
		{"search title and content", repository.PostQuery{PublishedOnly: true, Search: "go", Order: repository.OrderNewest}, []string{"go2", "go1"}},
		{"search with drafts", repository.PostQuery{Search: "GO", Order: repository.OrderNewest}, []string{"draft", "go2", "go1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			posts, err := s.ListPosts(ctx, tc.q)
			require.NoError(t, err)
			assert.Equal(t, tc.want, postIDs(posts))
		})
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, models.Post{ID: "pct", Title: "100% done", CreatedAt: epoch.Add(time.Hour)})
	seed(t, s, models.Post{ID: "plain", Title: "1000 done", CreatedAt: epoch})
	seed(t, s, models.Post{ID: "under", Title: "snake_case"})

	posts, err := s.ListPosts(context.Background(), repository.PostQuery{Search: "0%"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pct"}, postIDs(posts))

	posts, err = s.ListPosts(context.Background(), repository.PostQuery{Search: "e_c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"under"}, postIDs(posts))
}

func TestListPopular(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, models.Post{ID: "a", Title: "a", ViewCount: 1})
	seed(t, s, models.Post{ID: "b", Title: "b", ViewCount: 9})
	seed(t, s, models.Post{ID: "c", Title: "c", ViewCount: 4})

	posts, err := s.ListPosts(context.Background(), repository.PostQuery{Order: repository.OrderPopular, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, postIDs(posts))
}

func TestCategoriesTagsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, models.Post{ID: "1", Title: "1", Category: "dev", Tags: []string{"go", "db"}, ViewCount: 3, Likes: 1})
	seed(t, s, models.Post{ID: "2", Title: "2", Category: "life", Tags: []string{"go"}, ViewCount: 2})
	seed(t, s, models.Post{ID: "3", Title: "3", Category: "secret", Tags: []string{"hidden"}, IsDraft: true, Likes: 4})
	require.NoError(t, s.InsertComment(ctx, &models.Comment{ID: "c", PostID: "1", AuthorName: "a", AuthorEmail: "e", Content: "x", CreatedAt: epoch}))

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev", "life"}, cats)

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "go"}, tags)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.BlogStats{PostCount: 3, CommentCount: 1, TotalViews: 5, TotalLikes: 5}, stats)
}

func TestListCommentsAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := "first"
	require.NoError(t, s.InsertComment(ctx, &models.Comment{ID: "second", PostID: "p", ParentID: &parent, AuthorName: "a", AuthorEmail: "e", Content: "2", CreatedAt: epoch.Add(time.Hour)}))
	require.NoError(t, s.InsertComment(ctx, &models.Comment{ID: "first", PostID: "p", AuthorName: "a", AuthorEmail: "e", Content: "1", CreatedAt: epoch}))

	comments, err := s.ListComments(ctx, "p")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].ID)
	require.NotNil(t, comments[1].ParentID)
	assert.Equal(t, "first", *comments[1].ParentID)
}

func TestRepositoryCreatesThroughStore(t *testing.T) {
	s := newTestStore(t)
	repo := repository.NewPostRepository(s, repository.WithClock(func() time.Time { return epoch }))
	ctx := context.Background()

	post, err := repo.Create(ctx, models.PostInput{
		Title: strPtr("Tagged"),
		Tags:  json.RawMessage(`"a, b, ,c"`),
	})
	require.NoError(t, err)

	got, err := s.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string(got.Tags))
	assert.Equal(t, "Uncategorized", got.Category)
}

func strPtr(s string) *string { return &s }
