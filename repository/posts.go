package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/utils"
)

const (
	backgroundTimeout    = 10 * time.Second
	defaultExcerptLength = 150
	defaultCategoryName  = "Uncategorized"
)

// PostRepository is the single entry point for post reads and writes. It normalises
// tags, validates input, derives excerpts and keeps pin bookkeeping before anything
// reaches the store.
type PostRepository struct {
	store           PostStore
	cache           PostCache
	now             func() time.Time
	excerptLength   int
	defaultCategory string

	loads singleflight.Group
	bg    sync.WaitGroup

	// writes bumps a per-id counter so a cache fill that started before a write
	// does not store what it read
	genMu  sync.Mutex
	writes map[string]uint64
}

// Option configures a PostRepository.
type Option func(*PostRepository)

// WithCache puts cache in front of GetByID.
func WithCache(cache PostCache) Option {
	return func(r *PostRepository) { r.cache = cache }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *PostRepository) { r.now = now }
}

// WithExcerptLength sets how many runes of content a derived excerpt keeps.
func WithExcerptLength(n int) Option {
	return func(r *PostRepository) {
		if n > 0 {
			r.excerptLength = n
		}
	}
}

// WithDefaultCategory sets the category given to posts created without one.
func WithDefaultCategory(name string) Option {
	return func(r *PostRepository) {
		if name != "" {
			r.defaultCategory = name
		}
	}
}

// NewPostRepository wraps store.
func NewPostRepository(store PostStore, opts ...Option) *PostRepository {
	r := &PostRepository{
		store:           store,
		now:             time.Now,
		excerptLength:   defaultExcerptLength,
		defaultCategory: defaultCategoryName,
		writes:          map[string]uint64{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *PostRepository) clock() time.Time {
	return r.now().UTC()
}

// ListAll returns posts pinned first (most recently pinned first), then newest first.
func (r *PostRepository) ListAll(ctx context.Context, includeDrafts bool) ([]models.Post, error) {
	return r.list(ctx, PostQuery{PublishedOnly: !includeDrafts, Order: OrderPinned})
}

// Lookup reads a post without side effects. A missing post yields nil, nil.
func (r *PostRepository) Lookup(ctx context.Context, id string) (*models.Post, error) {
	post, err := r.store.GetPost(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap("get post", err)
	}
	return post, nil
}

// GetByID reads a post and records a view in the background. A missing post, or a
// draft when includeDrafts is false, yields nil, nil and records nothing. The
// returned view count does not include this view.
func (r *PostRepository) GetByID(ctx context.Context, id string, includeDrafts bool) (*models.Post, error) {
	post, err := r.cachedLookup(ctx, id)
	if err != nil || post == nil {
		return nil, err
	}
	if post.IsDraft && !includeDrafts {
		return nil, nil
	}
	r.background("view", id, func(ctx context.Context) error {
		return r.IncrementView(ctx, id)
	})
	return post, nil
}

func (r *PostRepository) cachedLookup(ctx context.Context, id string) (*models.Post, error) {
	if r.cache == nil {
		return r.Lookup(ctx, id)
	}
	if post, ok := r.cache.GetPost(ctx, id); ok {
		return post, nil
	}
	v, err, _ := r.loads.Do(id, func() (interface{}, error) {
		// the flight is shared, so one caller going away must not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()

		gen := r.generation(id)
		post, err := r.Lookup(fctx, id)
		if err == nil && post != nil {
			r.fill(fctx, id, gen, post)
		}
		return post, err
	})
	if err != nil {
		return nil, err
	}
	post, _ := v.(*models.Post)
	if post == nil {
		return nil, nil
	}
	// callers sharing a flight must not share the pointer
	cp := *post
	return &cp, nil
}

func (r *PostRepository) generation(id string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.writes[id]
}

// fill caches post unless id was written since gen was taken. The check and the
// store happen under genMu, so a later write's invalidation always runs after it.
func (r *PostRepository) fill(ctx context.Context, id string, gen uint64, post *models.Post) {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	if r.writes[id] != gen {
		return
	}
	r.cache.SetPost(ctx, post)
}

// Create validates in and stores a new post. is_pinned in the input is ignored.
func (r *PostRepository) Create(ctx context.Context, in models.PostInput) (*models.Post, error) {
	now := r.clock()
	post := &models.Post{
		ID:        uuid.NewString(),
		ImageFit:  models.ImageFitContain,
		Tags:      []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Title == nil || strings.TrimSpace(*in.Title) == "" {
		return nil, invalid("title", "title is required")
	}
	if err := r.apply(post, in); err != nil {
		return nil, err
	}
	if post.Category == "" {
		post.Category = r.defaultCategory
	}
	if in.Excerpt == nil || strings.TrimSpace(*in.Excerpt) == "" {
		post.Excerpt = utils.Excerpt(post.Content, r.excerptLength)
	}

	if err := r.store.InsertPost(ctx, post); err != nil {
		return nil, Wrap("insert post", err)
	}
	return post, nil
}

// Update shallow-merges in into the stored post. Absent fields are left alone.
func (r *PostRepository) Update(ctx context.Context, id string, in models.PostInput) (*models.Post, error) {
	return r.modify(ctx, id, func(post *models.Post) error {
		oldContent := post.Content
		wasPinned := post.IsPinned
		if err := r.apply(post, in); err != nil {
			return err
		}
		if in.Title != nil && post.Title == "" {
			return invalid("title", "title cannot be empty")
		}
		if in.Content != nil && in.Excerpt == nil && post.Content != oldContent {
			post.Excerpt = utils.Excerpt(post.Content, r.excerptLength)
		}
		if in.IsPinned != nil {
			post.IsPinned = *in.IsPinned
			if post.IsPinned && !wasPinned {
				now := r.clock()
				post.PinnedAt = &now
			}
			if !post.IsPinned {
				post.PinnedAt = nil
			}
		}
		return nil
	})
}

// TogglePin pins or unpins a post. Pinning always moves pinned_at to now.
func (r *PostRepository) TogglePin(ctx context.Context, id string, pinned bool) (*models.Post, error) {
	return r.modify(ctx, id, func(post *models.Post) error {
		post.IsPinned = pinned
		if pinned {
			now := r.clock()
			post.PinnedAt = &now
		} else {
			post.PinnedAt = nil
		}
		return nil
	})
}

// PublishDraft clears the draft flag.
func (r *PostRepository) PublishDraft(ctx context.Context, id string) (*models.Post, error) {
	return r.modify(ctx, id, func(post *models.Post) error {
		post.IsDraft = false
		return nil
	})
}

func (r *PostRepository) modify(ctx context.Context, id string, change func(*models.Post) error) (*models.Post, error) {
	post, err := r.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrNotFound
	}
	if err := change(post); err != nil {
		return nil, err
	}
	post.UpdatedAt = r.clock()
	if err := r.store.SavePost(ctx, post); err != nil {
		return nil, Wrap("save post", err)
	}
	r.invalidate(id)
	return post, nil
}

// Delete removes a post and its comments. Deleting a missing id is not an error.
func (r *PostRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.DeletePost(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return Wrap("delete post", err)
	}
	r.invalidate(id)
	return nil
}

// apply copies the fields present in in onto post. Server-controlled fields are not
// part of PostInput; is_pinned is handled by the caller.
func (r *PostRepository) apply(post *models.Post, in models.PostInput) error {
	if in.Title != nil {
		post.Title = strings.TrimSpace(*in.Title)
	}
	if in.Excerpt != nil {
		post.Excerpt = strings.TrimSpace(*in.Excerpt)
	}
	if in.Content != nil {
		post.Content = *in.Content
	}
	if in.Image != nil {
		post.Image = strings.TrimSpace(*in.Image)
	}
	if in.ImageFit != nil {
		if !in.ImageFit.Valid() {
			return invalid("image_fit", "image_fit must be contain or cover")
		}
		post.ImageFit = *in.ImageFit
	}
	if in.CropData != nil {
		crop, err := parseCrop(in.CropData)
		if err != nil {
			return err
		}
		post.CropData = crop
	}
	if in.Category != nil {
		post.Category = strings.TrimSpace(*in.Category)
	}
	if in.Tags != nil {
		post.Tags = utils.NormalizeTagsJSON(in.Tags)
	}
	if in.IsDraft != nil {
		post.IsDraft = *in.IsDraft
	}
	return nil
}

func parseCrop(raw json.RawMessage) (*models.CropRect, error) {
	if s := strings.TrimSpace(string(raw)); s == "" || s == "null" {
		return nil, nil
	}
	var crop models.CropRect
	if err := json.Unmarshal(raw, &crop); err != nil {
		return nil, invalid("crop_data", "crop_data must be an object with x, y, width and height")
	}
	if crop.Width < 0 || crop.Height < 0 {
		return nil, invalid("crop_data", "crop width and height must not be negative")
	}
	return &crop, nil
}

// ListPopular returns published posts with the most views first.
func (r *PostRepository) ListPopular(ctx context.Context, limit int) ([]models.Post, error) {
	return r.list(ctx, PostQuery{PublishedOnly: true, Order: OrderPopular, Limit: limit})
}

// ListRelated returns published posts other than excludeID sharing at least one tag,
// newest first. No tags means no store call and an empty result.
func (r *PostRepository) ListRelated(ctx context.Context, excludeID string, tags []string, limit int) ([]models.Post, error) {
	if len(tags) == 0 {
		return []models.Post{}, nil
	}
	return r.list(ctx, PostQuery{
		PublishedOnly: true,
		ExcludeID:     excludeID,
		AnyTags:       tags,
		Order:         OrderNewest,
		Limit:         limit,
	})
}

// Search matches published posts whose title or content contains query, ignoring case.
// A blank query matches nothing.
func (r *PostRepository) Search(ctx context.Context, query string) ([]models.Post, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Post{}, nil
	}
	return r.list(ctx, PostQuery{PublishedOnly: true, Search: query, Order: OrderNewest})
}

// ListByCategory returns published posts in category, newest first.
func (r *PostRepository) ListByCategory(ctx context.Context, category string) ([]models.Post, error) {
	return r.list(ctx, PostQuery{PublishedOnly: true, Category: category, Order: OrderNewest})
}

// ListByTag returns published posts carrying tag, newest first.
func (r *PostRepository) ListByTag(ctx context.Context, tag string) ([]models.Post, error) {
	return r.list(ctx, PostQuery{PublishedOnly: true, Tag: tag, Order: OrderNewest})
}

func (r *PostRepository) list(ctx context.Context, q PostQuery) ([]models.Post, error) {
	posts, err := r.store.ListPosts(ctx, q)
	if err != nil {
		return nil, Wrap("list posts", err)
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return posts, nil
}

// IncrementView adds one view.
func (r *PostRepository) IncrementView(ctx context.Context, id string) error {
	if _, err := r.store.IncrementCounter(ctx, id, CounterViews); err != nil {
		return Wrap("increment views", err)
	}
	utils.PostViews.Inc()
	return nil
}

// IncrementLike adds one like and returns the new total.
func (r *PostRepository) IncrementLike(ctx context.Context, id string) (int64, error) {
	n, err := r.store.IncrementCounter(ctx, id, CounterLikes)
	if err != nil {
		return 0, Wrap("increment likes", err)
	}
	utils.PostLikes.Inc()
	r.invalidate(id)
	return n, nil
}

// ListCategories returns the distinct categories of published posts, sorted.
func (r *PostRepository) ListCategories(ctx context.Context) ([]string, error) {
	cats, err := r.store.ListCategories(ctx)
	if err != nil {
		return nil, Wrap("list categories", err)
	}
	return SortedUnique(cats), nil
}

// ListTags returns the distinct tags of published posts, sorted.
func (r *PostRepository) ListTags(ctx context.Context) ([]string, error) {
	tags, err := r.store.ListTags(ctx)
	if err != nil {
		return nil, Wrap("list tags", err)
	}
	return SortedUnique(tags), nil
}

// Stats returns blog-wide totals.
func (r *PostRepository) Stats(ctx context.Context) (models.BlogStats, error) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return models.BlogStats{}, Wrap("stats", err)
	}
	return stats, nil
}

func (r *PostRepository) invalidate(id string) {
	if r.cache == nil {
		return
	}
	r.genMu.Lock()
	r.writes[id]++
	r.genMu.Unlock()
	r.background("invalidate", id, func(ctx context.Context) error {
		return r.cache.InvalidatePost(ctx, id)
	})
}

// background runs fn without blocking the caller. Failures are logged and counted.
func (r *PostRepository) background(task, id string, fn func(ctx context.Context) error) {
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			utils.BackgroundFailures.WithLabelValues(task).Inc()
			utils.Logger.Warn("background task failed",
				zap.String("task", task), zap.String("post_id", id), zap.Error(err))
		}
	}()
}

// Wait blocks until background work started by the repository, and by the store when
// it runs its own, has finished.
func (r *PostRepository) Wait() {
	r.bg.Wait()
	if w, ok := r.store.(waiter); ok {
		w.Wait()
	}
}
