package repository

import (
	"context"

	"github.com/cppla/minblog/models"
)

// Order selects how post lists are sorted.
type Order int

const (
	// OrderPinned puts pinned posts first, most recently pinned first, then newest.
	OrderPinned Order = iota
	// OrderNewest sorts by creation time, newest first.
	OrderNewest
	// OrderPopular sorts by view count, highest first.
	OrderPopular
)

// Counter names a monotonically increasing post counter.
type Counter string

const (
	CounterViews Counter = "views"
	CounterLikes Counter = "likes"
)

// PostQuery filters a post listing. Zero values disable a filter.
type PostQuery struct {
	PublishedOnly bool
	ExcludeID     string
	Category      string
	Tag           string
	// AnyTags keeps posts sharing at least one tag with the set.
	AnyTags []string
	// Search is a case-insensitive substring matched against title or content.
	Search string
	Order  Order
	Limit  int
}

// PostStore persists posts. Listings return posts without Content.
//
// Implementations return ErrNotFound for a missing id and a *StorageError for
// any backend failure.
type PostStore interface {
	ListPosts(ctx context.Context, q PostQuery) ([]models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	InsertPost(ctx context.Context, post *models.Post) error
	// SavePost writes the mutable fields of an existing post. Counters and
	// created_at are never written.
	SavePost(ctx context.Context, post *models.Post) error
	// DeletePost removes a post and its comments. Deleting a missing id is not an error.
	DeletePost(ctx context.Context, id string) error
	// IncrementCounter atomically adds one to the counter and returns the new value.
	IncrementCounter(ctx context.Context, id string, c Counter) (int64, error)
	ListCategories(ctx context.Context) ([]string, error)
	ListTags(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (models.BlogStats, error)
}

// CommentStore persists comments.
type CommentStore interface {
	InsertComment(ctx context.Context, c *models.Comment) error
	// ListComments returns the comments of a post ordered by created_at ascending.
	ListComments(ctx context.Context, postID string) ([]models.Comment, error)
}

// PostCache is a short-TTL cache in front of single-post reads.
type PostCache interface {
	GetPost(ctx context.Context, id string) (*models.Post, bool)
	SetPost(ctx context.Context, post *models.Post)
	InvalidatePost(ctx context.Context, id string) error
}

// waiter is implemented by stores that run their own background work.
type waiter interface {
	Wait()
}
