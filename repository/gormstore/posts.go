// Package gormstore keeps posts and comments in a SQL database through gorm.
package gormstore

import (
	"context"
	"errors"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/repository"
)

// columns written by SavePost; counters and created_at are never written here
var mutableColumns = []string{
	"title", "excerpt", "content", "image", "image_fit", "crop_data",
	"category", "tags", "is_draft", "is_pinned", "pinned_at", "updated_at",
}

var counterColumns = map[repository.Counter]string{
	repository.CounterViews: "view_count",
	repository.CounterLikes: "likes",
}

// portable NULLS LAST for pinned_at
const pinnedOrder = "is_pinned DESC, CASE WHEN pinned_at IS NULL THEN 1 ELSE 0 END ASC, pinned_at DESC, created_at DESC"

// likeEscaper escapes LIKE wildcards with '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// Store implements repository.PostStore and repository.CommentStore.
type Store struct {
	db *gorm.DB
}

// New wraps db.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the posts and comments tables.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&models.Post{}, &models.Comment{})
}

func translate(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return repository.Wrap(op, err)
}

// ListPosts filters in SQL where it can. Tag filters run afterwards because tags
// live in a JSON column whose operators differ per database.
func (s *Store) ListPosts(ctx context.Context, q repository.PostQuery) ([]models.Post, error) {
	tx := s.db.WithContext(ctx).Model(&models.Post{}).Omit("content")
	if q.PublishedOnly {
		tx = tx.Where("is_draft = ?", false)
	}
	if q.ExcludeID != "" {
		tx = tx.Where("id <> ?", q.ExcludeID)
	}
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	if q.Search != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(q.Search)) + "%"
		tx = tx.Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(content) LIKE ? ESCAPE '!')", pattern, pattern)
	}
	switch q.Order {
	case repository.OrderPopular:
		tx = tx.Order("view_count DESC, created_at DESC")
	case repository.OrderNewest:
		tx = tx.Order("created_at DESC")
	default:
		tx = tx.Order(pinnedOrder)
	}
	if q.Limit > 0 && !q.NeedsTagFilter() {
		tx = tx.Limit(q.Limit)
	}

	var posts []models.Post
	if err := tx.Find(&posts).Error; err != nil {
		return nil, translate("list posts", err)
	}
	if q.NeedsTagFilter() {
		kept := posts[:0]
		for i := range posts {
			if q.Matches(&posts[i]) {
				kept = append(kept, posts[i])
			}
		}
		posts = repository.Truncate(kept, q.Limit)
	}
	return posts, nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		return nil, translate("get post", err)
	}
	return &post, nil
}

func (s *Store) InsertPost(ctx context.Context, post *models.Post) error {
	return translate("insert post", s.db.WithContext(ctx).Create(post).Error)
}

// SavePost writes the mutable columns only, so it never races a counter increment.
func (s *Store) SavePost(ctx context.Context, post *models.Post) error {
	db := s.db.WithContext(ctx)
	res := db.Model(&models.Post{}).Where("id = ?", post.ID).Select(mutableColumns).UpdateColumns(post)
	if res.Error != nil {
		return translate("save post", res.Error)
	}
	if res.RowsAffected == 0 {
		// mysql reports zero rows when nothing changed
		var n int64
		if err := db.Model(&models.Post{}).Where("id = ?", post.ID).Count(&n).Error; err != nil {
			return translate("save post", err)
		}
		if n == 0 {
			return repository.ErrNotFound
		}
	}
	return nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Post{}).Error
	})
	return translate("delete post", err)
}

// IncrementCounter runs a single UPDATE col = col + 1 and reads the value back inside
// the same transaction, where the row lock makes the read see exactly this increment.
func (s *Store) IncrementCounter(ctx context.Context, id string, c repository.Counter) (int64, error) {
	col, ok := counterColumns[c]
	if !ok {
		return 0, &repository.ValidationError{Field: "counter", Message: "unknown counter " + string(c)}
	}
	var value int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", id).UpdateColumn(col, gorm.Expr(col+" + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return tx.Model(&models.Post{}).Where("id = ?", id).Select(col).Scan(&value).Error
	})
	if err != nil {
		return 0, translate("increment "+col, err)
	}
	return value, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	var cats []string
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("is_draft = ? AND category <> ''", false).
		Distinct().Order("category").Pluck("category", &cats).Error
	if err != nil {
		return nil, translate("list categories", err)
	}
	return cats, nil
}

func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	var rows []datatypes.JSONSlice[string]
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("is_draft = ?", false).Pluck("tags", &rows).Error
	if err != nil {
		return nil, translate("list tags", err)
	}
	var tags []string
	for _, r := range rows {
		tags = append(tags, r...)
	}
	return repository.SortedUnique(tags), nil
}

func (s *Store) Stats(ctx context.Context) (models.BlogStats, error) {
	var stats models.BlogStats
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.Post{}).Count(&stats.PostCount).Error; err != nil {
		return stats, translate("count posts", err)
	}
	if err := db.Model(&models.Comment{}).Count(&stats.CommentCount).Error; err != nil {
		return stats, translate("count comments", err)
	}
	var sums struct {
		TotalViews int64
		TotalLikes int64
	}
	err := db.Model(&models.Post{}).
		Select("COALESCE(SUM(view_count), 0) AS total_views, COALESCE(SUM(likes), 0) AS total_likes").
		Scan(&sums).Error
	if err != nil {
		return stats, translate("sum counters", err)
	}
	stats.TotalViews, stats.TotalLikes = sums.TotalViews, sums.TotalLikes
	return stats, nil
}
