package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/utils"
)

// CommentRepository creates comments and reads them back as reply trees.
type CommentRepository struct {
	store CommentStore
	now   func() time.Time
}

// NewCommentRepository wraps store. A nil now uses time.Now.
func NewCommentRepository(store CommentStore, now func() time.Time) *CommentRepository {
	if now == nil {
		now = time.Now
	}
	return &CommentRepository{store: store, now: now}
}

// Create stores a comment. The parent id is kept as given; the tree builder deals
// with parents that do not exist.
func (r *CommentRepository) Create(ctx context.Context, in models.CommentInput) (*models.Comment, error) {
	c := &models.Comment{
		ID:          uuid.NewString(),
		PostID:      strings.TrimSpace(in.PostID),
		AuthorName:  utils.StripTags(strings.TrimSpace(in.AuthorName)),
		AuthorEmail: strings.TrimSpace(in.AuthorEmail),
		Content:     utils.Sanitize(strings.TrimSpace(in.Content)),
		CreatedAt:   r.now().UTC(),
	}
	switch {
	case c.PostID == "":
		return nil, invalid("post_id", "post_id is required")
	case c.AuthorName == "":
		return nil, invalid("author_name", "author_name is required")
	case c.AuthorEmail == "":
		return nil, invalid("author_email", "author_email is required")
	case c.Content == "":
		return nil, invalid("content", "content is required")
	}
	if in.ParentID != nil {
		if pid := strings.TrimSpace(*in.ParentID); pid != "" {
			c.ParentID = &pid
		}
	}

	if err := r.store.InsertComment(ctx, c); err != nil {
		return nil, Wrap("insert comment", err)
	}
	return c, nil
}

// ListByPost returns the comment tree of a post.
func (r *CommentRepository) ListByPost(ctx context.Context, postID string) ([]*models.CommentNode, error) {
	comments, err := r.store.ListComments(ctx, postID)
	if err != nil {
		return nil, Wrap("list comments", err)
	}
	return BuildCommentTree(comments), nil
}

// BuildCommentTree links comments into reply trees ordered by created_at ascending at
// every level. Comments whose parent is missing, is themselves, or sits on a parent
// cycle become roots, so no comment is ever dropped.
func BuildCommentTree(comments []models.Comment) []*models.CommentNode {
	sorted := make([]models.Comment, len(comments))
	copy(sorted, comments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	nodes := make(map[string]*models.CommentNode, len(sorted))
	for _, c := range sorted {
		nodes[c.ID] = &models.CommentNode{Comment: c, Replies: []*models.CommentNode{}}
	}

	parent := make(map[string]string, len(sorted))
	for _, c := range sorted {
		if c.ParentID == nil || *c.ParentID == c.ID {
			continue
		}
		if _, ok := nodes[*c.ParentID]; ok {
			parent[c.ID] = *c.ParentID
		}
	}
	// cut the earliest member of every cycle loose
	for _, c := range sorted {
		seen := map[string]bool{c.ID: true}
		for p, ok := parent[c.ID]; ok; p, ok = parent[p] {
			if p == c.ID {
				delete(parent, c.ID)
				break
			}
			if seen[p] {
				break
			}
			seen[p] = true
		}
	}

	roots := make([]*models.CommentNode, 0)
	for _, c := range sorted {
		node := nodes[c.ID]
		if p, ok := parent[c.ID]; ok {
			nodes[p].Replies = append(nodes[p].Replies, node)
			continue
		}
		roots = append(roots, node)
	}
	return roots
}
