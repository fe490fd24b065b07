package gormstore

import (
	"context"

	"github.com/cppla/minblog/models"
)

func (s *Store) InsertComment(ctx context.Context, c *models.Comment) error {
	return translate("insert comment", s.db.WithContext(ctx).Create(c).Error)
}

func (s *Store) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	comments := []models.Comment{}
	err := s.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, translate("list comments", err)
	}
	return comments, nil
}
