package redisstore

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/utils"
)

// InsertComment stores the comment and files it under its post, scored by creation time.
func (s *Store) InsertComment(ctx context.Context, c *models.Comment) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return translate("encode comment", err)
	}
	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.commentKey(c.ID), raw, 0)
		pipe.ZAdd(ctx, s.commentsKey(c.PostID), redis.Z{
			Score:  float64(c.CreatedAt.UnixMilli()),
			Member: c.ID,
		})
		return nil
	})
	return translate("insert comment", err)
}

func (s *Store) ListComments(ctx context.Context, postID string) ([]models.Comment, error) {
	ids, err := s.rc.ZRange(ctx, s.commentsKey(postID), 0, -1).Result()
	if err != nil {
		return nil, translate("list comments", err)
	}
	comments := make([]models.Comment, 0, len(ids))
	if len(ids) == 0 {
		return comments, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.commentKey(id)
	}
	vals, err := s.rc.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, translate("read comments", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var c models.Comment
		if err := json.Unmarshal([]byte(str), &c); err != nil {
			utils.Logger.Warn("skipping undecodable comment", zap.String("comment_id", ids[i]), zap.Error(err))
			continue
		}
		comments = append(comments, c)
	}
	return comments, nil
}
