// Package redisstore keeps posts and comments in Redis as JSON values, with
// prebuilt list indexes in the manner of an edge KV store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/utils"
)

const rebuildTimeout = 30 * time.Second

// incrScript bumps a counter only when the post exists; -1 signals a missing post.
var incrScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
return redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
`)

// Store implements repository.PostStore and repository.CommentStore on Redis.
//
// Writes rebuild the list indexes in the background. Until a rebuild lands, list
// reads may see the previous index; Wait blocks until pending rebuilds finish.
type Store struct {
	rc     *redis.Client
	prefix string

	rebuildMu sync.Mutex
	pending   sync.WaitGroup
}

// New returns a store keeping its keys under prefix.
func New(rc *redis.Client, prefix string) *Store {
	return &Store{rc: rc, prefix: prefix}
}

func (s *Store) postKey(id string) string     { return s.prefix + "post:" + id }
func (s *Store) countersKey(id string) string { return s.prefix + "counters:" + id }
func (s *Store) commentsKey(id string) string { return s.prefix + "post:" + id + ":comments" }
func (s *Store) commentKey(id string) string  { return s.prefix + "comment:" + id }
func (s *Store) idsKey() string               { return s.prefix + "posts" }
func (s *Store) postIndexKey() string         { return s.prefix + "index:posts" }
func (s *Store) categoryIndexKey() string     { return s.prefix + "index:categories" }
func (s *Store) tagIndexKey() string          { return s.prefix + "index:tags" }

func translate(op string, err error) error {
	if errors.Is(err, redis.Nil) {
		return repository.ErrNotFound
	}
	return repository.Wrap(op, err)
}

// body strips the counters, which live in their own hash.
func body(p *models.Post) ([]byte, error) {
	cp := *p
	cp.ViewCount, cp.Likes = 0, 0
	return json.Marshal(&cp)
}

func (s *Store) GetPost(ctx context.Context, id string) (*models.Post, error) {
	pipe := s.rc.Pipeline()
	get := pipe.Get(ctx, s.postKey(id))
	counters := pipe.HMGet(ctx, s.countersKey(id), string(repository.CounterViews), string(repository.CounterLikes))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, translate("get post", err)
	}
	raw, err := get.Bytes()
	if err != nil {
		return nil, translate("get post", err)
	}
	var post models.Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, translate("decode post", err)
	}
	post.ViewCount, post.Likes = counterValues(counters.Val())
	return &post, nil
}

func counterValues(vals []interface{}) (views, likes int64) {
	parse := func(i int) int64 {
		if i >= len(vals) {
			return 0
		}
		s, _ := vals[i].(string)
		n, _ := strconv.ParseInt(s, 10, 64)
		return n
	}
	return parse(0), parse(1)
}

func (s *Store) InsertPost(ctx context.Context, post *models.Post) error {
	raw, err := body(post)
	if err != nil {
		return translate("encode post", err)
	}
	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.postKey(post.ID), raw, 0)
		pipe.HSet(ctx, s.countersKey(post.ID),
			string(repository.CounterViews), post.ViewCount,
			string(repository.CounterLikes), post.Likes)
		pipe.SAdd(ctx, s.idsKey(), post.ID)
		return nil
	})
	if err != nil {
		return translate("insert post", err)
	}
	s.scheduleRebuild()
	return nil
}

// SavePost overwrites the body only when it already exists. Counters are untouched.
func (s *Store) SavePost(ctx context.Context, post *models.Post) error {
	raw, err := body(post)
	if err != nil {
		return translate("encode post", err)
	}
	ok, err := s.rc.SetXX(ctx, s.postKey(post.ID), raw, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return translate("save post", err)
	}
	if !ok {
		return repository.ErrNotFound
	}
	s.scheduleRebuild()
	return nil
}

func (s *Store) DeletePost(ctx context.Context, id string) error {
	commentIDs, err := s.rc.ZRange(ctx, s.commentsKey(id), 0, -1).Result()
	if err != nil {
		return translate("delete post", err)
	}
	keys := []string{s.postKey(id), s.countersKey(id), s.commentsKey(id)}
	for _, cid := range commentIDs {
		keys = append(keys, s.commentKey(cid))
	}
	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.idsKey(), id)
		return nil
	})
	if err != nil {
		return translate("delete post", err)
	}
	s.scheduleRebuild()
	return nil
}

func (s *Store) IncrementCounter(ctx context.Context, id string, c repository.Counter) (int64, error) {
	if c != repository.CounterViews && c != repository.CounterLikes {
		return 0, &repository.ValidationError{Field: "counter", Message: "unknown counter " + string(c)}
	}
	n, err := incrScript.Run(ctx, s.rc, []string{s.postKey(id), s.countersKey(id)}, string(c)).Int64()
	if err != nil {
		return 0, translate("increment "+string(c), err)
	}
	if n < 0 {
		return 0, repository.ErrNotFound
	}
	return n, nil
}

// ListPosts reads the prebuilt index and merges live counters. Searches need content,
// which the index does not carry, so they read the post bodies instead.
func (s *Store) ListPosts(ctx context.Context, q repository.PostQuery) ([]models.Post, error) {
	var (
		posts []models.Post
		err   error
	)
	if q.Search != "" {
		posts, err = s.loadAll(ctx)
	} else {
		posts, err = s.loadIndex(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := s.mergeCounters(ctx, posts); err != nil {
		return nil, err
	}

	kept := make([]models.Post, 0, len(posts))
	for i := range posts {
		if q.Matches(&posts[i]) && q.MatchesSearch(&posts[i]) {
			kept = append(kept, posts[i].Summary())
		}
	}
	repository.SortPosts(kept, q.Order)
	return repository.Truncate(kept, q.Limit), nil
}

func (s *Store) loadIndex(ctx context.Context) ([]models.Post, error) {
	raw, err := s.rc.Get(ctx, s.postIndexKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		idx, err := s.rebuild(ctx)
		if err != nil {
			return nil, err
		}
		return idx.posts, nil
	}
	if err != nil {
		return nil, translate("read index", err)
	}
	var posts []models.Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, translate("decode index", err)
	}
	return posts, nil
}

// loadAll reads every post body, content included.
func (s *Store) loadAll(ctx context.Context) ([]models.Post, error) {
	ids, err := s.rc.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, translate("list ids", err)
	}
	if len(ids) == 0 {
		return []models.Post{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.postKey(id)
	}
	vals, err := s.rc.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, translate("read posts", err)
	}
	posts := make([]models.Post, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p models.Post
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			utils.Logger.Warn("skipping undecodable post", zap.String("post_id", ids[i]), zap.Error(err))
			continue
		}
		posts = append(posts, p)
	}
	return posts, nil
}

func (s *Store) mergeCounters(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	pipe := s.rc.Pipeline()
	cmds := make([]*redis.SliceCmd, len(posts))
	for i := range posts {
		cmds[i] = pipe.HMGet(ctx, s.countersKey(posts[i].ID), string(repository.CounterViews), string(repository.CounterLikes))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return translate("read counters", err)
	}
	for i, cmd := range cmds {
		posts[i].ViewCount, posts[i].Likes = counterValues(cmd.Val())
	}
	return nil
}

type index struct {
	posts      []models.Post
	categories []string
	tags       []string
}

// Rebuild recomputes the post, category and tag indexes from the post bodies.
func (s *Store) Rebuild(ctx context.Context) error {
	_, err := s.rebuild(ctx)
	return err
}

func (s *Store) rebuild(ctx context.Context) (idx index, err error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		utils.IndexRebuilds.WithLabelValues(result).Inc()
	}()

	posts, err := s.loadAll(ctx)
	if err != nil {
		return idx, err
	}
	repository.SortPosts(posts, repository.OrderPinned)

	var cats, tags []string
	idx.posts = make([]models.Post, 0, len(posts))
	for _, p := range posts {
		idx.posts = append(idx.posts, p.Summary())
		if !p.IsDraft {
			cats = append(cats, p.Category)
			tags = append(tags, p.Tags...)
		}
	}
	idx.categories = repository.SortedUnique(cats)
	idx.tags = repository.SortedUnique(tags)

	var postsRaw, catsRaw, tagsRaw []byte
	g := new(errgroup.Group)
	g.Go(func() (err error) { postsRaw, err = json.Marshal(idx.posts); return })
	g.Go(func() (err error) { catsRaw, err = json.Marshal(idx.categories); return })
	g.Go(func() (err error) { tagsRaw, err = json.Marshal(idx.tags); return })
	if err := g.Wait(); err != nil {
		return idx, translate("encode index", err)
	}

	_, err = s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.postIndexKey(), postsRaw, 0)
		pipe.Set(ctx, s.categoryIndexKey(), catsRaw, 0)
		pipe.Set(ctx, s.tagIndexKey(), tagsRaw, 0)
		return nil
	})
	if err != nil {
		return idx, translate("write index", err)
	}
	return idx, nil
}

// scheduleRebuild refreshes the indexes without holding up the write that caused it.
func (s *Store) scheduleRebuild() {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
		defer cancel()
		if err := s.Rebuild(ctx); err != nil {
			utils.BackgroundFailures.WithLabelValues("index_rebuild").Inc()
			utils.Logger.Warn("index rebuild failed", zap.Error(err))
		}
	}()
}

// Wait blocks until scheduled index rebuilds have finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// StartIndexRefresher rebuilds the indexes every interval until ctx is done, which
// bounds how stale an index can get if a background rebuild failed.
func (s *Store) StartIndexRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rctx, cancel := context.WithTimeout(ctx, rebuildTimeout)
				if err := s.Rebuild(rctx); err != nil {
					utils.Logger.Warn("periodic index rebuild failed", zap.Error(err))
				}
				cancel()
			}
		}
	}()
}

func (s *Store) readList(ctx context.Context, key string, pick func(index) []string) ([]string, error) {
	raw, err := s.rc.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		idx, err := s.rebuild(ctx)
		if err != nil {
			return nil, err
		}
		return pick(idx), nil
	}
	if err != nil {
		return nil, translate("read index", err)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, translate("decode index", err)
	}
	return out, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	return s.readList(ctx, s.categoryIndexKey(), func(idx index) []string { return idx.categories })
}

func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	return s.readList(ctx, s.tagIndexKey(), func(idx index) []string { return idx.tags })
}

func (s *Store) Stats(ctx context.Context) (models.BlogStats, error) {
	var stats models.BlogStats
	ids, err := s.rc.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return stats, translate("list ids", err)
	}
	stats.PostCount = int64(len(ids))
	if len(ids) == 0 {
		return stats, nil
	}

	pipe := s.rc.Pipeline()
	counters := make([]*redis.SliceCmd, len(ids))
	comments := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		counters[i] = pipe.HMGet(ctx, s.countersKey(id), string(repository.CounterViews), string(repository.CounterLikes))
		comments[i] = pipe.ZCard(ctx, s.commentsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return stats, translate("stats", err)
	}
	for i := range ids {
		views, likes := counterValues(counters[i].Val())
		stats.TotalViews += views
		stats.TotalLikes += likes
		stats.CommentCount += comments[i].Val()
	}
	return stats, nil
}
