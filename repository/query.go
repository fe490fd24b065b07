package repository

import (
	"sort"
	"strings"

	"github.com/cppla/minblog/models"
)

// Matches reports whether p passes every filter of q except Search, which needs
// Content and is checked by MatchesSearch.
func (q PostQuery) Matches(p *models.Post) bool {
	if q.PublishedOnly && p.IsDraft {
		return false
	}
	if q.ExcludeID != "" && p.ID == q.ExcludeID {
		return false
	}
	if q.Category != "" && p.Category != q.Category {
		return false
	}
	if q.Tag != "" && !hasTag(p.Tags, q.Tag) {
		return false
	}
	if len(q.AnyTags) > 0 && !sharesTag(p.Tags, q.AnyTags) {
		return false
	}
	return true
}

// MatchesSearch reports whether title or content contains the search term, ignoring case.
func (q PostQuery) MatchesSearch(p *models.Post) bool {
	if q.Search == "" {
		return true
	}
	term := strings.ToLower(q.Search)
	return strings.Contains(strings.ToLower(p.Title), term) ||
		strings.Contains(strings.ToLower(p.Content), term)
}

// NeedsTagFilter reports whether the query filters on tags.
func (q PostQuery) NeedsTagFilter() bool {
	return q.Tag != "" || len(q.AnyTags) > 0
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sharesTag(tags, want []string) bool {
	for _, w := range want {
		if hasTag(tags, w) {
			return true
		}
	}
	return false
}

// SortPosts orders posts in place.
func SortPosts(posts []models.Post, order Order) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := &posts[i], &posts[j]
		switch order {
		case OrderPinned:
			if a.IsPinned != b.IsPinned {
				return a.IsPinned
			}
			// nulls last
			if (a.PinnedAt == nil) != (b.PinnedAt == nil) {
				return a.PinnedAt != nil
			}
			if a.PinnedAt != nil && !a.PinnedAt.Equal(*b.PinnedAt) {
				return a.PinnedAt.After(*b.PinnedAt)
			}
		case OrderPopular:
			if a.ViewCount != b.ViewCount {
				return a.ViewCount > b.ViewCount
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

// Truncate returns at most limit posts; limit <= 0 means no limit.
func Truncate(posts []models.Post, limit int) []models.Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}

// SortedUnique returns the distinct non-empty values sorted ascending.
func SortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
