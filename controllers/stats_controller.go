package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/utils"
)

// StatsController exposes blog-wide aggregates.
type StatsController struct {
	posts *repository.PostRepository
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(posts *repository.PostRepository) *StatsController {
	return &StatsController{posts: posts}
}

// GetStats returns post, comment, view and like totals.
func (s *StatsController) GetStats(ctx *gin.Context) {
	stats, err := s.posts.Stats(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, stats)
}

// ListCategories returns the categories in use.
func (s *StatsController) ListCategories(ctx *gin.Context) {
	cats, err := s.posts.ListCategories(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, cats)
}

// ListTags returns the tags in use.
func (s *StatsController) ListTags(ctx *gin.Context) {
	tags, err := s.posts.ListTags(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, tags)
}
