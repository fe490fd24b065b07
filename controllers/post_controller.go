package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/minblog/middleware"
	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/utils"
)

const (
	defaultPopularLimit = 5
	maxPopularLimit     = 50
	defaultRelatedLimit = 3
	maxRelatedLimit     = 20
)

// PostController serves the post endpoints.
type PostController struct {
	posts *repository.PostRepository
}

// NewPostController creates a new PostController instance.
func NewPostController(posts *repository.PostRepository) *PostController {
	return &PostController{posts: posts}
}

// ListPosts returns every post, pinned first. Drafts are only listed for admins.
func (p *PostController) ListPosts(ctx *gin.Context) {
	posts, err := p.posts.ListAll(ctx.Request.Context(), middleware.IsAdmin(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, posts)
}

// GetPost returns a single post and counts a view.
func (p *PostController) GetPost(ctx *gin.Context) {
	post, err := p.posts.GetByID(ctx.Request.Context(), ctx.Param("id"), middleware.IsAdmin(ctx))
	if err != nil {
		respondError(ctx, err)
		return
	}
	if post == nil {
		notFound(ctx)
		return
	}
	utils.Success(ctx, post)
}

// visiblePost loads a post without counting a view, hiding drafts from readers.
func (p *PostController) visiblePost(ctx *gin.Context) (*models.Post, bool) {
	post, err := p.posts.Lookup(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	if post == nil || (post.IsDraft && !middleware.IsAdmin(ctx)) {
		notFound(ctx)
		return nil, false
	}
	return post, true
}

// CreatePost stores a new post.
func (p *PostController) CreatePost(ctx *gin.Context) {
	var in models.PostInput
	if !bindJSON(ctx, &in) {
		return
	}
	post, err := p.posts.Create(ctx.Request.Context(), in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Respond(ctx, http.StatusCreated, post)
}

// UpdatePost applies a partial update.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	var in models.PostInput
	if !bindJSON(ctx, &in) {
		return
	}
	post, err := p.posts.Update(ctx.Request.Context(), ctx.Param("id"), in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, post)
}

// DeletePost removes a post. Unknown ids succeed as well.
func (p *PostController) DeletePost(ctx *gin.Context) {
	if err := p.posts.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"success": true})
}

// PinPost pins or unpins a post.
func (p *PostController) PinPost(ctx *gin.Context) {
	var req struct {
		Pinned *bool `json:"pinned" binding:"required"`
	}
	if !bindJSON(ctx, &req) {
		return
	}
	post, err := p.posts.TogglePin(ctx.Request.Context(), ctx.Param("id"), *req.Pinned)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, post)
}

// PublishPost turns a draft into a published post.
func (p *PostController) PublishPost(ctx *gin.Context) {
	post, err := p.posts.PublishDraft(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, post)
}

// LikePost adds a like and returns the new total.
func (p *PostController) LikePost(ctx *gin.Context) {
	likes, err := p.posts.IncrementLike(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"success": true, "likes": likes})
}

// ListPopular returns the most viewed posts.
func (p *PostController) ListPopular(ctx *gin.Context) {
	limit := parseLimit(ctx.Query("limit"), defaultPopularLimit, maxPopularLimit)
	posts, err := p.posts.ListPopular(ctx.Request.Context(), limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, posts)
}

// SearchPosts matches title or content against ?q=.
func (p *PostController) SearchPosts(ctx *gin.Context) {
	posts, err := p.posts.Search(ctx.Request.Context(), ctx.Query("q"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, posts)
}

// ListRelated returns posts sharing a tag with the given post.
func (p *PostController) ListRelated(ctx *gin.Context) {
	post, ok := p.visiblePost(ctx)
	if !ok {
		return
	}
	limit := parseLimit(ctx.Query("limit"), defaultRelatedLimit, maxRelatedLimit)
	posts, err := p.posts.ListRelated(ctx.Request.Context(), post.ID, post.TagList(), limit)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, posts)
}

// RenderPost returns the post content as sanitized HTML plus its table of contents.
func (p *PostController) RenderPost(ctx *gin.Context) {
	post, ok := p.visiblePost(ctx)
	if !ok {
		return
	}
	html, err := utils.RenderMarkdown(post.Content)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"id":   post.ID,
		"html": html,
		"toc":  utils.BuildTOC(post.Content),
	})
}

// ListByCategory returns the published posts of a category.
func (p *PostController) ListByCategory(ctx *gin.Context) {
	posts, err := p.posts.ListByCategory(ctx.Request.Context(), ctx.Param("name"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, posts)
}

// ListByTag returns the published posts carrying a tag.
func (p *PostController) ListByTag(ctx *gin.Context) {
	posts, err := p.posts.ListByTag(ctx.Request.Context(), ctx.Param("name"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, posts)
}

func parseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
