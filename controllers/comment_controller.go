package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/minblog/models"
	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/utils"
)

// CommentController serves comment creation and the per-post comment tree.
type CommentController struct {
	comments *repository.CommentRepository
}

// NewCommentController creates a new CommentController instance.
func NewCommentController(comments *repository.CommentRepository) *CommentController {
	return &CommentController{comments: comments}
}

// CreateComment stores a reader comment.
func (c *CommentController) CreateComment(ctx *gin.Context) {
	var in models.CommentInput
	if !bindJSON(ctx, &in) {
		return
	}
	comment, err := c.comments.Create(ctx.Request.Context(), in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Respond(ctx, http.StatusCreated, comment)
}

// ListComments returns the comment tree of a post.
func (c *CommentController) ListComments(ctx *gin.Context) {
	tree, err := c.comments.ListByPost(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	utils.Success(ctx, tree)
}
