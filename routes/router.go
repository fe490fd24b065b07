package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cppla/minblog/config"
	"github.com/cppla/minblog/controllers"
	"github.com/cppla/minblog/middleware"
	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(posts *repository.PostRepository, comments *repository.CommentRepository) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// access log goes to its own rolling file
	gl, err := utils.NewRollingFileLogger(cfg, cfg.GinPath)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	// authentication happens before routing, so unknown write paths under /posts get 401
	r.Use(middleware.ProtectWrites("/posts"))
	r.Use(middleware.OptionalAdmin())

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	postController := controllers.NewPostController(posts)
	commentController := controllers.NewCommentController(comments)
	statsController := controllers.NewStatsController(posts)
	authController := controllers.NewAuthController()

	limited := middleware.RateLimitMiddleware(cfg.RateLimitPerMinute)

	r.POST("/login", limited, authController.Login)
	r.POST("/logout", middleware.AdminRequired(), authController.Logout)

	r.GET("/stats", statsController.GetStats)
	r.GET("/categories", statsController.ListCategories)
	r.GET("/categories/:name/posts", postController.ListByCategory)
	r.GET("/tags", statsController.ListTags)
	r.GET("/tags/:name/posts", postController.ListByTag)

	postsGroup := r.Group("/posts")
	postsGroup.GET("", postController.ListPosts)
	postsGroup.GET("/popular", postController.ListPopular)
	postsGroup.GET("/search", postController.SearchPosts)
	postsGroup.GET("/:id", postController.GetPost)
	postsGroup.GET("/:id/related", postController.ListRelated)
	postsGroup.GET("/:id/rendered", postController.RenderPost)
	postsGroup.GET("/:id/comments", commentController.ListComments)
	postsGroup.POST("/:id/like", limited, postController.LikePost)

	// guarded by ProtectWrites
	postsGroup.POST("", postController.CreatePost)
	postsGroup.PUT("/:id", postController.UpdatePost)
	postsGroup.DELETE("/:id", postController.DeletePost)
	postsGroup.PUT("/:id/pin", postController.PinPost)
	postsGroup.PUT("/:id/publish", postController.PublishPost)

	r.POST("/comments", limited, commentController.CreateComment)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, utils.KindNotFound, "route not found")
	})

	return r
}
