package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/minblog/config"
	"github.com/cppla/minblog/middleware"
	"github.com/cppla/minblog/utils"
)

// AuthController handles admin login and logout.
type AuthController struct{}

// NewAuthController creates a new AuthController instance.
func NewAuthController() *AuthController {
	return &AuthController{}
}

// Login checks the configured admin credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	type request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	var req request
	if !bindJSON(ctx, &req) {
		return
	}

	cfg := config.Get()
	if !utils.SecureEqual(req.Username, cfg.AdminUser) || !passwordMatches(cfg, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, utils.KindUnauthorized, "invalid username or password")
		return
	}

	token, err := utils.GenerateToken(cfg.AdminUser, time.Duration(cfg.TokenTTLHours)*time.Hour)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, utils.KindInternal, "failed to generate token")
		return
	}

	utils.Success(ctx, gin.H{"success": true, "token": token})
}

// passwordMatches prefers the bcrypt hash and falls back to the plain password.
// With neither configured, login is disabled.
func passwordMatches(cfg config.AppConfig, password string) bool {
	switch {
	case cfg.AdminPassHash != "":
		return utils.CheckPassword(cfg.AdminPassHash, password)
	case cfg.AdminPass != "":
		return utils.SecureEqual(password, cfg.AdminPass)
	default:
		return false
	}
}

// Logout revokes the presented JWT until it would have expired. The static API
// token cannot be revoked this way.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	claims, err := utils.ParseToken(token)
	if err != nil {
		utils.Success(ctx, gin.H{"success": true})
		return
	}

	expiresAt := time.Now().Add(time.Duration(config.Get().TokenTTLHours) * time.Hour)
	if claims.RegisteredClaims.ExpiresAt != nil {
		expiresAt = claims.RegisteredClaims.ExpiresAt.Time
	}

	utils.BlacklistToken(token, expiresAt)
	utils.Success(ctx, gin.H{"success": true})
}
