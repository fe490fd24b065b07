package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/minblog/config"
	"github.com/cppla/minblog/utils"
)

const (
	// ContextUsernameKey stores the authenticated username inside Gin context.
	ContextUsernameKey = "username"
	// ContextTokenKey stores the raw bearer token of an authenticated request.
	ContextTokenKey = "token"
	// ContextAdminKey is set to true once the request carried a valid admin token.
	ContextAdminKey = "is_admin"

	apiTokenUser = "api-token"
)

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(ctx *gin.Context) (string, bool) {
	parts := strings.SplitN(ctx.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// authenticate accepts the configured static API token or an admin JWT that has not
// been revoked. On success the identity is stored in the context.
func authenticate(ctx *gin.Context) bool {
	if IsAdmin(ctx) {
		return true
	}
	token, ok := bearerToken(ctx)
	if !ok || utils.IsTokenBlacklisted(token) {
		return false
	}

	username := apiTokenUser
	if apiToken := config.Get().APIToken; apiToken == "" || !utils.SecureEqual(token, apiToken) {
		claims, err := utils.ParseToken(token)
		if err != nil {
			return false
		}
		username = claims.Username
	}

	ctx.Set(ContextUsernameKey, username)
	ctx.Set(ContextTokenKey, token)
	ctx.Set(ContextAdminKey, true)
	return true
}

func unauthorized(ctx *gin.Context) {
	utils.Error(ctx, http.StatusUnauthorized, utils.KindUnauthorized, "Unauthorized")
	ctx.Abort()
}

// AdminRequired rejects requests without a valid admin bearer token.
func AdminRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !authenticate(ctx) {
			unauthorized(ctx)
			return
		}
		ctx.Next()
	}
}

// ProtectWrites guards every mutating request under prefix, except the like
// sub-path which stays public. Installed globally it runs ahead of the route
// handlers, so unknown paths under prefix are rejected too.
func ProtectWrites(prefix string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if IsProtectedWrite(ctx.Request.Method, ctx.Request.URL.Path, prefix) && !authenticate(ctx) {
			unauthorized(ctx)
			return
		}
		ctx.Next()
	}
}

// IsProtectedWrite reports whether method and path need a bearer token.
func IsProtectedWrite(method, path, prefix string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return false
	}
	path = "/" + strings.Trim(path, "/")
	if path != prefix && !strings.HasPrefix(path, prefix+"/") {
		return false
	}
	rest := strings.Split(strings.TrimPrefix(path, prefix+"/"), "/")
	return !(len(rest) == 2 && rest[0] != "" && rest[1] == "like")
}

// OptionalAdmin marks the request as admin when it carries a valid token and lets
// every request through.
func OptionalAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if _, ok := bearerToken(ctx); ok {
			authenticate(ctx)
		}
		ctx.Next()
	}
}

// IsAdmin reports whether an earlier middleware authenticated the request.
func IsAdmin(ctx *gin.Context) bool {
	return ctx.GetBool(ContextAdminKey)
}
