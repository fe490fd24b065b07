package utils

import "github.com/gin-gonic/gin"

// Error kinds carried in error bodies.
const (
	KindNotFound     = "not_found"
	KindValidation   = "validation"
	KindUnauthorized = "unauthorized"
	KindStorage      = "storage"
	KindInternal     = "internal"
	KindRateLimited  = "rate_limited"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorResponse wraps ErrorBody as {"error": {...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Respond writes data as JSON with the given status code.
func Respond(ctx *gin.Context, status int, data interface{}) {
	ctx.JSON(status, data)
}

// Success returns a 200 response carrying data as-is.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, data)
}

// Error returns a structured error response.
func Error(ctx *gin.Context, status int, kind string, message string) {
	Respond(ctx, status, ErrorResponse{Error: ErrorBody{Kind: kind, Message: message}})
}
