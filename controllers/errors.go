package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/cppla/minblog/repository"
	"github.com/cppla/minblog/utils"
)

var registerTagNames sync.Once

// useJSONFieldNames makes validator report json field names instead of Go ones.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	})
}

// respondError maps repository errors onto HTTP statuses.
func respondError(ctx *gin.Context, err error) {
	var (
		ve *repository.ValidationError
		se *repository.StorageError
	)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, utils.KindNotFound, "post not found")
	case errors.As(err, &ve):
		utils.Error(ctx, http.StatusBadRequest, utils.KindValidation, ve.Message)
	case errors.As(err, &se):
		utils.Logger.Error("storage failure", zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, utils.KindStorage, se.Error())
	default:
		utils.Logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, utils.KindInternal, err.Error())
	}
}

func notFound(ctx *gin.Context) {
	utils.Error(ctx, http.StatusNotFound, utils.KindNotFound, "post not found")
}

// bindJSON decodes the body into dst and answers 400 on failure.
func bindJSON(ctx *gin.Context, dst interface{}) bool {
	useJSONFieldNames()
	if err := ctx.ShouldBindJSON(dst); err != nil {
		utils.Error(ctx, http.StatusBadRequest, utils.KindValidation, bindMessage(err))
		return false
	}
	return true
}

func bindMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Sprintf("%s is required", fe.Field())
		case "oneof":
			return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			return fmt.Sprintf("%s is invalid", fe.Field())
		}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("%s has the wrong type", typeErr.Field)
	}
	return "invalid request payload"
}
