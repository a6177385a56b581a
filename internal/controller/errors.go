package controller

import (
	"errors"
	"net/http"

	"exam_portal_backend/internal/attempt"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// respondError 把领域错误映射为统一响应
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, attempt.ErrNotAuthenticated):
		util.Unauthorized(ctx)
	case errors.Is(err, attempt.ErrExamNotFound),
		errors.Is(err, repository.ErrAttemptNotFound),
		errors.Is(err, util.ErrQuestionNotFound),
		errors.Is(err, util.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, attempt.ErrInvalidWindow),
		errors.Is(err, attempt.ErrGracePeriodExpired),
		errors.Is(err, model.ErrInvalidQuestion),
		errors.Is(err, util.ErrInvalidExam):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, attempt.ErrNoActiveAttempt),
		errors.Is(err, attempt.ErrTimeUp),
		errors.Is(err, repository.ErrAttemptFrozen),
		errors.Is(err, repository.ErrAttemptIDTaken),
		errors.Is(err, util.ErrEmailRegistered):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrResultsNotReleased),
		errors.Is(err, util.ErrUserDisabled):
		util.Error(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, util.ErrInvalidCredentials):
		util.Error(ctx, http.StatusUnauthorized, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}
