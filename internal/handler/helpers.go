package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/middleware"
	"github.com/xxxsen/mkb/internal/pkg/errcode"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
	"github.com/xxxsen/mkb/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	return middleware.UserID(c)
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", middleware.RequestIDOf(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
	)
	code, msg := errorCode(err)
	switch code {
	case errcode.ErrInternal, errcode.ErrStorage, errcode.ErrIntegrity:
		logger.Error("request failed", zap.Error(err))
	default:
		logger.Warn("request rejected", zap.Error(err))
	}
	response.Error(c, code, msg)
}

// errorCode maps an error kind to its api code. Only validation and
// extraction messages are echoed to the caller.
func errorCode(err error) (int, string) {
	switch {
	case appErr.IsNotFound(err):
		return errcode.ErrNotFound, "not found"
	case appErr.IsConflict(err):
		return errcode.ErrConflict, "conflict"
	case appErr.IsValidation(err):
		if appErr.IsExtraction(err) {
			return errcode.ErrUnsupportedType, err.Error()
		}
		return errcode.ErrInvalid, err.Error()
	case appErr.IsExtraction(err):
		return errcode.ErrExtractionFailed, err.Error()
	case appErr.IsEmbeddingFailure(err):
		return errcode.ErrEmbeddingFailure, "embedding failed"
	case appErr.IsStorage(err):
		return errcode.ErrStorage, "storage error"
	case appErr.IsIntegrity(err):
		return errcode.ErrIntegrity, "integrity error"
	case err == appErr.ErrUnauthorized:
		return errcode.ErrUnauthorized, "unauthorized"
	case err == appErr.ErrForbidden:
		return errcode.ErrForbidden, "forbidden"
	default:
		return errcode.ErrInternal, "internal error"
	}
}
