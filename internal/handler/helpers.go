package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/portalauth/internal/middleware"
	"github.com/xxxsen/portalauth/internal/pkg/errcode"
	appErr "github.com/xxxsen/portalauth/internal/pkg/errors"
	"github.com/xxxsen/portalauth/internal/pkg/response"
)

const errorPagePath = "/auth/error"

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("username", c.GetString(middleware.ContextUsernameKey)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrInvalidProvider):
		response.ErrorWithStatus(c, http.StatusBadRequest, errcode.ErrInvalidProvider, "unknown identity provider")
	case errors.Is(err, appErr.ErrUnauthorized):
		response.ErrorWithStatus(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
	case errors.Is(err, appErr.ErrForbidden):
		response.ErrorWithStatus(c, http.StatusForbidden, errcode.ErrForbidden, "forbidden")
	case errors.Is(err, appErr.ErrInvalid):
		response.ErrorWithStatus(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrTooMany):
		response.ErrorWithStatus(c, http.StatusTooManyRequests, errcode.ErrTooMany, "too many requests")
	case errors.Is(err, appErr.ErrUnavailable):
		response.ErrorWithStatus(c, http.StatusServiceUnavailable, errcode.ErrUnavailable, "service temporarily unavailable, please retry")
	case errors.Is(err, appErr.ErrIAM):
		response.ErrorWithStatus(c, http.StatusBadGateway, errcode.ErrIAM, "account service error, please retry")
	case appErr.IsNotFound(err):
		response.ErrorWithStatus(c, http.StatusNotFound, errcode.ErrNotFound, "not found")
	case appErr.IsConflict(err):
		response.ErrorWithStatus(c, http.StatusConflict, errcode.ErrConflict, "conflict")
	default:
		response.ErrorWithStatus(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}

// safeNext keeps only same-site absolute paths. Anything else, including
// protocol-relative "//host" forms, is replaced by fallback.
func safeNext(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return fallback
	}
	return raw
}
