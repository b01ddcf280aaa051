package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danmuck/groundctl/internal/auth"
	"github.com/danmuck/groundctl/internal/link"
	"github.com/danmuck/groundctl/internal/params"
	"github.com/danmuck/groundctl/internal/session"
	"github.com/danmuck/groundctl/internal/store"
	"github.com/gin-gonic/gin"
)

var ErrStoreDisabled = errors.New("api: snapshot store is not configured")

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	var verr *params.ValidationError
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrMissingToken):
		return http.StatusUnauthorized
	case errors.As(err, &verr), errors.Is(err, link.ErrInvalidConfig), errors.Is(err, store.ErrEmptyName):
		return http.StatusBadRequest
	case errors.Is(err, params.ErrUnknownParam), errors.Is(err, store.ErrNotFound), errors.Is(err, ErrStoreDisabled):
		return http.StatusNotFound
	case errors.Is(err, params.ErrSetRejected), errors.Is(err, params.ErrSyncIncomplete):
		return http.StatusConflict
	case errors.Is(err, session.ErrProtocolTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, params.ErrClosed), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case link.IsConnectError(err), link.IsLinkError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// requireToken rejects mutating requests without a valid bearer token.
func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if err := auth.Check(v, c.GetHeader("Authorization")); err != nil {
			abort(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
