package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	commonlog "halo_server/server/common/log"
	"halo_server/server/common/transport/httpresp"
	"halo_server/server/halo/domain"
)

// statusFor maps a service error onto an HTTP status. Anything outside the
// domain taxonomy is a transient store failure.
func statusFor(err error) int {
	var inv *domain.InvariantError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.As(err, &inv):
		if inv.Reason == domain.ReasonAlreadyMember || inv.Reason == domain.ReasonAlreadyExists {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides store internals from 5xx responses.
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return httpresp.ErrInternal
	}
	return err.Error()
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		commonlog.Exceptionf("event=halo_http_request action=%s route=%s status=failed err=%v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, httpresp.NewErrorResponse(publicMessage(err, status)))
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
}
