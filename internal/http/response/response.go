package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sullysaurus/venues/internal/pipeline"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}

// RespondKindedError maps an error's kind onto an HTTP status. Run failures
// are not errors at this layer; they surface as success:false results.
func RespondKindedError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrVenueBusy):
		RespondError(c, http.StatusConflict, "venue_busy", err)
	case errors.Is(err, pipeline.ErrRunNotFinished):
		RespondError(c, http.StatusConflict, "run_not_finished", err)
	case errkind.Is(err, errkind.InvalidInput):
		RespondError(c, http.StatusBadRequest, "invalid_input", err)
	case errkind.IsNotFound(err):
		RespondError(c, http.StatusNotFound, "not_found", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
