package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"cirsqu_api/internal/services"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps an error returned by a handler or service to an HTTP
// status, a stable code and a client-safe message.
func StatusFor(err error) (int, string, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(he.Code)
		}
		return he.Code, codeForStatus(he.Code), msg
	}

	var gwErr *services.GatewayError
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, services.ErrIntegrity):
		return http.StatusConflict, "integrity_error", "order state is inconsistent"
	case errors.Is(err, services.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	case errors.As(err, &gwErr) && gwErr.Timeout():
		return http.StatusGatewayTimeout, "gateway_timeout", "payment gateway timed out"
	case errors.Is(err, services.ErrGateway):
		return http.StatusBadGateway, "gateway_error", "payment gateway rejected the request"
	case errors.Is(err, services.ErrTransientStore):
		return http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"
	}
	return http.StatusInternalServerError, "internal_error", "internal server error"
}

func codeForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnprocessableEntity:
		return "validation_error"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	if code >= 500 {
		return "internal_error"
	}
	return "error"
}

// JSONErrorHandler renders every error as an ErrorResponse. Server-side
// failures are logged with the original error.
func JSONErrorHandler(log *logrus.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, errCode, msg := StatusFor(err)

		entry := log.WithFields(logrus.Fields{
			"method": c.Request().Method,
			"uri":    c.Request().RequestURI,
			"status": code,
		}).WithError(err)
		if code >= 500 {
			entry.Error("request failed")
		} else {
			entry.Debug("request rejected")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(code)
		} else {
			writeErr = c.JSON(code, ErrorResponse{Error: msg, Code: errCode})
		}
		if writeErr != nil {
			log.WithError(writeErr).Error("writing error response")
		}
	}
}
