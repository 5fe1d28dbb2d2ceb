package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/ibam/learnsync/core"
	"github.com/ibam/learnsync/core/forms"
	"github.com/ibam/learnsync/core/progress"
)

const msgInvalidInput = "Invalid input"

var errHttpNotFound = echo.NewHTTPError(http.StatusNotFound, "Not found")

type (
	ErrorResponse struct {
		Error   string      `json:"error"`
		Details interface{} `json:"details,omitempty"`
	}

	// serverError names the failed operation in a 500 response.
	// It does not implement Cause so errors.Cause stops on it.
	serverError struct {
		message string
		err     error
	}
)

func newServerError(message string, err error) error {
	return &serverError{message: message, err: err}
}

func (e *serverError) Error() string {
	return e.message + ": " + e.err.Error()
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var resp ErrorResponse

		cause := errors.Cause(err)
		if cause == progress.ErrNotFound || cause == forms.ErrNotFound {
			cause = errHttpNotFound
		}

		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			if msg, ok := origErr.Message.(string); ok {
				resp.Error = msg
			} else {
				resp.Error = http.StatusText(code)
				resp.Details = origErr.Message
			}
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			resp = ErrorResponse{Error: msgInvalidInput, Details: fldErrs}
		case *core.ValidationError:
			code = http.StatusBadRequest
			resp.Error = msgInvalidInput
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				resp.Details = fldErrs
			} else {
				resp.Details = origErr.Error()
			}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			resp.Error = http.StatusText(code)
			var inner error = err
			if sErr, ok := origErr.(*serverError); ok {
				resp.Error = sErr.message
				resp.Details = errors.Cause(sErr.err).Error()
				inner = sErr.err
			}
			logger.Error(resp.Error, errors.Wrap(inner, resp.Error))

			// shutting down...
			if core.IsShutdown(inner) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			resp.Details = err.Error()
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
