package utils

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
)

// BindRequest binds the request into T and runs its validate tags. Malformed
// bodies and failed rules are both reported as 400s carrying the reason. An
// empty body binds to the zero value, so optional run settings keep their
// defaults.
func BindRequest[T any](c echo.Context) (T, error) {
	var req T
	if err := c.Bind(&req); err != nil {
		var bindErr *echo.HTTPError
		if errors.As(err, &bindErr) {
			return req, httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid request body: %v", bindErr.Message)
		}
		return req, httperror.WrapError(http.StatusBadRequest, err)
	}

	req, err := Validate(req)
	if err != nil {
		return req, httperror.WrapError(http.StatusBadRequest, err)
	}
	return req, nil
}
