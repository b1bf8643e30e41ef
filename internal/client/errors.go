package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrUnexpectedResult is returned when a procedure answers with a value of
// the wrong shape.
var ErrUnexpectedResult = errors.New("unexpected procedure result")

// PostgREST error code for "no rows" on a single object request.
const CodeNoRows = "PGRST116"

// APIError is a failed request to the data or storage API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d", e.Method, e.Path, e.Status)
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Details != "" {
		fmt.Fprintf(&b, " (%s)", e.Details)
	}
	return b.String()
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// StatusOf returns the HTTP status of an APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func decodeAPIError(req *http.Request, resp *http.Response) *APIError {
	e := &APIError{Method: req.Method, Path: req.URL.Path, Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) == 0 {
		e.Message = http.StatusText(resp.StatusCode)
		return e
	}

	// Storage errors use "error" and "statusCode" instead of "code".
	var body struct {
		Code       json.RawMessage `json:"code"`
		Message    string          `json:"message"`
		Details    string          `json:"details"`
		Hint       string          `json:"hint"`
		Error      string          `json:"error"`
		StatusCode string          `json:"statusCode"`
	}
	if json.Unmarshal(data, &body) != nil {
		e.Message = strings.TrimSpace(string(data))
		return e
	}
	var code string
	if json.Unmarshal(body.Code, &code) != nil && len(body.Code) > 0 {
		code = string(body.Code)
	}
	e.Code = code
	if e.Code == "" {
		e.Code = body.Error
	}
	e.Message = body.Message
	e.Details = body.Details
	e.Hint = body.Hint
	if e.Message == "" {
		e.Message = body.Error
	}
	return e
}
