package controld

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Class is the failure taxonomy every client call is sorted into.
type Class string

const (
	ClassPermission     Class = "permission"
	ClassAuthentication Class = "authentication"
	ClassAPI            Class = "api"
	ClassNetwork        Class = "network"
	ClassUnexpected     Class = "unexpected"
)

// PermissionDeniedCode is the error code Control D returns when a token is
// valid but not scoped for the profiles endpoint.
const PermissionDeniedCode = 40301

// ErrMalformedResponse marks a 2xx response whose body does not have the
// expected envelope shape.
var ErrMalformedResponse = errors.New("controld: unexpected response format")

// Error is a classified failure of a single API call.
type Error struct {
	Class  Class
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "controld: %s: %s error", e.Op, e.Class)
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf returns the class of err, or ClassUnexpected if err is not a
// classified *Error.
func ClassOf(err error) Class {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassUnexpected
}

type errorBody struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyStatus sorts a non-2xx response. The permission class only applies
// to the profiles endpoints, where Control D reports code 40301.
func classifyStatus(path string, status int, body []byte) Class {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if isProfilesPath(path) && errorCode(body) == PermissionDeniedCode {
			return ClassPermission
		}
		return ClassAuthentication
	}
	return ClassAPI
}

func isProfilesPath(path string) bool {
	return path == "/profiles" || strings.HasPrefix(path, "/profiles/")
}

func errorCode(body []byte) int {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || eb.Error == nil {
		return 0
	}
	return eb.Error.Code
}
