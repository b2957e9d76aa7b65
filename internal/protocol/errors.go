package protocol

import "fmt"

const (
	CodeMalformed      = "MALFORMED_MESSAGE"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeMissingMovieID = "MISSING_MOVIE_ID"
	CodeUpstream       = "UPSTREAM_FAILURE"
	CodeRateLimited    = "RATE_LIMITED"
)

// CodedError is a typed error used for stable wire and API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a CodedError for callers outside the package.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}
