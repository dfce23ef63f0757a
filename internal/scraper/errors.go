package scraper

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPolicyDenied marks URLs disallowed by robots.txt. It is never retried.
	ErrPolicyDenied = errors.New("access denied by robots.txt")
	// ErrInvalidURL marks URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid url")
)

// FetchError reports a transport failure or a non-2xx response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the fetch may succeed.
func (e *FetchError) Temporary() bool {
	if e.StatusCode == 0 {
		return e.Err != nil
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
