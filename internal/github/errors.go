// internal/github/errors.go
package github

import (
	"errors"
	"fmt"
)

var (
	// ErrRepoNotFound indicates the repository was not found. GitHub also
	// returns 404 for private repositories the caller cannot see, so callers
	// must surface this as "needs token" rather than a hard not-found.
	ErrRepoNotFound = errors.New("github: repository not found")

	// ErrAccessDenied indicates the caller is not permitted to read the
	// repository with the credentials supplied.
	ErrAccessDenied = errors.New("github: access denied")
)

// InvalidURLError is returned when a repository URL does not contain a
// github.com/<owner>/<repo> segment.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid GitHub repository URL: %q, expected https://github.com/<owner>/<repo>", e.URL)
}

// APIError represents any other GitHub API error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: API error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error indicates a missing (or invisible)
// repository or path.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return errors.Is(err, ErrRepoNotFound)
}

// IsAccessDenied reports whether the error indicates an authorization failure.
func IsAccessDenied(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 401 || apiErr.StatusCode == 403
	}
	return errors.Is(err, ErrAccessDenied)
}
