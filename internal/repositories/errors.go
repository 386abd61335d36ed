package repositories

import "errors"

var (
	// ErrInvalidArgument is returned before any storage call when the caller passes unusable input.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrCorruptDocument marks a stored document that no longer decodes into its record type.
	ErrCorruptDocument = errors.New("repository: corrupt document")
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err carries a not-found RepositoryError.
func IsNotFound(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict RepositoryError.
func IsConflict(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsConflict()
}

// IsUnavailable reports whether err carries a transient RepositoryError.
func IsUnavailable(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsUnavailable()
}

func asRepositoryError(err error) (RepositoryError, bool) {
	var repoErr RepositoryError
	if err == nil || !errors.As(err, &repoErr) {
		return nil, false
	}
	return repoErr, true
}
