// Package jobs turns seeding requests into tracked, cancellable cache jobs.
package jobs

import "errors"

var (
	ErrLayerNotFound  = errors.New("layer not found")
	ErrInvalidRequest = errors.New("invalid cache job request")
	ErrDuplicateJob   = errors.New("job already registered")
	ErrClosed         = errors.New("job manager closed")
)
