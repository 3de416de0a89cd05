// Package apperr defines sentinel errors shared by the service layers.
package apperr

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
)
