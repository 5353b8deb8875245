// Package model holds the tile geometry and cache job vocabulary of the seeding engine.
package model

import "errors"

var (
	ErrInvalidRange       = errors.New("invalid tile range")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrZoomOutOfRange     = errors.New("zoom level out of range")
	ErrUnsupportedGridset = errors.New("unsupported gridset")
	ErrEmptyPyramid       = errors.New("empty tile pyramid")
)
