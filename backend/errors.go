package backend

import "errors"

var (
	errClosed     = errors.New("backing store closed")
	errNoPath     = errors.New("backing path is required")
	errZeroSize   = errors.New("backing file is empty")
	errReadOnlyFS = errors.New("store opened read-only")
)
