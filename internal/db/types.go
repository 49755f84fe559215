package db

import "errors"

// ErrNotFound is returned when a keyed record does not exist
var ErrNotFound = errors.New("record not found")
