// Package storage holds what the file storage backends have in common.
package storage

import "errors"

// ErrNotFound is returned by every backend when the requested file does not exist.
var ErrNotFound = errors.New("file not found")
