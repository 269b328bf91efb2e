package repository

import "errors"

// ErrNotFound indicates a report or history entry was not located.
var ErrNotFound = errors.New("repository: not found")
