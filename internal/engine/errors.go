package engine

import "errors"

// ErrStopped is returned when work is submitted to a stopped engine.
var ErrStopped = errors.New("engine: stopped")
