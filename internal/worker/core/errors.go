package core

import "errors"

// ErrTaskPanicked wraps a recovered panic from a supervised task.
var ErrTaskPanicked = errors.New("task panicked")
