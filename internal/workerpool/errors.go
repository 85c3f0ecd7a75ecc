package workerpool

import "errors"

// ErrClosed is delivered to a job's onDone callback if Submit is called
// after Close.
var ErrClosed = errors.New("workerpool: closed")
