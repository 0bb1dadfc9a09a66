// Package workflows holds the terminal conditions shared by the pipeline
// stages.
package workflows

import "errors"

// ErrCancelled is the distinct terminal of a user-cancelled workflow. It is
// not a generic failure: callers surface it as INTERRUPTED, not as an error
// report.
var ErrCancelled = errors.New("workflow cancelled")
