package registry

import "errors"

// ErrTimeout is returned by Wait when the configured reply timeout elapsed
// with no reply bytes arriving, measured from the wait start or, once a
// partial reply has been seen, from the latest partial arrival.
var ErrTimeout = errors.New("registry: reply timed out")

// ErrDropped is returned by Wait when the request was dropped out from
// under it, e.g. by a connection reset or recovery from a framing error.
var ErrDropped = errors.New("registry: request was dropped before a reply arrived")
