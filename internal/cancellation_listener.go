// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package internal

import "context"

// CancellationListener turns a context cancellation into a callback, used
// to abort a blocked socket write whose caller gave up. Listen and
// StopListening pair up: StopListening blocks until the matching Listen
// call returns, so the callback can never fire after StopListening.
type CancellationListener struct {
	done chan struct{}
}

// NewCancellationListener constructs a CancellationListener.
func NewCancellationListener() *CancellationListener {
	return &CancellationListener{done: make(chan struct{})}
}

// Listen blocks until ctx is cancelled or StopListening is called. A
// cancelled (not merely expired) context invokes abortFn; either way Listen
// does not return until StopListening is called.
func (c *CancellationListener) Listen(ctx context.Context, abortFn func()) {
	select {
	case <-ctx.Done():
		if ctx.Err() == context.Canceled {
			abortFn()
		}
		<-c.done
	case <-c.done:
	}
}

// StopListening unblocks the in-progress Listen call and waits for it to
// return.
func (c *CancellationListener) StopListening() {
	c.done <- struct{}{}
}
