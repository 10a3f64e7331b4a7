// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// osSink is the default LogSink used when no custom sink is configured: it
// writes one line per message to the given writer via the standard library
// logger.
type osSink struct {
	logger *log.Logger
}

func newOSSink(w io.Writer) *osSink {
	return &osSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	s.logger.Print(formatLine(msg, keysAndValues))
}

func formatLine(msg string, keysAndValues []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return b.String()
}
