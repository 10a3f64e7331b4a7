// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger is the driver's structured, component-scoped logger:
// messages are queued onto a buffered channel and printed by a dedicated
// goroutine, so a slow or blocking LogSink never stalls the connection
// engine's hot path. Component levels are configurable per-call or, failing
// that, from the MONGODB_LOG_* environment variables.
package logger

import (
	"os"
	"strconv"
	"strings"

	"github.com/mongowire/driver/bsoncore"
)

const jobBufferSize = 100
const logSinkPathEnvVar = "MONGODB_LOG_PATH"
const maxDocumentLengthEnvVar = "MONGODB_LOG_MAX_DOCUMENT_LENGTH"

// DefaultMaxDocumentLength is the default maximum length, in bytes, of a
// stringified BSON document embedded in a log message.
const DefaultMaxDocumentLength = 1000

// TruncationSuffix is appended to a truncated document string. It does not
// count toward the max document length.
const TruncationSuffix = "..."

// LogSink represents a logging implementation. It is a subset of
// go-logr/logr's LogSink interface so a caller's existing logr-compatible
// sink can be wired in directly.
type LogSink interface {
	Info(int, string, ...interface{})
}

type job struct {
	level Level
	msg   ComponentMessage
}

// Logger is the driver's logger. It queues messages onto an internal
// channel; call StartPrintListener once to drain it into Sink.
type Logger struct {
	ComponentLevels   map[Component]Level
	Sink              LogSink
	MaxDocumentLength uint

	jobs chan job
}

// New constructs a Logger. componentLevels, if non-nil, takes precedence
// over the MONGODB_LOG_* environment variables for any component it sets;
// components it leaves unset fall back to the environment.
func New(sink LogSink, maxDocumentLength uint, componentLevels map[Component]Level) *Logger {
	return &Logger{
		ComponentLevels: selectComponentLevels(componentLevels),

		MaxDocumentLength: selectMaxDocumentLength(maxDocumentLength),

		Sink: selectLogSink(sink),

		jobs: make(chan job, jobBufferSize),
	}
}

// Close stops the printer goroutine started by StartPrintListener.
func (l *Logger) Close() {
	close(l.jobs)
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues msg for printing at level. If the buffer is full, it makes
// one further non-blocking attempt to enqueue a CommandMessageDropped
// placeholder instead, and drops both if that finds no room either, so the
// caller never blocks on a stalled sink.
func (l *Logger) Print(level Level, msg ComponentMessage) {
	select {
	case l.jobs <- job{level, msg}:
	default:
		select {
		case l.jobs <- job{level, CommandMessageDropped{}}:
		default:
		}
	}
}

// StartPrintListener starts the goroutine that drains l.jobs into l.Sink.
func StartPrintListener(l *Logger) {
	go func() {
		for j := range l.jobs {
			if !l.Is(j.level, j.msg.Component()) || l.Sink == nil {
				continue
			}
			keysAndValues := formatMessage(j.msg.Serialize(), l.MaxDocumentLength)
			l.Sink.Info(int(j.level)-DiffToInfo, j.msg.Message(), keysAndValues...)
		}
	}()
}

func truncate(str string, width uint) string {
	if len(str) <= int(width) {
		return str
	}
	return str[:width] + TruncationSuffix
}

// formatMessage truncates any bsoncore.Document values (logged as their
// debug string) to MaxDocumentLength; every other value passes through.
func formatMessage(keysAndValues []interface{}, commandWidth uint) []interface{} {
	formatted := make([]interface{}, len(keysAndValues))
	for i := 0; i < len(keysAndValues); i += 2 {
		key := keysAndValues[i]
		val := keysAndValues[i+1]

		if doc, ok := val.(bsoncore.Document); ok {
			val = truncate(doc.String(), commandWidth)
		}

		formatted[i] = key
		formatted[i+1] = val
	}
	return formatted
}

func getEnvMaxDocumentLength() uint {
	max := os.Getenv(maxDocumentLengthEnvVar)
	if max == "" {
		return 0
	}
	maxUint, err := strconv.ParseUint(max, 10, 32)
	if err != nil {
		return 0
	}
	return uint(maxUint)
}

func selectMaxDocumentLength(arg uint) uint {
	if arg != 0 {
		return arg
	}
	if envLen := getEnvMaxDocumentLength(); envLen != 0 {
		return envLen
	}
	return DefaultMaxDocumentLength
}

const (
	logSinkPathStdout = "stdout"
	logSinkPathStderr = "stderr"
)

func getEnvLogSink() LogSink {
	path := os.Getenv(logSinkPathEnvVar)
	switch strings.ToLower(path) {
	case logSinkPathStderr:
		return newOSSink(os.Stderr)
	case logSinkPathStdout:
		return newOSSink(os.Stdout)
	}
	if path != "" {
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			return newOSSink(f)
		}
	}
	return nil
}

func selectLogSink(arg LogSink) LogSink {
	if arg != nil {
		return arg
	}
	if sink := getEnvLogSink(); sink != nil {
		return sink
	}
	return newOSSink(os.Stderr)
}

func getEnvComponentLevels() map[Component]Level {
	levels := make(map[Component]Level)
	globalLevel := ParseLevel(os.Getenv(string(componentEnvVarAll)))

	for _, envVar := range allComponentEnvVars {
		if envVar == componentEnvVarAll {
			continue
		}
		level := globalLevel
		if globalLevel == LevelOff {
			level = ParseLevel(os.Getenv(string(envVar)))
		}
		levels[envVar.component()] = level
	}
	return levels
}

// selectComponentLevels merges arg over the environment-derived defaults,
// arg taking priority for any component it sets.
func selectComponentLevels(arg map[Component]Level) map[Component]Level {
	selected := getEnvComponentLevels()
	for component, level := range arg {
		selected[component] = level
	}
	return selected
}
